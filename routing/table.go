package routing

import (
	"net"
	"sort"

	"github.com/opd-ai/kadcore/id"
)

// K is the bucket capacity and the response breadth for FIND_PEER.
const K = 20

// Table is the local node's Kademlia routing table: id.Bits k-buckets
// indexed by leading-zero-bit count of XOR distance to the local id. The
// local id itself is never stored.
type Table struct {
	self    id.ID
	buckets [id.Bits]*bucket
}

// New creates a routing table for the given local id, with each bucket
// bounded to k entries.
func New(self id.ID, k int) *Table {
	t := &Table{self: self}
	for i := range t.buckets {
		t.buckets[i] = newBucket(k)
	}
	return t
}

// Self returns the local id this table is organized around.
func (t *Table) Self() id.ID { return t.self }

func (t *Table) bucketIndex(peerID id.ID) int {
	return id.Distance(t.self, peerID).LeadingZeroBits()
}

// Push inserts addr under peerID if peerID differs from the local id;
// duplicate ids are treated as a liveness touch, moving the entry to the
// tail of its bucket. Returns false only when peerID equals the local id
// (the one invariant Push enforces: the local id is never stored).
func (t *Table) Push(peerID id.ID, addr net.Addr) bool {
	if peerID == t.self {
		return false
	}
	idx := t.bucketIndex(peerID)
	return t.buckets[idx].push(Peer{ID: peerID, Addr: addr, Status: StatusGood})
}

// Iterator yields peers in ascending distance-to-target order. Obtain one
// via Table.Find; the zero value is not usable.
type Iterator struct {
	peers []Peer
	pos   int
}

// Next returns the next-closest peer and true, or the zero Peer and false
// once the iterator is exhausted.
func (it *Iterator) Next() (Peer, bool) {
	if it.pos >= len(it.peers) {
		return Peer{}, false
	}
	p := it.peers[it.pos]
	it.pos++
	return p, true
}

// Remaining reports how many peers Next has not yet yielded.
func (it *Iterator) Remaining() int {
	return len(it.peers) - it.pos
}

// Find returns an Iterator over every known peer, ordered by ascending
// XOR distance to target; equal distances (only possible with colliding
// ids) tie-break by touch recency, oldest first, matching insertion
// order. Internally this starts by reading the bucket that would contain
// target's own distance from the local id and spirals outward before
// collecting the remaining buckets, then sorts the full result. The
// spiral keeps the common case (looking for someone already near that
// bucket) touching few locks first, while the final sort guarantees the
// distance ordering holds regardless of bucket layout.
func (t *Table) Find(target id.ID) *Iterator {
	center := id.Distance(t.self, target).LeadingZeroBits()

	order := make([]int, 0, len(t.buckets))
	order = append(order, center)
	for offset := 1; center-offset >= 0 || center+offset < len(t.buckets); offset++ {
		if center-offset >= 0 {
			order = append(order, center-offset)
		}
		if center+offset < len(t.buckets) {
			order = append(order, center+offset)
		}
	}

	var peers []Peer
	for _, idx := range order {
		peers = append(peers, t.buckets[idx].snapshot()...)
	}

	sort.SliceStable(peers, func(i, j int) bool {
		di := id.Distance(target, peers[i].ID)
		dj := id.Distance(target, peers[j].ID)
		if di == dj {
			return peers[i].Touched.Before(peers[j].Touched)
		}
		return id.Less(di, dj)
	})

	return &Iterator{peers: peers}
}

// Closest is a convenience wrapper over Find that returns up to count
// peers closest to target, the shape FIND_PEER_REQUEST handling needs to
// reply with the closest peers it knows to a requested id.
func (t *Table) Closest(target id.ID, count int) []Peer {
	it := t.Find(target)
	out := make([]Peer, 0, count)
	for len(out) < count {
		p, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}

// NonEmptyBuckets returns the indices of every bucket currently holding at
// least one peer, the set notify-peer bootstrap refresh iterates over.
func (t *Table) NonEmptyBuckets() []int {
	var out []int
	for i, b := range t.buckets {
		if b.len() > 0 {
			out = append(out, i)
		}
	}
	return out
}

// Snapshot returns every known peer across all buckets, in no particular
// order.
func (t *Table) Snapshot() []Peer {
	var out []Peer
	for _, b := range t.buckets {
		out = append(out, b.snapshot()...)
	}
	return out
}
