package routing

import (
	"net"
	"sync"
	"time"

	"github.com/opd-ai/kadcore/id"
)

// Status is a lightweight liveness hint used only to pick an eviction
// candidate when a bucket is full; it carries no other meaning.
type Status int

const (
	StatusUnknown Status = iota
	StatusGood
	StatusBad
)

// Peer is a known node: its id and the address it was last seen at.
type Peer struct {
	ID      id.ID
	Addr    net.Addr
	Status  Status
	Touched time.Time
}

// bucket holds up to K peers. Peers are appended at the tail on insert
// or touch, so index 0 is always the least-recently-touched entry, the
// one evicted when the bucket is full and no StatusBad entry offers a
// better victim.
type bucket struct {
	mu    sync.Mutex
	peers []*Peer
	max   int
}

func newBucket(max int) *bucket {
	return &bucket{max: max}
}

// push inserts or touches a peer. Returns true if the table now reflects
// this peer (inserted, updated, or bucket had room); false only when the
// bucket was full of live peers and no eviction candidate was found,
// which with the unconditional-oldest policy below never actually
// happens: push always succeeds once capacity is reached by evicting.
func (b *bucket) push(p Peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.peers {
		if existing.ID == p.ID {
			p.Touched = time.Now()
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			b.peers = append(b.peers, &p)
			return true
		}
	}

	if len(b.peers) < b.max {
		p.Touched = time.Now()
		b.peers = append(b.peers, &p)
		return true
	}

	// Full: prefer evicting a known-bad peer over the oldest good one.
	for i, existing := range b.peers {
		if existing.Status == StatusBad {
			p.Touched = time.Now()
			b.peers[i] = &p
			return true
		}
	}

	// No bad peer found: evict the oldest (index 0) entry.
	p.Touched = time.Now()
	b.peers = append(b.peers[1:], &p)
	return true
}

// snapshot returns a copy of the bucket's current peers.
func (b *bucket) snapshot() []Peer {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Peer, len(b.peers))
	for i, p := range b.peers {
		out[i] = *p
	}
	return out
}

func (b *bucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}
