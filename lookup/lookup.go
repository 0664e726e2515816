// Package lookup implements the shared candidate-set state machine that
// every iterative walk (find-value, store-value, notify-peer,
// discover-neighbors' successors) drives: a set of peers ordered by XOR
// distance to a target id, each tagged with a lifecycle state, plus the
// in-flight accounting needed to stay consistent across concurrent
// replies and timeouts.
package lookup

import (
	"net"
	"sort"
	"sync"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/routing"
)

// State is a candidate's position in the iterative-lookup lifecycle.
type State int

const (
	// StateUnknown candidates have never been sent a request.
	StateUnknown State = iota
	// StateContacted candidates have an outstanding request in flight.
	StateContacted
	// StateResponded candidates answered before their timeout.
	StateResponded
	// StateTimedOut candidates' request timed out; they may be retried up
	// to MaxAttempts times.
	StateTimedOut
)

// MaxAttempts bounds how many times a timed-out candidate may be
// re-contacted before it is excluded from further selection.
const MaxAttempts = 3

type candidate struct {
	peer     routing.Peer
	distance id.ID
	state    State
	attempts int
}

// Set is the candidate set for one iterative lookup toward Target. The
// zero value is not usable; construct with New.
type Set struct {
	mu       sync.Mutex
	target   id.ID
	local    []net.Addr // local endpoints, skipped when selecting
	byPeerID map[id.ID]*candidate
	inFlight int
}

// New creates an empty candidate set for a walk toward target. local lists
// the node's own listening endpoints, so that a candidate that happens to
// equal one of them (the local node discovered as a peer of itself) is
// never selected.
func New(target id.ID, local ...net.Addr) *Set {
	return &Set{
		target:   target,
		local:    local,
		byPeerID: make(map[id.ID]*candidate),
	}
}

// Target returns the id this set is searching toward.
func (s *Set) Target() id.ID { return s.target }

func (s *Set) isLocal(addr net.Addr) bool {
	if addr == nil {
		return false
	}
	for _, l := range s.local {
		if l != nil && l.String() == addr.String() {
			return true
		}
	}
	return false
}

// AddCandidates inserts new UNKNOWN candidates for peers not already
// present. Peers already known under the set (by id) are left untouched;
// the set tracks at most one entry per peer, which is equivalent to one
// entry per distance since distance is a pure function of the peer id and
// Target.
func (s *Set) AddCandidates(peers []routing.Peer) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, p := range peers {
		if _, exists := s.byPeerID[p.ID]; exists {
			continue
		}
		s.byPeerID[p.ID] = &candidate{
			peer:     p,
			distance: id.Distance(s.target, p.ID),
			state:    StateUnknown,
		}
		added++
	}
	return added
}

// sortedLocked returns every candidate in ascending distance-to-target
// order. Caller must hold s.mu.
func (s *Set) sortedLocked() []*candidate {
	out := make([]*candidate, 0, len(s.byPeerID))
	for _, c := range s.byPeerID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return id.Less(out[i].distance, out[j].distance)
	})
	return out
}

// SelectNewClosest returns up to max candidates in ascending distance
// order that are eligible for a fresh request: UNKNOWN candidates, plus
// TIMEDOUT candidates with fewer than MaxAttempts attempts so far. A
// candidate whose endpoint equals a local listening endpoint is skipped.
// Every candidate returned is marked CONTACTED and increments in_flight.
func (s *Set) SelectNewClosest(max int) []routing.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []routing.Peer
	for _, c := range s.sortedLocked() {
		if len(out) >= max {
			break
		}
		if s.isLocal(c.peer.Addr) {
			continue
		}
		eligible := c.state == StateUnknown ||
			(c.state == StateTimedOut && c.attempts < MaxAttempts)
		if !eligible {
			continue
		}
		c.state = StateContacted
		s.inFlight++
		out = append(out, c.peer)
	}
	return out
}

// SelectClosestValid returns up to max RESPONDED candidates in ascending
// distance order, the set of peers eligible for a STORE fan-out.
func (s *Set) SelectClosestValid(max int) []routing.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []routing.Peer
	for _, c := range s.sortedLocked() {
		if len(out) >= max {
			break
		}
		if c.state != StateResponded {
			continue
		}
		out = append(out, c.peer)
	}
	return out
}

// FlagValid marks peerID RESPONDED, decrements in_flight, and clears its
// attempt counter. It is a no-op if peerID is not a known candidate
// (e.g. a stray reply after the set has already been replaced).
func (s *Set) FlagValid(peerID id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byPeerID[peerID]
	if !ok {
		return
	}
	if c.state == StateContacted {
		s.inFlight--
	}
	c.state = StateResponded
	c.attempts = 0
}

// FlagInvalid marks peerID TIMEDOUT, decrements in_flight, and increments
// its attempt counter.
func (s *Set) FlagInvalid(peerID id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byPeerID[peerID]
	if !ok {
		return
	}
	if c.state == StateContacted {
		s.inFlight--
	}
	c.state = StateTimedOut
	c.attempts++
}

// InFlight returns the number of CONTACTED candidates that have not yet
// transitioned to RESPONDED or TIMEDOUT.
func (s *Set) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// AllRequestsCompleted reports whether in_flight is zero: every
// outstanding request for this set has either replied or timed out.
func (s *Set) AllRequestsCompleted() bool {
	return s.InFlight() == 0
}

// Len reports the total number of known candidates, for tests and
// diagnostics.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPeerID)
}
