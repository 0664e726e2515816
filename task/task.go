// Package task implements the four iterative-walk state machines of the
// protocol: discover-neighbors (one-shot bootstrap probe), find-value and
// store-value (alpha-concurrent FIND_PEER/FIND_VALUE walks), and
// notify-peer (per-bucket refresh walk). Each task is an owned state
// object shared by the callbacks registered for its pending RPCs; it is
// destroyed once its caller handler has run and every outstanding request
// callback has been consumed. Neither the engine nor the routing table
// ever holds a task reference, so task lifetimes cannot form cycles.
package task

import (
	"net"
	"time"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/lookup"
	"github.com/opd-ai/kadcore/routing"
	"github.com/opd-ai/kadcore/wire"
	"github.com/sirupsen/logrus"
)

// Protocol tuning parameters.
const (
	// Alpha is the lookup concurrency: number of parallel in-flight
	// requests per iterative step.
	Alpha = 3
	// RedundantSaveCount is the number of STORE replicas per save.
	RedundantSaveCount = 3
	// PeerLookupTimeout bounds a single FIND_PEER/FIND_VALUE hop.
	PeerLookupTimeout = 20 * time.Millisecond
	// InitialContactReceiveTimeout bounds a single bootstrap probe.
	InitialContactReceiveTimeout = 1 * time.Second
)

// Requester is the engine's contract with the task state machines: the
// minimal set of operations a task needs to drive its walk without
// holding a reference to the engine itself. Tasks depend on this narrow
// interface, not on the engine type, so there is no import cycle and no
// task handle ever leaks into engine state.
type Requester interface {
	// LocalID returns the engine's own node id, used as the discover-
	// neighbors target. Candidate sets exclude self by endpoint, through
	// LocalAddrs, not by id.
	LocalID() id.ID
	// Table returns the engine's routing table, consulted for the
	// initial candidate set of every walk.
	Table() *routing.Table
	// LocalAddrs returns every endpoint this node listens on, so a
	// candidate matching one of them is never selected.
	LocalAddrs() []net.Addr
	// Log returns the engine's structured log entry; tasks derive their
	// own component/op fields from it.
	Log() *logrus.Entry
	// SendRequest transmits a request of the given type toward addr and
	// registers onReply/onError with the response router under a fresh
	// random token, armed for ttl. onReply receives the raw decoded
	// message so callers can branch on its actual type: a
	// FIND_VALUE_REQUEST may legitimately draw back either a
	// FIND_PEER_RESPONSE or a FIND_VALUE_RESPONSE.
	SendRequest(addr net.Addr, msgType wire.Type, body interface{}, ttl time.Duration, onReply func(sender net.Addr, msg wire.Message), onError func(error))
	// SendFireAndForget transmits a request with no response expected
	// (the STORE fan-out).
	SendFireAndForget(addr net.Addr, msgType wire.Type, body interface{}) error
}

// fromWirePeers converts the wire.Peer records a FIND_PEER_RESPONSE
// carries into the routing.Peer shape candidate sets and the routing
// table consume, sparing every task from repeating the conversion.
func fromWirePeers(peers []wire.Peer) []routing.Peer {
	out := make([]routing.Peer, 0, len(peers))
	for _, p := range peers {
		out = append(out, routing.Peer{
			ID:   p.ID,
			Addr: &net.UDPAddr{IP: p.Address.IP, Port: int(p.Address.Port)},
		})
	}
	return out
}

// taskLog derives the structured entry a task logs its lifecycle
// transitions through.
func taskLog(req Requester, op string) *logrus.Entry {
	return req.Log().WithFields(logrus.Fields{"component": "task", "op": op})
}

// seedCandidates pulls up to routing.K known peers closest to target from
// the routing table to seed a fresh candidate set.
func seedCandidates(req Requester, target id.ID) *lookup.Set {
	set := lookup.New(target, req.LocalAddrs()...)
	set.AddCandidates(req.Table().Closest(target, routing.K))
	return set
}
