package task

import (
	"net"
	"sync"

	"github.com/opd-ai/kadcore/wire"
	"github.com/sirupsen/logrus"
)

// DiscoverNeighborsCallback is invoked exactly once, with nil on a
// successful bootstrap probe or ErrInitialPeerFailedToRespond once every
// candidate endpoint has been exhausted.
type DiscoverNeighborsCallback func(err error)

// DiscoverNeighborsTask is the one-shot bootstrap probe that seeds the
// routing table from a single initial peer. The
// initial peer may resolve to several candidate endpoints (IPv4, IPv6,
// multiple A/AAAA records); this task tries them one at a time from the
// tail of the list until one answers or the list is exhausted.
type DiscoverNeighborsTask struct {
	req       Requester
	endpoints []net.Addr
	cb        DiscoverNeighborsCallback
	log       *logrus.Entry

	mu   sync.Mutex
	done bool
}

// NewDiscoverNeighbors starts the probe against endpoints (ordered so the
// first candidate to try is endpoints[len-1], popped from the tail) and
// returns the owning task.
func NewDiscoverNeighbors(req Requester, endpoints []net.Addr, cb DiscoverNeighborsCallback) *DiscoverNeighborsTask {
	t := &DiscoverNeighborsTask{req: req, endpoints: endpoints, cb: cb, log: taskLog(req, "discover-neighbors")}
	t.log.WithField("endpoints", len(endpoints)).Info("probing initial peer")
	t.tryNext()
	return t
}

func (t *DiscoverNeighborsTask) tryNext() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	if len(t.endpoints) == 0 {
		t.done = true
		t.mu.Unlock()
		t.log.Warn("initial peer failed to respond on every endpoint")
		t.cb(ErrInitialPeerFailedToRespond)
		return
	}
	addr := t.endpoints[len(t.endpoints)-1]
	t.endpoints = t.endpoints[:len(t.endpoints)-1]
	t.mu.Unlock()

	t.log.WithField("peer", addr.String()).Debug("contacting initial peer endpoint")
	t.req.SendRequest(
		addr, wire.FindPeerRequest, &wire.FindPeerRequestBody{Target: t.req.LocalID()}, InitialContactReceiveTimeout,
		func(sender net.Addr, msg wire.Message) { t.onReply(msg) },
		func(err error) {
			t.log.WithFields(logrus.Fields{"peer": addr.String(), "error": err}).Debug("endpoint did not answer, trying next")
			t.tryNext()
		},
	)
}

func (t *DiscoverNeighborsTask) onReply(msg wire.Message) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	if msg.Header.Type != wire.FindPeerResponse {
		t.mu.Unlock()
		t.log.WithField("type", msg.Header.Type).Debug("unexpected response type, trying next endpoint")
		t.tryNext()
		return
	}
	t.done = true
	t.mu.Unlock()

	for _, p := range msg.FindPeerResponse.Peers {
		t.req.Table().Push(p.ID, &net.UDPAddr{IP: p.Address.IP, Port: int(p.Address.Port)})
	}
	t.log.WithField("peers", len(msg.FindPeerResponse.Peers)).Info("initial peer responded, routing table seeded")
	t.cb(nil)
}
