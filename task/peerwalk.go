package task

import (
	"net"
	"sync"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/lookup"
	"github.com/opd-ai/kadcore/wire"
	"github.com/sirupsen/logrus"
)

// peerWalk is the iterative FIND_PEER walk shared by store-value's first
// phase and notify-peer: select up to Alpha new candidates, send
// FIND_PEER to each, fold replies into the candidate set, and repeat
// until a step selects nothing new and every outstanding request has
// resolved. It is not used by find-value, which must also recognize
// FIND_VALUE_RESPONSE and so drives its own loop in findvalue.go.
type peerWalk struct {
	req Requester
	set *lookup.Set
	log *logrus.Entry

	mu   sync.Mutex
	done bool

	onDone func(*lookup.Set)
}

func newPeerWalk(req Requester, set *lookup.Set, log *logrus.Entry, onDone func(*lookup.Set)) *peerWalk {
	return &peerWalk{req: req, set: set, log: log, onDone: onDone}
}

func (w *peerWalk) start() {
	w.step()
}

// step selects the next batch of candidates and fires a request to each.
// If nothing new was selected and no requests remain in flight, the walk
// is over and onDone runs exactly once.
func (w *peerWalk) step() {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	selected := w.set.SelectNewClosest(Alpha)
	if len(selected) == 0 {
		if !w.set.AllRequestsCompleted() {
			w.mu.Unlock()
			return
		}
		w.done = true
		w.mu.Unlock()
		w.log.Debug("walk converged, no closer peers to contact")
		w.onDone(w.set)
		return
	}
	w.mu.Unlock()

	w.log.WithField("contacted", len(selected)).Debug("walk step")
	for _, p := range selected {
		p := p
		w.req.SendRequest(
			p.Addr, wire.FindPeerRequest, &wire.FindPeerRequestBody{Target: w.set.Target()}, PeerLookupTimeout,
			func(sender net.Addr, msg wire.Message) { w.onReply(p.ID, msg) },
			func(err error) { w.onError(p.ID) },
		)
	}
}

func (w *peerWalk) onReply(peerID id.ID, msg wire.Message) {
	if msg.Header.Type != wire.FindPeerResponse {
		// A FIND_PEER_REQUEST answered with anything else is an
		// unexpected response; treat it like a timeout so the walk keeps
		// making progress instead of stalling on a byzantine peer.
		w.log.WithFields(logrus.Fields{"peer": peerID.String(), "type": msg.Header.Type}).Debug("unexpected response type, flagging peer invalid")
		w.set.FlagInvalid(peerID)
		w.step()
		return
	}
	w.set.FlagValid(peerID)
	w.set.AddCandidates(fromWirePeers(msg.FindPeerResponse.Peers))
	w.step()
}

func (w *peerWalk) onError(peerID id.ID) {
	w.log.WithField("peer", peerID.String()).Debug("peer did not answer in time")
	w.set.FlagInvalid(peerID)
	w.step()
}
