package task

import (
	"net"
	"sync"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/lookup"
	"github.com/opd-ai/kadcore/wire"
	"github.com/sirupsen/logrus"
)

// FindValueCallback is invoked exactly once: either with the value found
// and a nil error, or with a nil value and a non-nil error.
type FindValueCallback func(value []byte, err error)

// FindValueTask drives the iterative FIND_VALUE walk.
// Unlike peerWalk, every reply must be inspected for its actual response
// type: a peer answering FIND_VALUE_REQUEST may come back with either
// FIND_PEER_RESPONSE (it doesn't hold the value, here are closer peers)
// or FIND_VALUE_RESPONSE (it holds the value).
type FindValueTask struct {
	req Requester
	set *lookup.Set
	cb  FindValueCallback
	log *logrus.Entry

	mu       sync.Mutex
	notified bool
}

// NewFindValue starts a find-value walk toward target and returns the
// owning task. The task needs no further driving from the caller; it
// runs to completion entirely from RPC callbacks.
func NewFindValue(req Requester, target id.ID, cb FindValueCallback) *FindValueTask {
	t := &FindValueTask{
		req: req,
		set: seedCandidates(req, target),
		cb:  cb,
		log: taskLog(req, "find-value").WithField("target", target.String()),
	}
	t.log.WithField("candidates", t.set.Len()).Debug("starting find-value walk")
	t.step()
	return t
}

func (t *FindValueTask) notify(value []byte, err error) {
	t.mu.Lock()
	if t.notified {
		t.mu.Unlock()
		return
	}
	t.notified = true
	t.mu.Unlock()
	t.cb(value, err)
}

func (t *FindValueTask) isNotified() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notified
}

func (t *FindValueTask) step() {
	if t.isNotified() {
		return
	}
	selected := t.set.SelectNewClosest(Alpha)
	if len(selected) == 0 {
		if t.set.AllRequestsCompleted() {
			t.log.Debug("walk exhausted, no peer holds the value")
			t.notify(nil, ErrValueNotFound)
		}
		return
	}

	for _, p := range selected {
		p := p
		t.req.SendRequest(
			p.Addr, wire.FindValueRequest, &wire.FindValueRequestBody{Target: t.set.Target()}, PeerLookupTimeout,
			func(sender net.Addr, msg wire.Message) { t.onReply(p.ID, msg) },
			func(err error) { t.onError(p.ID) },
		)
	}
}

func (t *FindValueTask) onReply(peerID id.ID, msg wire.Message) {
	if t.isNotified() {
		return
	}

	switch msg.Header.Type {
	case wire.FindPeerResponse:
		t.set.FlagValid(peerID)
		t.set.AddCandidates(fromWirePeers(msg.FindPeerResponse.Peers))
		t.step()
	case wire.FindValueResponse:
		t.set.FlagValid(peerID)
		value := append([]byte(nil), msg.FindValueResponse.Value...)
		t.log.WithFields(logrus.Fields{"peer": peerID.String(), "bytes": len(value)}).Debug("peer returned the value")
		t.notify(value, nil)
	default:
		// Any other response type to a FIND_VALUE_REQUEST is malformed
		// for this RPC; drop it and treat the candidate as unreachable.
		t.log.WithFields(logrus.Fields{"peer": peerID.String(), "type": msg.Header.Type}).Debug("unexpected response type, flagging peer invalid")
		t.set.FlagInvalid(peerID)
		t.step()
	}
}

func (t *FindValueTask) onError(peerID id.ID) {
	if t.isNotified() {
		return
	}
	t.log.WithField("peer", peerID.String()).Debug("peer did not answer in time")
	t.set.FlagInvalid(peerID)
	t.step()
}
