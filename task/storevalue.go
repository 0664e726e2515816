package task

import (
	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/lookup"
	"github.com/opd-ai/kadcore/wire"
	"github.com/sirupsen/logrus"
)

// StoreValueCallback is invoked exactly once: with nil once the STORE
// fan-out has been sent, or with ErrMissingPeers when no peer responded.
// Per-peer send errors of the fan-out are not reported.
type StoreValueCallback func(err error)

// StoreValueTask drives a save: a FIND_PEER walk to locate the
// closest reachable peers to the key, followed by a fire-and-forget
// STORE fan-out to up to RedundantSaveCount of them. The engine is
// responsible for writing the value into its own local store at the
// moment Save is called, independent of this task's outcome.
type StoreValueTask struct {
	req   Requester
	keyID id.ID
	value []byte
	cb    StoreValueCallback
	log   *logrus.Entry
	walk  *peerWalk
}

// NewStoreValue starts a store-value walk for keyID/value and returns the
// owning task.
func NewStoreValue(req Requester, keyID id.ID, value []byte, cb StoreValueCallback) *StoreValueTask {
	t := &StoreValueTask{
		req:   req,
		keyID: keyID,
		value: value,
		cb:    cb,
		log:   taskLog(req, "store-value").WithField("key", keyID.String()),
	}
	set := seedCandidates(req, keyID)
	t.log.WithField("candidates", set.Len()).Debug("locating closest peers for replication")
	t.walk = newPeerWalk(req, set, t.log, t.replicate)
	t.walk.start()
	return t
}

// replicate is phase 2: take up to RedundantSaveCount RESPONDED
// candidates from the completed walk and STORE to each.
func (t *StoreValueTask) replicate(set *lookup.Set) {
	targets := set.SelectClosestValid(RedundantSaveCount)
	if len(targets) == 0 {
		t.log.Warn("no responsive peers to replicate to")
		t.cb(ErrMissingPeers)
		return
	}

	t.log.WithField("replicas", len(targets)).Info("replicating value")
	for _, p := range targets {
		// Fire-and-forget: no ack is expected at this layer, so a
		// per-peer send failure does not change the task's outcome.
		_ = t.req.SendFireAndForget(p.Addr, wire.StoreRequest, &wire.StoreRequestBody{KeyID: t.keyID, Value: t.value})
	}
	t.cb(nil)
}
