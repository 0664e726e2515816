package task

import (
	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/lookup"
)

// NewNotifyPeer starts a bucket-refresh FIND_PEER walk toward target (a
// synthetic id the engine computes to differ from the local id at one
// specific bucket's bit) and invokes onComplete once
// every in-flight request from the walk has resolved. The walk's only
// purpose is to make the local node known to whichever peers populate
// that bucket; its candidate outcomes are otherwise discarded.
func NewNotifyPeer(req Requester, target id.ID, onComplete func()) {
	log := taskLog(req, "notify-peer").WithField("target", target.String())
	set := seedCandidates(req, target)
	w := newPeerWalk(req, set, log, func(*lookup.Set) {
		log.Debug("bucket refresh walk complete")
		onComplete()
	})
	w.start()
}
