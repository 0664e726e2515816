// Package router implements the response router: a thread-safe map from
// random_token to a pending callback pair, armed with a per-entry timeout.
// Exactly one of on_reply or on_error runs for each registered token
// (never both, never neither), with the race between an arriving reply
// and an expiring timeout resolved by whichever side removes the entry
// first.
package router

import (
	"net"
	"sync"
	"time"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/timer"
	"github.com/opd-ai/kadcore/wire"
	"github.com/sirupsen/logrus"
)

// OnReply is invoked when a response carrying the registered token
// arrives before the timeout.
type OnReply func(sender net.Addr, msg wire.Message)

// OnError is invoked when the timeout elapses before any response
// carrying the registered token arrives.
type OnError func(err error)

type pending struct {
	onReply OnReply
	onError OnError
	cancel  timer.Cancel
}

// Router correlates inbound responses with the outbound requests that
// produced them.
type Router struct {
	mu      sync.Mutex
	pending map[id.ID]*pending
	timer   *timer.Timer
	log     *logrus.Entry
}

// New creates a Router driven by the given Timer. The Router does not own
// the Timer's lifecycle; the caller stops it.
func New(tm *timer.Timer, log *logrus.Entry) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{
		pending: make(map[id.ID]*pending),
		timer:   tm,
		log:     log.WithField("component", "router"),
	}
}

// Register arms a pending entry for token, to run onReply if a matching
// response arrives within ttl, or onError(timed out) otherwise. Callers
// must mint a fresh, unique token (id.Random()) for every outbound
// request; Register does not itself enforce uniqueness since the request
// path already guarantees every token is globally unique within its
// lifetime.
func (r *Router) Register(token id.ID, ttl time.Duration, onReply OnReply, onError OnError) {
	p := &pending{onReply: onReply, onError: onError}

	r.mu.Lock()
	r.pending[token] = p
	r.mu.Unlock()

	cancel := r.timer.ExpiresFromNow(ttl, func() {
		if r.remove(token) {
			r.log.WithField("token", token.String()).Debug("request timed out")
			onError(ErrTimedOut)
		}
	})

	// Store the timer handle under the lock: with a zero or near-zero ttl
	// the timeout can fire before this point, and a reply can consume the
	// entry concurrently. If the entry is already gone, release the timer
	// handle here instead.
	r.mu.Lock()
	if cur, ok := r.pending[token]; ok && cur == p {
		p.cancel = cancel
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	cancel()
}

// Dispatch looks up the token in msg.Header.RandomToken. If a pending
// entry exists, it is removed and its onReply is invoked with sender and
// msg, and Dispatch returns true. If no entry exists (already timed out,
// already replied, or never registered), Dispatch returns false and the
// caller should treat the message as an unassociated response
// (ErrUnassociatedMessageID).
func (r *Router) Dispatch(sender net.Addr, msg wire.Message) bool {
	token := msg.Header.RandomToken
	r.mu.Lock()
	p, ok := r.pending[token]
	var cancel timer.Cancel
	if ok {
		delete(r.pending, token)
		cancel = p.cancel
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if cancel != nil {
		cancel()
	}
	p.onReply(sender, msg)
	return true
}

// Cancel removes the pending entry for token, if any, without invoking
// either callback, and releases its timer. Callers use this to undo a
// Register when they discover, before any reply or timeout, that the
// request can never be answered (e.g. the send itself failed), so that
// neither callback fires twice.
func (r *Router) Cancel(token id.ID) bool {
	r.mu.Lock()
	var cancel timer.Cancel
	p, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
		cancel = p.cancel
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return ok
}

// remove deletes the pending entry for token if it is still present,
// reporting whether it removed anything. This is the timeout-side half of
// the reply/timeout race.
func (r *Router) remove(token id.ID) bool {
	r.mu.Lock()
	_, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	r.mu.Unlock()
	return ok
}

// Pending reports the number of currently outstanding registrations, for
// tests and diagnostics.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
