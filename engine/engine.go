// Package engine wires together the identifier space, wire codec,
// transport, timer, response router, routing table, and value store into
// the public save/load façade of a Kademlia node. It dispatches every
// inbound datagram by message type, drives the four task state machines
// for outbound operations, and gates Save/Load behind bootstrap
// completion for a node constructed with an initial peer.
package engine

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/router"
	"github.com/opd-ai/kadcore/routing"
	"github.com/opd-ai/kadcore/store"
	"github.com/opd-ai/kadcore/task"
	"github.com/opd-ai/kadcore/timer"
	"github.com/opd-ai/kadcore/transport"
	"github.com/opd-ai/kadcore/wire"
	"github.com/sirupsen/logrus"
)

// Engine is one Kademlia DHT node: a local id, a routing table of known
// peers, a local value store, and the transport/timer/router plumbing
// that realizes the protocol. The zero value is not usable; construct
// with New.
type Engine struct {
	localID id.ID
	table   *routing.Table
	store   *store.Store
	timer   *timer.Timer
	router  *router.Router
	tr      *transport.Transport
	log     *logrus.Entry

	readyCh   chan struct{}
	readyOnce sync.Once

	bootstrapErrMu sync.Mutex
	bootstrapErr   error

	stopOnce sync.Once
	doneCh   chan struct{}
	waitErr  atomic.Value // error
}

// New constructs an Engine per opts. If opts.InitialPeer is empty, the
// engine is immediately initialized (the peerless, listen-only
// variant). Otherwise bootstrap runs asynchronously: Save/Load calls made
// before it completes are held pending (see Save, Load, Initialized).
func New(opts Options) (*Engine, error) {
	log := opts.logger().WithField("component", "engine")

	localID := id.Random()
	if opts.LocalID != nil {
		localID = *opts.LocalID
	}

	if err := validateListenAddrs(opts); err != nil {
		return nil, err
	}

	e := &Engine{
		localID: localID,
		table:   routing.New(localID, opts.bucketSize()),
		store:   store.New(),
		timer:   timer.New(),
		log:     log,
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	e.router = router.New(e.timer, log)

	tr, err := transport.New(opts.ListenV4, opts.ListenV6, e.handleDatagram, log)
	if err != nil {
		e.timer.Stop()
		return nil, err
	}
	e.tr = tr

	log.WithFields(logrus.Fields{"id": localID.String(), "listen_v4": opts.ListenV4, "listen_v6": opts.ListenV6}).Info("engine started")

	if opts.InitialPeer == "" {
		e.markReady()
		return e, nil
	}

	endpoints, err := transport.ResolveEndpoints(opts.InitialPeer)
	if err != nil {
		e.tr.Close()
		e.timer.Stop()
		return nil, err
	}

	go e.bootstrap(endpoints)
	return e, nil
}

func validateListenAddrs(opts Options) error {
	if opts.ListenV4 != "" {
		if _, err := net.ResolveUDPAddr("udp4", opts.ListenV4); err != nil {
			return ErrInvalidIPv4Address
		}
	}
	if opts.ListenV6 != "" {
		if _, err := net.ResolveUDPAddr("udp6", opts.ListenV6); err != nil {
			return ErrInvalidIPv6Address
		}
	}
	return nil
}

// LocalID returns this node's own identifier.
func (e *Engine) LocalID() id.ID { return e.localID }

// Log returns the engine's structured log entry, which the task state
// machines derive their own fields from.
func (e *Engine) Log() *logrus.Entry { return e.log }

// Table returns the engine's routing table.
func (e *Engine) Table() *routing.Table { return e.table }

// LocalAddrs returns every endpoint this node listens on.
func (e *Engine) LocalAddrs() []net.Addr {
	var out []net.Addr
	if a := e.tr.LocalAddrV4(); a != nil {
		out = append(out, a)
	}
	if a := e.tr.LocalAddrV6(); a != nil {
		out = append(out, a)
	}
	return out
}

// Initialized reports whether bootstrap (if any) has completed: the
// discover-neighbors task and every notify-peer bucket-refresh task have
// run to completion, or the engine was constructed peerless. It also
// reports true once a failed bootstrap has given up; Save and Load then
// report that bootstrap error.
func (e *Engine) Initialized() bool {
	select {
	case <-e.readyCh:
		return true
	default:
		return false
	}
}

func (e *Engine) markReady() {
	e.readyOnce.Do(func() { close(e.readyCh) })
}

func (e *Engine) setBootstrapErr(err error) {
	e.bootstrapErrMu.Lock()
	e.bootstrapErr = err
	e.bootstrapErrMu.Unlock()
}

func (e *Engine) getBootstrapErr() error {
	e.bootstrapErrMu.Lock()
	defer e.bootstrapErrMu.Unlock()
	return e.bootstrapErr
}

// bootstrap runs the discover-neighbors probe against endpoints and, on
// success, a notify-peer walk for every non-empty bucket, marking the
// engine ready once all of them complete.
func (e *Engine) bootstrap(endpoints []net.Addr) {
	task.NewDiscoverNeighbors(e, endpoints, func(err error) {
		if err != nil {
			e.log.WithField("error", err).Warn("bootstrap failed to reach initial peer")
			e.setBootstrapErr(err)
			e.markReady()
			return
		}

		buckets := e.table.NonEmptyBuckets()
		if len(buckets) == 0 {
			e.markReady()
			return
		}

		remaining := int32(len(buckets))
		for _, i := range buckets {
			target := e.localID.Flip(i)
			task.NewNotifyPeer(e, target, func() {
				if atomic.AddInt32(&remaining, -1) == 0 {
					e.log.Info("bootstrap complete: all buckets refreshed")
					e.markReady()
				}
			})
		}
	})
}

// Save hashes key to its id, writes value into the local store
// immediately (so the originating node always serves its own writes),
// then starts a store-value task to replicate it across
// the network. cb is invoked exactly once with nil on success or an
// error from the taxonomy otherwise. Save returns immediately; if the
// engine is still bootstrapping, the operation is held pending until
// initialization completes.
func (e *Engine) Save(key, value []byte, cb func(error)) {
	go func() {
		<-e.readyCh
		if err := e.getBootstrapErr(); err != nil {
			cb(err)
			return
		}
		keyID := id.FromKey(key)
		e.store.Put(keyID, value)
		task.NewStoreValue(e, keyID, value, cb)
	}()
}

// Load hashes key, checks the local store first, and short-circuits on a
// hit; otherwise it starts a find-value task. cb is invoked exactly once
// with the value and a nil error on success, or a nil value and an error
// (typically ErrValueNotFound) otherwise.
func (e *Engine) Load(key []byte, cb func(err error, value []byte)) {
	go func() {
		<-e.readyCh
		if err := e.getBootstrapErr(); err != nil {
			cb(err, nil)
			return
		}
		keyID := id.FromKey(key)
		if v, ok := e.store.Get(keyID); ok {
			cb(nil, v)
			return
		}
		task.NewFindValue(e, keyID, func(v []byte, err error) {
			cb(err, v)
		})
	}()
}

// Abort stops the reactor: both transport sockets are closed, the timer
// goroutine is released, and any in-flight reactor work is dropped
// without running its callbacks. Wait subsequently returns ErrRunAborted.
func (e *Engine) Abort() {
	e.stopOnce.Do(func() {
		e.waitErr.Store(ErrRunAborted)
		e.tr.Close()
		e.timer.Stop()
		close(e.doneCh)
	})
}

// Wait blocks until the reactor has stopped (via Abort) and returns
// ErrRunAborted.
func (e *Engine) Wait() error {
	<-e.doneCh
	if err, ok := e.waitErr.Load().(error); ok {
		return err
	}
	return ErrRunAborted
}

// handleDatagram is the transport's OnReceive callback: it runs
// synchronously on the receiving socket's goroutine, one reactor per
// socket. Every inbound datagram is
// decoded, its sender pushed into the routing table, and then dispatched
// either to the response router (for *_RESPONSE types) or to the
// matching request handler.
func (e *Engine) handleDatagram(data []byte, sender net.Addr) {
	msg, err := wire.Decode(data)
	if err != nil {
		e.log.WithFields(logrus.Fields{"sender": sender, "error": err}).Debug("dropping malformed datagram")
		return
	}

	e.table.Push(msg.Header.SourceID, sender)

	if msg.Header.Type.IsResponse() {
		if !e.router.Dispatch(sender, msg) {
			e.log.WithFields(logrus.Fields{"sender": sender, "token": msg.Header.RandomToken.String(), "type": msg.Header.Type}).Debug("unassociated response, dropping")
		}
		return
	}

	e.handleRequest(sender, msg)
}

func (e *Engine) handleRequest(sender net.Addr, msg wire.Message) {
	token := msg.Header.RandomToken

	switch msg.Header.Type {
	case wire.PingRequest:
		e.sendResponse(sender, wire.PingResponse, token, func(m *wire.Message) {
			m.PingResponse = &wire.PingResponseBody{}
		})

	case wire.StoreRequest:
		e.store.Put(msg.StoreRequest.KeyID, msg.StoreRequest.Value)

	case wire.FindPeerRequest:
		e.replyClosestPeers(sender, token, msg.FindPeerRequest.Target)

	case wire.FindValueRequest:
		if v, ok := e.store.Get(msg.FindValueRequest.Target); ok {
			e.sendResponse(sender, wire.FindValueResponse, token, func(m *wire.Message) {
				m.FindValueResponse = &wire.FindValueResponseBody{Value: v}
			})
			return
		}
		e.replyClosestPeers(sender, token, msg.FindValueRequest.Target)

	default:
		e.log.WithField("type", msg.Header.Type).Debug("unimplemented request type, dropping")
	}
}

func (e *Engine) replyClosestPeers(sender net.Addr, token id.ID, target id.ID) {
	closest := e.table.Closest(target, routing.K)
	peers := make([]wire.Peer, 0, len(closest))
	for _, p := range closest {
		udp, ok := p.Addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		peers = append(peers, wire.Peer{ID: p.ID, Address: wire.Address{IP: udp.IP, Port: uint16(udp.Port)}})
	}
	e.sendResponse(sender, wire.FindPeerResponse, token, func(m *wire.Message) {
		m.FindPeerResponse = &wire.FindPeerResponseBody{Peers: peers}
	})
}

// sendResponse builds and transmits a *_RESPONSE message carrying the
// request's own random_token, so the requester can correlate it.
func (e *Engine) sendResponse(dest net.Addr, respType wire.Type, token id.ID, attach func(*wire.Message)) {
	msg := wire.Message{Header: wire.Header{Type: respType, SourceID: e.localID, RandomToken: token}}
	attach(&msg)
	if err := e.tr.Send(wire.Encode(msg), dest); err != nil {
		e.log.WithFields(logrus.Fields{"dest": dest, "type": respType, "error": err}).Warn("failed to send response")
	}
}
