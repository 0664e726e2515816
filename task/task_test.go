package task

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/routing"
	"github.com/opd-ai/kadcore/wire"
	"github.com/sirupsen/logrus"
)

type sentCall struct {
	addr    net.Addr
	msgType wire.Type
	body    interface{}
	onReply func(net.Addr, wire.Message)
	onError func(error)
}

type fakeRequester struct {
	mu         sync.Mutex
	localID    id.ID
	table      *routing.Table
	localAddrs []net.Addr
	sent       []*sentCall
	fired      []*sentCall
}

func newFakeRequester(t *testing.T) *fakeRequester {
	t.Helper()
	self := id.Random()
	return &fakeRequester{
		localID: self,
		table:   routing.New(self, routing.K),
	}
}

func (f *fakeRequester) LocalID() id.ID         { return f.localID }
func (f *fakeRequester) Table() *routing.Table  { return f.table }
func (f *fakeRequester) LocalAddrs() []net.Addr { return f.localAddrs }

func (f *fakeRequester) Log() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func (f *fakeRequester) SendRequest(addr net.Addr, msgType wire.Type, body interface{}, ttl time.Duration, onReply func(net.Addr, wire.Message), onError func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, &sentCall{addr: addr, msgType: msgType, body: body, onReply: onReply, onError: onError})
}

func (f *fakeRequester) SendFireAndForget(addr net.Addr, msgType wire.Type, body interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, &sentCall{addr: addr, msgType: msgType, body: body})
	return nil
}

func (f *fakeRequester) lastSent() *sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeRequester) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func mustUDPAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("ResolveUDPAddr(%q): %v", s, err)
	}
	return addr
}

func findValueHeader(srcID id.ID, typ wire.Type) wire.Header {
	return wire.Header{Type: typ, SourceID: srcID, RandomToken: id.Random()}
}

func TestFindValueTaskSucceedsOnFindValueResponse(t *testing.T) {
	fr := newFakeRequester(t)
	peer := routing.Peer{ID: id.Random(), Addr: mustUDPAddr(t, "127.0.0.1:1")}
	fr.table.Push(peer.ID, peer.Addr)

	var gotValue []byte
	var gotErr error
	done := make(chan struct{})
	NewFindValue(fr, id.Random(), func(v []byte, err error) {
		gotValue, gotErr = v, err
		close(done)
	})

	if fr.sentCount() != 1 {
		t.Fatalf("sentCount: got %d, want 1", fr.sentCount())
	}
	call := fr.lastSent()
	call.onReply(peer.Addr, wire.Message{
		Header:            findValueHeader(peer.ID, wire.FindValueResponse),
		FindValueResponse: &wire.FindValueResponseBody{Value: []byte("the value")},
	})

	<-done
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if string(gotValue) != "the value" {
		t.Fatalf("got value %q, want %q", gotValue, "the value")
	}
}

func TestFindValueTaskFollowsFindPeerResponse(t *testing.T) {
	fr := newFakeRequester(t)
	seed := routing.Peer{ID: id.Random(), Addr: mustUDPAddr(t, "127.0.0.1:1")}
	fr.table.Push(seed.ID, seed.Addr)
	closer := routing.Peer{ID: id.Random(), Addr: mustUDPAddr(t, "127.0.0.1:2")}

	var gotErr error
	done := make(chan struct{})
	NewFindValue(fr, id.Random(), func(v []byte, err error) {
		gotErr = err
		close(done)
	})

	first := fr.lastSent()
	first.onReply(seed.Addr, wire.Message{
		Header: findValueHeader(seed.ID, wire.FindPeerResponse),
		FindPeerResponse: &wire.FindPeerResponseBody{Peers: []wire.Peer{
			{ID: closer.ID, Address: wire.Address{IP: net.ParseIP("127.0.0.1"), Port: 2}},
		}},
	})

	if fr.sentCount() != 2 {
		t.Fatalf("sentCount after FindPeerResponse: got %d, want 2", fr.sentCount())
	}
	second := fr.lastSent()
	second.onReply(closer.Addr, wire.Message{
		Header:            findValueHeader(closer.ID, wire.FindValueResponse),
		FindValueResponse: &wire.FindValueResponseBody{Value: []byte("found it")},
	})

	<-done
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
}

func TestFindValueTaskNotFoundAfterExhaustingRetries(t *testing.T) {
	fr := newFakeRequester(t)
	peer := routing.Peer{ID: id.Random(), Addr: mustUDPAddr(t, "127.0.0.1:1")}
	fr.table.Push(peer.ID, peer.Addr)

	var gotErr error
	done := make(chan struct{})
	NewFindValue(fr, id.Random(), func(v []byte, err error) {
		gotErr = err
		close(done)
	})

	for i := 0; i < 3; i++ {
		call := fr.lastSent()
		call.onError(ErrValueNotFound) // content of the error is irrelevant to onError
	}

	<-done
	if gotErr != ErrValueNotFound {
		t.Fatalf("got %v, want ErrValueNotFound", gotErr)
	}
}

func TestFindValueTaskInvokesCallbackExactlyOnce(t *testing.T) {
	fr := newFakeRequester(t)
	peer := routing.Peer{ID: id.Random(), Addr: mustUDPAddr(t, "127.0.0.1:1")}
	fr.table.Push(peer.ID, peer.Addr)

	calls := 0
	done := make(chan struct{})
	NewFindValue(fr, id.Random(), func(v []byte, err error) {
		calls++
		close(done)
	})

	call := fr.lastSent()
	call.onReply(peer.Addr, wire.Message{
		Header:            findValueHeader(peer.ID, wire.FindValueResponse),
		FindValueResponse: &wire.FindValueResponseBody{Value: []byte("v")},
	})
	<-done

	// A late duplicate reply must not invoke the callback again.
	call.onReply(peer.Addr, wire.Message{
		Header:            findValueHeader(peer.ID, wire.FindValueResponse),
		FindValueResponse: &wire.FindValueResponseBody{Value: []byte("v")},
	})

	if calls != 1 {
		t.Fatalf("callback invoked %d times, want 1", calls)
	}
}

func TestStoreValueTaskReplicatesToRespondedPeers(t *testing.T) {
	fr := newFakeRequester(t)
	var peers []routing.Peer
	for i := 0; i < 3; i++ {
		p := routing.Peer{ID: id.Random(), Addr: mustUDPAddr(t, "127.0.0.1:1")}
		fr.table.Push(p.ID, p.Addr)
		peers = append(peers, p)
	}

	var gotErr error
	done := make(chan struct{})
	NewStoreValue(fr, id.Random(), []byte("payload"), func(err error) {
		gotErr = err
		close(done)
	})

	if fr.sentCount() != 3 {
		t.Fatalf("sentCount: got %d, want 3", fr.sentCount())
	}
	for i := 0; i < 3; i++ {
		call := fr.sent[i]
		call.onReply(peers[i].Addr, wire.Message{
			Header:           findValueHeader(peers[i].ID, wire.FindPeerResponse),
			FindPeerResponse: &wire.FindPeerResponseBody{},
		})
	}

	<-done
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if len(fr.fired) == 0 {
		t.Fatalf("expected STORE fan-out, got none")
	}
	for _, f := range fr.fired {
		if f.msgType != wire.StoreRequest {
			t.Fatalf("fired request type: got %v, want StoreRequest", f.msgType)
		}
	}
}

func TestStoreValueTaskMissingPeersWhenTableEmpty(t *testing.T) {
	fr := newFakeRequester(t)

	var gotErr error
	done := make(chan struct{})
	NewStoreValue(fr, id.Random(), []byte("payload"), func(err error) {
		gotErr = err
		close(done)
	})

	<-done
	if gotErr != ErrMissingPeers {
		t.Fatalf("got %v, want ErrMissingPeers", gotErr)
	}
	if fr.sentCount() != 0 {
		t.Fatalf("expected no outbound requests against an empty table, got %d", fr.sentCount())
	}
}

func TestDiscoverNeighborsTaskSucceedsAndPopulatesTable(t *testing.T) {
	fr := newFakeRequester(t)
	endpoints := []net.Addr{mustUDPAddr(t, "127.0.0.1:27980")}

	var gotErr error
	done := make(chan struct{})
	NewDiscoverNeighbors(fr, endpoints, func(err error) {
		gotErr = err
		close(done)
	})

	newPeerID := id.Random()
	call := fr.lastSent()
	call.onReply(endpoints[0], wire.Message{
		Header: findValueHeader(id.Random(), wire.FindPeerResponse),
		FindPeerResponse: &wire.FindPeerResponseBody{Peers: []wire.Peer{
			{ID: newPeerID, Address: wire.Address{IP: net.ParseIP("127.0.0.1"), Port: 5000}},
		}},
	})

	<-done
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	found := false
	for _, p := range fr.table.Snapshot() {
		if p.ID == newPeerID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected discovered peer to be pushed into the routing table")
	}
}

func TestDiscoverNeighborsTaskFailsAfterAllEndpointsExhausted(t *testing.T) {
	fr := newFakeRequester(t)
	endpoints := []net.Addr{mustUDPAddr(t, "127.0.0.1:1"), mustUDPAddr(t, "127.0.0.1:2")}

	var gotErr error
	done := make(chan struct{})
	NewDiscoverNeighbors(fr, endpoints, func(err error) {
		gotErr = err
		close(done)
	})

	fr.lastSent().onError(ErrInitialPeerFailedToRespond)
	fr.lastSent().onError(ErrInitialPeerFailedToRespond)

	<-done
	if gotErr != ErrInitialPeerFailedToRespond {
		t.Fatalf("got %v, want ErrInitialPeerFailedToRespond", gotErr)
	}
}

func TestNotifyPeerCompletesAfterWalkConverges(t *testing.T) {
	fr := newFakeRequester(t)
	peer := routing.Peer{ID: id.Random(), Addr: mustUDPAddr(t, "127.0.0.1:1")}
	fr.table.Push(peer.ID, peer.Addr)

	done := make(chan struct{})
	NewNotifyPeer(fr, id.Random(), func() { close(done) })

	call := fr.lastSent()
	call.onReply(peer.Addr, wire.Message{
		Header:           findValueHeader(peer.ID, wire.FindPeerResponse),
		FindPeerResponse: &wire.FindPeerResponseBody{},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onComplete was not invoked")
	}
}
