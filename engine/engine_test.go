package engine

import (
	"net"
	"testing"
	"time"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackEngine(t *testing.T, initialPeer string) *Engine {
	t.Helper()
	e, err := New(Options{ListenV4: "127.0.0.1:0", InitialPeer: initialPeer})
	require.NoError(t, err)
	t.Cleanup(e.Abort)
	return e
}

func TestPeerlessEngineInitializesImmediately(t *testing.T) {
	e := newLoopbackEngine(t, "")
	assert.True(t, e.Initialized(), "a peerless engine must be initialized as soon as it is constructed")
}

func TestTwoNodeBootstrapPopulatesRoutingTables(t *testing.T) {
	a := newLoopbackEngine(t, "")
	b := newLoopbackEngine(t, a.LocalAddrs()[0].String())

	require.Eventually(t, b.Initialized, 3*time.Second, 10*time.Millisecond, "bootstrapping engine never became initialized")

	var found bool
	for _, p := range b.Table().Snapshot() {
		if p.ID == a.LocalID() {
			found = true
		}
	}
	assert.True(t, found, "B's routing table should contain A after bootstrap")
}

type loadResult struct {
	err   error
	value []byte
}

func doLoad(e *Engine, key []byte) loadResult {
	ch := make(chan loadResult, 1)
	e.Load(key, func(err error, value []byte) {
		ch <- loadResult{err: err, value: value}
	})
	return <-ch
}

func doSave(t *testing.T, e *Engine, key, value []byte) {
	t.Helper()
	ch := make(chan error, 1)
	e.Save(key, value, func(err error) { ch <- err })
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Save callback never ran")
	}
}

func TestSaveLoadRoundTripAcrossNodes(t *testing.T) {
	a := newLoopbackEngine(t, "")
	b := newLoopbackEngine(t, a.LocalAddrs()[0].String())
	require.Eventually(t, b.Initialized, 3*time.Second, 10*time.Millisecond)

	doSave(t, a, []byte("k"), []byte("v"))

	require.Eventually(t, func() bool {
		res := doLoad(b, []byte("k"))
		return res.err == nil && string(res.value) == "v"
	}, 3*time.Second, 20*time.Millisecond, "B never observed A's saved value")
}

func TestSaveLoadSurvivesOriginatingNodeAbort(t *testing.T) {
	a := newLoopbackEngine(t, "")
	b := newLoopbackEngine(t, a.LocalAddrs()[0].String())
	require.Eventually(t, b.Initialized, 3*time.Second, 10*time.Millisecond)

	doSave(t, a, []byte("k"), []byte("v"))
	require.Eventually(t, func() bool {
		res := doLoad(b, []byte("k"))
		return res.err == nil && string(res.value) == "v"
	}, 3*time.Second, 20*time.Millisecond, "B never received its replica before A aborted")

	a.Abort()

	res := doLoad(b, []byte("k"))
	require.NoError(t, res.err)
	assert.Equal(t, "v", string(res.value), "B must still serve its local replica after A is gone")
}

func TestLoadLocalHitNeverTouchesNetwork(t *testing.T) {
	a := newLoopbackEngine(t, "")

	// A peerless node has nowhere to replicate to, so Save reports
	// ErrMissingPeers, but the value is already in its own store.
	saved := make(chan error, 1)
	a.Save([]byte("local-key"), []byte("local-value"), func(err error) { saved <- err })
	select {
	case err := <-saved:
		require.ErrorIs(t, err, ErrMissingPeers)
	case <-time.After(3 * time.Second):
		t.Fatal("Save callback never ran")
	}

	res := doLoad(a, []byte("local-key"))
	require.NoError(t, res.err)
	assert.Equal(t, "local-value", string(res.value))
}

func TestLoadMissingKeyReturnsValueNotFound(t *testing.T) {
	a := newLoopbackEngine(t, "")
	b := newLoopbackEngine(t, a.LocalAddrs()[0].String())
	require.Eventually(t, b.Initialized, 3*time.Second, 10*time.Millisecond)

	res := doLoad(b, []byte("never-stored"))
	assert.ErrorIs(t, res.err, ErrValueNotFound)
	assert.Nil(t, res.value)
}

func TestSaveWithOnlyTheLocalNodeReturnsMissingPeers(t *testing.T) {
	a := newLoopbackEngine(t, "")

	ch := make(chan error, 1)
	a.Save([]byte("k"), []byte("v"), func(err error) { ch <- err })
	select {
	case err := <-ch:
		assert.ErrorIs(t, err, ErrMissingPeers)
	case <-time.After(3 * time.Second):
		t.Fatal("Save callback never ran")
	}
}

func TestLargeValueRoundTrip(t *testing.T) {
	a := newLoopbackEngine(t, "")
	b := newLoopbackEngine(t, a.LocalAddrs()[0].String())
	require.Eventually(t, b.Initialized, 3*time.Second, 10*time.Millisecond)

	big := make([]byte, 50000)
	for i := range big {
		big[i] = byte(i % 251)
	}
	doSave(t, a, []byte("big"), big)

	require.Eventually(t, func() bool {
		res := doLoad(b, []byte("big"))
		return res.err == nil && len(res.value) == len(big)
	}, 3*time.Second, 20*time.Millisecond)

	res := doLoad(b, []byte("big"))
	require.NoError(t, res.err)
	assert.Equal(t, big, res.value)
}

func TestAbortThenWaitReturnsRunAborted(t *testing.T) {
	e, err := New(Options{ListenV4: "127.0.0.1:0"})
	require.NoError(t, err)

	go e.Abort()

	waitErr := e.Wait()
	assert.ErrorIs(t, waitErr, ErrRunAborted)
}

func TestInvalidListenAddressIsRejected(t *testing.T) {
	_, err := New(Options{ListenV4: "not-an-address"})
	assert.ErrorIs(t, err, ErrInvalidIPv4Address)
}

func TestPingRequestDrawsPingResponseWithSameToken(t *testing.T) {
	e := newLoopbackEngine(t, "")

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	token := id.Random()
	req := wire.Message{
		Header:      wire.Header{Type: wire.PingRequest, SourceID: id.Random(), RandomToken: token},
		PingRequest: &wire.PingRequestBody{},
	}
	dest := e.LocalAddrs()[0].(*net.UDPAddr)
	_, err = conn.WriteToUDP(wire.Encode(req), dest)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err, "engine never answered the PING")

	resp, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, wire.PingResponse, resp.Header.Type)
	assert.Equal(t, token, resp.Header.RandomToken, "response must echo the request's token")
	assert.Equal(t, e.LocalID(), resp.Header.SourceID)
}

func TestMalformedDatagramIsDroppedWithoutDisruption(t *testing.T) {
	e := newLoopbackEngine(t, "")

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	dest := e.LocalAddrs()[0].(*net.UDPAddr)
	_, err = conn.WriteToUDP([]byte{0xde, 0xad}, dest)
	require.NoError(t, err)

	// The engine must survive the garbage and still answer a valid PING.
	token := id.Random()
	req := wire.Message{
		Header:      wire.Header{Type: wire.PingRequest, SourceID: id.Random(), RandomToken: token},
		PingRequest: &wire.PingRequestBody{},
	}
	_, err = conn.WriteToUDP(wire.Encode(req), dest)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	resp, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, wire.PingResponse, resp.Header.Type)
}
