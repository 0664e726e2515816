// Package transport implements the dual IPv4/IPv6 UDP transport: two
// connectionless sockets, asynchronous send and a perpetual receive loop
// per socket, endpoint resolution that accepts literal addresses or host
// names, and a platform-specific "ignore connection reset" tolerance.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// MaxDatagramSize is the largest inbound datagram this transport will
// read into a single buffer: the UDP/IPv4 maximum payload of 65 507
// bytes, allocated once per listening socket.
const MaxDatagramSize = 65507

// OnReceive is invoked once per inbound datagram, on the goroutine owned
// by the socket that received it. data is only valid for the duration of
// the call; implementations that need to retain it must copy.
type OnReceive func(data []byte, sender net.Addr)

// Transport owns up to two UDP sockets (one IPv4, one IPv6) and drives a
// perpetual receive loop on each. The zero value is not usable; construct
// with New.
type Transport struct {
	v4, v6    net.PacketConn
	onReceive OnReceive
	log       *logrus.Entry

	wg      sync.WaitGroup
	closing chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// New binds the given listen addresses (either may be empty to skip that
// family) and starts their receive loops. onReceive is invoked
// synchronously on the receiving goroutine for every datagram read; it
// must not block, since it runs on the socket's own single reactor
// goroutine. New fails fast if a non-empty listen address cannot be
// bound, surfacing the OS error directly from the constructor.
func New(listenV4, listenV6 string, onReceive OnReceive, log *logrus.Entry) (*Transport, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &Transport{
		onReceive: onReceive,
		log:       log.WithField("component", "transport"),
		closing:   make(chan struct{}),
	}

	if listenV4 != "" {
		lc := net.ListenConfig{Control: controlReuseAddr}
		conn, err := lc.ListenPacket(context.Background(), "udp4", listenV4)
		if err != nil {
			return nil, fmt.Errorf("transport: bind IPv4 %s: %w", listenV4, err)
		}
		t.v4 = conn
	}

	if listenV6 != "" {
		lc := net.ListenConfig{Control: controlReuseAddr}
		// The network literal "udp6" makes Go bind an AF_INET6 socket with
		// IPV6_V6ONLY set, so the IPv4 and IPv6 sockets can share a port
		// number without fighting over the wildcard address.
		conn, err := lc.ListenPacket(context.Background(), "udp6", listenV6)
		if err != nil {
			return nil, fmt.Errorf("transport: bind IPv6 %s: %w", listenV6, err)
		}
		t.v6 = conn
	}

	if t.v4 != nil {
		t.wg.Add(1)
		go t.receiveLoop(t.v4, "v4")
	}
	if t.v6 != nil {
		t.wg.Add(1)
		go t.receiveLoop(t.v6, "v6")
	}

	return t, nil
}

// LocalAddrV4 returns the bound IPv4 address, or nil if this transport
// has no IPv4 socket.
func (t *Transport) LocalAddrV4() net.Addr {
	if t.v4 == nil {
		return nil
	}
	return t.v4.LocalAddr()
}

// LocalAddrV6 returns the bound IPv6 address, or nil if this transport
// has no IPv6 socket.
func (t *Transport) LocalAddrV6() net.Addr {
	if t.v6 == nil {
		return nil
	}
	return t.v6.LocalAddr()
}

// Send picks the socket whose family matches dest and writes datagram to
// it. It returns an error if no matching socket is bound, or the OS-level
// write error.
func (t *Transport) Send(datagram []byte, dest net.Addr) error {
	conn, err := t.connFor(dest)
	if err != nil {
		return err
	}
	_, err = conn.WriteTo(datagram, dest)
	return err
}

func (t *Transport) connFor(dest net.Addr) (net.PacketConn, error) {
	host, _, err := net.SplitHostPort(dest.String())
	if err != nil {
		host = dest.String()
	}
	ip := net.ParseIP(host)

	if ip != nil && ip.To4() != nil {
		if t.v4 == nil {
			return nil, errors.New("transport: no IPv4 socket bound")
		}
		return t.v4, nil
	}
	if t.v6 == nil {
		return nil, errors.New("transport: no IPv6 socket bound")
	}
	return t.v6, nil
}

// receiveLoop is the perpetual per-socket reactor: read one datagram,
// dispatch it synchronously, schedule the next read on the same socket.
// On "connection reset" (ICMP port-unreachable feedback surfacing as a
// read error on some platforms) the error is swallowed and reception
// simply continues.
func (t *Transport) receiveLoop(conn net.PacketConn, family string) {
	defer t.wg.Done()
	buf := make([]byte, MaxDatagramSize)

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.closing:
				return
			default:
			}
			if isConnReset(err) {
				continue
			}
			t.log.WithFields(logrus.Fields{"family": family, "error": err}).Warn("receive error, dropping and continuing")
			continue
		}

		if t.onReceive != nil {
			t.onReceive(buf[:n], addr)
		}
	}
}

// Close stops both receive loops and releases the sockets. In-flight
// reads are interrupted by the underlying Close call; receiveLoop then
// observes t.closing and exits without invoking onReceive again.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closing)
	t.closeMu.Unlock()

	var firstErr error
	if t.v4 != nil {
		if err := t.v4.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.v6 != nil {
		if err := t.v6.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.wg.Wait()
	return firstErr
}

// ResolveEndpoints resolves hostport (a literal IPv4/IPv6 address or a
// host name, either way with a ":port" suffix) to the list of candidate
// UDP endpoints a name lookup produces. A literal address resolves to
// exactly one entry.
func ResolveEndpoints(hostport string) ([]net.Addr, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid endpoint %q: %w", hostport, err)
	}

	ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip", host)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", host, err)
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid port in %q: %w", hostport, err)
	}

	out := make([]net.Addr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, &net.UDPAddr{IP: ip, Port: portNum})
	}
	return out, nil
}
