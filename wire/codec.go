package wire

import (
	"encoding/binary"
	"net"

	"github.com/opd-ai/kadcore/id"
)

// AddressTagIPv4 and AddressTagIPv6 are the one-byte family discriminators
// that precede every address's raw bytes on the wire.
const (
	AddressTagIPv4 byte = 1
	AddressTagIPv6 byte = 2
)

// Address is a UDP endpoint: host bytes plus port, tagged by family.
type Address struct {
	IP   net.IP
	Port uint16
}

// Peer is the (id, address) pair transmitted in FIND_PEER_RESPONSE bodies
// and stored in the routing table.
type Peer struct {
	ID      id.ID
	Address Address
}

// writer accumulates encoded bytes. It never fails: every field written is
// a fixed-width or caller-supplied-length value, so there is no error path
// on encode.
type writer struct {
	buf []byte
}

func newWriter(sizeHint int) *writer {
	return &writer{buf: make([]byte, 0, sizeHint)}
}

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) putUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) putUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) putID(v id.ID) {
	w.putRaw(v[:])
}

// putBytes writes an 8-byte little-endian length prefix followed by the
// raw bytes, the convention for every variable-length byte string on the
// wire.
func (w *writer) putBytes(b []byte) {
	w.putUint64(uint64(len(b)))
	w.putRaw(b)
}

func (w *writer) putAddress(a Address) {
	if v4 := a.IP.To4(); v4 != nil {
		w.putUint8(AddressTagIPv4)
		w.putRaw(v4)
		return
	}
	w.putUint8(AddressTagIPv6)
	w.putRaw(a.IP.To16())
}

// putPeer writes id, then 16-bit port, then tag, then address bytes. A
// peer record puts the port before the tag+bytes pair, unlike a bare
// Address record where the tag comes first.
func (w *writer) putPeer(p Peer) {
	w.putID(p.ID)
	w.putUint16(p.Address.Port)
	if v4 := p.Address.IP.To4(); v4 != nil {
		w.putUint8(AddressTagIPv4)
		w.putRaw(v4)
		return
	}
	w.putUint8(AddressTagIPv6)
	w.putRaw(p.Address.IP.To16())
}

func (w *writer) putPeers(peers []Peer) {
	w.putUint64(uint64(len(peers)))
	for _, p := range peers {
		w.putPeer(p)
	}
}

// reader consumes bytes from a fixed buffer, tracking an offset. The id,
// byte-string, address and peer readers return a distinct sentinel error
// on underflow so callers can tell truncation apart from corruption; the
// raw and fixed-width integer readers report underflow as a false bool.
type reader struct {
	buf []byte
	off int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) takeRaw(n int) ([]byte, bool) {
	if r.remaining() < n {
		return nil, false
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, true
}

func (r *reader) getUint8() (uint8, bool) {
	b, ok := r.takeRaw(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *reader) getUint16() (uint16, bool) {
	b, ok := r.takeRaw(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (r *reader) getUint64() (uint64, bool) {
	b, ok := r.takeRaw(8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (r *reader) getID() (id.ID, error) {
	b, ok := r.takeRaw(id.Length)
	if !ok {
		return id.ID{}, ErrTruncatedID
	}
	var out id.ID
	copy(out[:], b)
	return out, nil
}

// getBytes reads an 8-byte length prefix and that many following bytes. A
// prefix naming more bytes than remain in the buffer is corruption, not
// truncation, since an honest sender always writes the bytes it declares.
func (r *reader) getBytes() ([]byte, error) {
	n, ok := r.getUint64()
	if !ok {
		return nil, ErrTruncatedSize
	}
	if n > uint64(r.remaining()) {
		return nil, ErrCorruptedBody
	}
	b, _ := r.takeRaw(int(n))
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *reader) getAddress() (Address, error) {
	tag, ok := r.getUint8()
	if !ok {
		return Address{}, ErrTruncatedAddress
	}
	n, err := addressByteLen(tag)
	if err != nil {
		return Address{}, err
	}
	b, ok := r.takeRaw(n)
	if !ok {
		return Address{}, ErrTruncatedAddress
	}
	ip := make(net.IP, n)
	copy(ip, b)
	return Address{IP: ip}, nil
}

func addressByteLen(tag byte) (int, error) {
	switch tag {
	case AddressTagIPv4:
		return 4, nil
	case AddressTagIPv6:
		return 16, nil
	default:
		return 0, ErrTruncatedAddress
	}
}

// getPeer reads id, 16-bit port, tag, and address bytes, mirroring the
// encode order in putPeer.
func (r *reader) getPeer() (Peer, error) {
	pid, err := r.getID()
	if err != nil {
		return Peer{}, err
	}
	port, ok := r.getUint16()
	if !ok {
		return Peer{}, ErrTruncatedAddress
	}
	tag, ok := r.getUint8()
	if !ok {
		return Peer{}, ErrTruncatedAddress
	}
	n, err := addressByteLen(tag)
	if err != nil {
		return Peer{}, err
	}
	b, ok := r.takeRaw(n)
	if !ok {
		return Peer{}, ErrTruncatedAddress
	}
	ip := make(net.IP, n)
	copy(ip, b)
	return Peer{ID: pid, Address: Address{IP: ip, Port: port}}, nil
}

func (r *reader) getPeers() ([]Peer, error) {
	n, ok := r.getUint64()
	if !ok {
		return nil, ErrTruncatedSize
	}
	out := make([]Peer, 0, n)
	for i := uint64(0); i < n; i++ {
		p, err := r.getPeer()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
