// Package wire implements the binary protocol exchanged between Kademlia
// nodes: little-endian integers, length-prefixed byte strings, addresses,
// peer records, the fixed message header, and the four RPC bodies (PING,
// STORE, FIND_PEER, FIND_VALUE).
//
// Every Decode function reports one of a small set of distinct sentinel
// errors (ErrTruncatedHeader, ErrTruncatedID, ErrTruncatedSize,
// ErrTruncatedAddress, ErrCorruptedBody, ErrUnknownProtocolVersion) so
// callers can tell a short datagram from a corrupted one. A failed decode
// leaves no guarantee about partially-consumed state; callers must discard
// the whole datagram.
package wire
