package wire

import "github.com/opd-ai/kadcore/id"

// Version is the only protocol version this implementation speaks.
const Version uint8 = 1

// Type enumerates the seven message kinds carried by Header.Type.
type Type uint8

const (
	PingRequest Type = iota
	PingResponse
	StoreRequest
	FindPeerRequest
	FindPeerResponse
	FindValueRequest
	FindValueResponse
)

func (t Type) String() string {
	switch t {
	case PingRequest:
		return "PING_REQUEST"
	case PingResponse:
		return "PING_RESPONSE"
	case StoreRequest:
		return "STORE_REQUEST"
	case FindPeerRequest:
		return "FIND_PEER_REQUEST"
	case FindPeerResponse:
		return "FIND_PEER_RESPONSE"
	case FindValueRequest:
		return "FIND_VALUE_REQUEST"
	case FindValueResponse:
		return "FIND_VALUE_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// IsResponse reports whether the message type is one of the *_RESPONSE
// kinds that the engine hands to the response router rather than to a
// request handler.
func (t Type) IsResponse() bool {
	switch t {
	case PingResponse, FindPeerResponse, FindValueResponse:
		return true
	default:
		return false
	}
}

// Header is the fixed 41-byte preamble of every datagram: protocol
// version and message type packed into one byte, the sender's node id,
// and a random token correlating a response with its request (or seeding
// a fresh correlation id, for requests).
type Header struct {
	Type        Type
	SourceID    id.ID
	RandomToken id.ID
}

// HeaderSize is the exact wire length of an encoded Header.
const HeaderSize = 1 + id.Length + id.Length

// encode appends h's wire encoding to w.
func (h Header) encode(w *writer) {
	w.putUint8((Version & 0x0f) | (uint8(h.Type) << 4))
	w.putID(h.SourceID)
	w.putID(h.RandomToken)
}

// DecodeHeader parses a Header from the front of data, returning
// ErrTruncatedHeader if fewer than HeaderSize bytes are available and
// ErrUnknownProtocolVersion if the version nibble isn't Version.
func DecodeHeader(data []byte) (Header, *reader, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrTruncatedHeader
	}
	r := newReader(data)
	tagByte, _ := r.getUint8()
	version := tagByte & 0x0f
	if version != Version {
		return Header{}, nil, ErrUnknownProtocolVersion
	}
	msgType := Type(tagByte >> 4)

	sourceID, err := r.getID()
	if err != nil {
		return Header{}, nil, ErrTruncatedHeader
	}
	token, err := r.getID()
	if err != nil {
		return Header{}, nil, ErrTruncatedHeader
	}

	return Header{Type: msgType, SourceID: sourceID, RandomToken: token}, r, nil
}
