package wire

import "github.com/opd-ai/kadcore/id"

// PingRequestBody and PingResponseBody carry no payload.
type PingRequestBody struct{}
type PingResponseBody struct{}

// StoreRequestBody carries the key id the value is stored under and the
// value bytes themselves.
type StoreRequestBody struct {
	KeyID id.ID
	Value []byte
}

// FindPeerRequestBody carries the id being searched for.
type FindPeerRequestBody struct {
	Target id.ID
}

// FindPeerResponseBody carries up to K peers closest to the requested id.
type FindPeerResponseBody struct {
	Peers []Peer
}

// FindValueRequestBody carries the id of the value being searched for.
type FindValueRequestBody struct {
	Target id.ID
}

// FindValueResponseBody carries the value bytes found locally by the
// responder.
type FindValueResponseBody struct {
	Value []byte
}

// Message pairs a Header with whichever body its Type implies. Exactly one
// of the typed body fields is populated, matching Header.Type.
type Message struct {
	Header            Header
	PingRequest       *PingRequestBody
	PingResponse      *PingResponseBody
	StoreRequest      *StoreRequestBody
	FindPeerRequest   *FindPeerRequestBody
	FindPeerResponse  *FindPeerResponseBody
	FindValueRequest  *FindValueRequestBody
	FindValueResponse *FindValueResponseBody
}

// Encode serializes a full message (header + body) to bytes. It never
// fails: every field is either fixed-width or length-prefixed, and the
// caller is responsible for populating the body matching Header.Type.
func Encode(m Message) []byte {
	w := newWriter(HeaderSize + 64)
	m.Header.encode(w)

	switch m.Header.Type {
	case PingRequest, PingResponse:
		// empty body
	case StoreRequest:
		b := m.StoreRequest
		w.putID(b.KeyID)
		w.putBytes(b.Value)
	case FindPeerRequest:
		w.putID(m.FindPeerRequest.Target)
	case FindPeerResponse:
		w.putPeers(m.FindPeerResponse.Peers)
	case FindValueRequest:
		w.putID(m.FindValueRequest.Target)
	case FindValueResponse:
		w.putBytes(m.FindValueResponse.Value)
	}

	return w.bytes()
}

// Decode parses a full message from a received datagram. It reports
// ErrTruncatedHeader, ErrUnknownProtocolVersion, ErrTruncatedID,
// ErrTruncatedSize, ErrCorruptedBody, or ErrTruncatedAddress depending on
// where decoding failed; on any error the returned Message is invalid and
// must be discarded, not partially used.
func Decode(data []byte) (Message, error) {
	header, r, err := DecodeHeader(data)
	if err != nil {
		return Message{}, err
	}

	m := Message{Header: header}

	switch header.Type {
	case PingRequest:
		m.PingRequest = &PingRequestBody{}
	case PingResponse:
		m.PingResponse = &PingResponseBody{}
	case StoreRequest:
		keyID, err := r.getID()
		if err != nil {
			return Message{}, err
		}
		value, err := r.getBytes()
		if err != nil {
			return Message{}, err
		}
		m.StoreRequest = &StoreRequestBody{KeyID: keyID, Value: value}
	case FindPeerRequest:
		target, err := r.getID()
		if err != nil {
			return Message{}, err
		}
		m.FindPeerRequest = &FindPeerRequestBody{Target: target}
	case FindPeerResponse:
		peers, err := r.getPeers()
		if err != nil {
			return Message{}, err
		}
		m.FindPeerResponse = &FindPeerResponseBody{Peers: peers}
	case FindValueRequest:
		target, err := r.getID()
		if err != nil {
			return Message{}, err
		}
		m.FindValueRequest = &FindValueRequestBody{Target: target}
	case FindValueResponse:
		value, err := r.getBytes()
		if err != nil {
			return Message{}, err
		}
		m.FindValueResponse = &FindValueResponseBody{Value: value}
	default:
		// Unknown type nibble with a valid version byte: we have no body
		// shape to parse against, so treat it the same as a short header.
		return Message{}, ErrTruncatedHeader
	}

	return m, nil
}
