package engine

import (
	"net"
	"time"

	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/wire"
)

// SendRequest implements task.Requester. It mints a fresh random token
// for the outbound message, registers onReply/onError with the response
// router armed for ttl, and transmits the encoded message. If the
// transport send itself fails, the registration is canceled immediately
// and onError runs synchronously with the send error, unless the timeout
// already consumed the entry; it never double-fires alongside a timeout.
func (e *Engine) SendRequest(addr net.Addr, msgType wire.Type, body interface{}, ttl time.Duration, onReply func(sender net.Addr, msg wire.Message), onError func(error)) {
	token := id.Random()
	msg := wire.Message{Header: wire.Header{Type: msgType, SourceID: e.localID, RandomToken: token}}
	attachRequestBody(&msg, msgType, body)

	e.router.Register(token, ttl, onReply, onError)

	if err := e.tr.Send(wire.Encode(msg), addr); err != nil {
		if e.router.Cancel(token) {
			onError(err)
		}
	}
}

// SendFireAndForget implements task.Requester's STORE fan-out: no
// response router registration, since STORE expects no ack at this
// layer.
func (e *Engine) SendFireAndForget(addr net.Addr, msgType wire.Type, body interface{}) error {
	msg := wire.Message{Header: wire.Header{Type: msgType, SourceID: e.localID, RandomToken: id.Random()}}
	attachRequestBody(&msg, msgType, body)
	return e.tr.Send(wire.Encode(msg), addr)
}

func attachRequestBody(msg *wire.Message, msgType wire.Type, body interface{}) {
	switch msgType {
	case wire.PingRequest:
		msg.PingRequest, _ = body.(*wire.PingRequestBody)
		if msg.PingRequest == nil {
			msg.PingRequest = &wire.PingRequestBody{}
		}
	case wire.StoreRequest:
		msg.StoreRequest = body.(*wire.StoreRequestBody)
	case wire.FindPeerRequest:
		msg.FindPeerRequest = body.(*wire.FindPeerRequestBody)
	case wire.FindValueRequest:
		msg.FindValueRequest = body.(*wire.FindValueRequestBody)
	}
}
