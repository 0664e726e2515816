package engine

import (
	"errors"

	"github.com/opd-ai/kadcore/router"
	"github.com/opd-ai/kadcore/task"
	"github.com/opd-ai/kadcore/wire"
)

// Error taxonomy surfaced to callers. Where a lower package
// already owns the sentinel (wire's decode errors, the router's timeout,
// the task package's walk-termination errors), this package re-exports
// the same value rather than wrapping it, so callers can use errors.Is
// against either the engine or the owning package's symbol.
var (
	// ErrRunAborted is returned by Wait after a clean Abort.
	ErrRunAborted = errors.New("engine: run aborted")

	// ErrInitialPeerFailedToRespond is returned when every resolved
	// endpoint of a bootstrap's initial peer failed to answer.
	ErrInitialPeerFailedToRespond = task.ErrInitialPeerFailedToRespond

	// ErrInvalidIPv4Address / ErrInvalidIPv6Address report a listen
	// address that does not parse as the requested family.
	ErrInvalidIPv4Address = errors.New("engine: invalid IPv4 listen address")
	ErrInvalidIPv6Address = errors.New("engine: invalid IPv6 listen address")

	// ErrValueNotFound is returned by Load when no reachable peer (and
	// not the local store) holds the requested key.
	ErrValueNotFound = task.ErrValueNotFound

	// ErrMissingPeers is returned by Save when store-value's FIND_PEER
	// phase converges on zero reachable peers to replicate to.
	ErrMissingPeers = task.ErrMissingPeers

	// Decode-time wire errors, re-exported for callers that only import
	// engine.
	ErrTruncatedHeader        = wire.ErrTruncatedHeader
	ErrTruncatedID            = wire.ErrTruncatedID
	ErrTruncatedSize          = wire.ErrTruncatedSize
	ErrTruncatedAddress       = wire.ErrTruncatedAddress
	ErrCorruptedBody          = wire.ErrCorruptedBody
	ErrUnknownProtocolVersion = wire.ErrUnknownProtocolVersion

	// ErrUnassociatedMessageID marks an inbound response whose token does
	// not match any pending request (already answered, already timed
	// out, or never sent). It is logged, not surfaced to a caller.
	ErrUnassociatedMessageID = errors.New("engine: unassociated message id")

	// ErrTimerMalfunction marks a fatal failure of the shared Timer.
	ErrTimerMalfunction = errors.New("engine: timer malfunction")

	// ErrUnimplemented marks a protocol message type this engine
	// recognizes on the wire but has no handler for.
	ErrUnimplemented = errors.New("engine: unimplemented")

	// ErrTimedOut is re-exported from router for callers that only
	// import engine.
	ErrTimedOut = router.ErrTimedOut
)
