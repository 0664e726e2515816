package router

import "errors"

// ErrTimedOut is passed to a pending entry's OnError callback when its
// timeout elapses before a matching response arrives.
var ErrTimedOut = errors.New("router: timed out")
