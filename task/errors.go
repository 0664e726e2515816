package task

import "errors"

// ErrValueNotFound is reported by find-value when every reachable
// candidate has responded or timed out without anyone holding the value.
var ErrValueNotFound = errors.New("task: value not found")

// ErrMissingPeers is reported by store-value when its FIND_PEER phase
// converges on an empty set of RESPONDED candidates, leaving nowhere to
// replicate the value.
var ErrMissingPeers = errors.New("task: no peers available to store value")

// ErrInitialPeerFailedToRespond is reported by discover-neighbors when
// every candidate endpoint for the initial peer has been tried and none
// answered.
var ErrInitialPeerFailedToRespond = errors.New("task: initial peer failed to respond")
