package engine

import (
	"github.com/opd-ai/kadcore/id"
	"github.com/opd-ai/kadcore/routing"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the UDP port Kademlia nodes of this implementation
// listen on by default.
const DefaultPort = 27980

// Options configures a new Engine. There is no file or environment
// configuration layer in the core; construction-time options are a plain
// struct with documented defaults.
type Options struct {
	// ListenV4 is the "host:port" IPv4 address to bind, e.g.
	// "0.0.0.0:27980". Empty disables the IPv4 socket.
	ListenV4 string
	// ListenV6 is the "[host]:port" IPv6 address to bind, e.g.
	// "[::]:27980". Empty disables the IPv6 socket.
	ListenV6 string
	// InitialPeer, if non-empty, is the "host:port" of a peer to
	// bootstrap from. Empty constructs a peerless, listen-only node.
	InitialPeer string
	// LocalID fixes the node's own identifier. A random one is drawn if
	// nil.
	LocalID *id.ID
	// BucketSize overrides the routing table's per-bucket capacity.
	// Zero selects routing.K.
	BucketSize int
	// Logger receives structured lifecycle and RPC diagnostics. Nil
	// selects logrus.StandardLogger().
	Logger *logrus.Entry
}

func (o Options) bucketSize() int {
	if o.BucketSize > 0 {
		return o.BucketSize
	}
	return routing.K
}

func (o Options) logger() *logrus.Entry {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
