// Package routing implements the Kademlia k-bucket routing table: local
// peers are organized into id.Bits buckets keyed by the leading-zero-bit
// count of their XOR distance to the local id, each bounded to K entries.
// Find returns peers in ascending distance order from a query id.
package routing
