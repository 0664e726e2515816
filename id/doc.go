// Package id implements the 160-bit identifier space used to place both
// nodes and keys on the Kademlia ring, along with the XOR distance metric
// that orders every routing and lookup decision in this module.
//
// Identifiers are fixed-size, comparable values: they can be used as map
// keys directly and compared with ==. Distance between two identifiers is
// itself an identifier (a XOR b), ordered as an unsigned big-endian integer.
package id
