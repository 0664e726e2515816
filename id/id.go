package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/multiformats/go-multibase"
	"lukechampine.com/blake3"
)

// Length is the width of the identifier space in bytes (160 bits).
const Length = 20

// Bits is the width of the identifier space in bits.
const Bits = Length * 8

// ID is a 160-bit opaque identifier. Both nodes and keys are placed in this
// same space; distance between any two IDs is computed with XOR.
type ID [Length]byte

// Zero is the identifier with every bit cleared. It is never a valid node
// id in practice, but is useful as a sentinel in tests and defaults.
var Zero ID

// Random draws a uniformly random identifier from a cryptographically
// adequate source, as required for node id generation at engine startup
// and for minting a fresh random_token on every outbound request.
func Random() ID {
	var out ID
	if _, err := rand.Read(out[:]); err != nil {
		// crypto/rand.Read only fails if the underlying OS source is
		// broken beyond recovery; there is nothing a caller can do with
		// a partially-random id, so this is the one place we panic.
		panic("id: crypto/rand unavailable: " + err.Error())
	}
	return out
}

// FromKey derives the identifier of a caller-supplied key by hashing it
// with BLAKE3 and truncating the digest to Length bytes. Values longer or
// shorter than Length are therefore never truncated or zero-padded
// directly; every node in the network hashes keys the same way, so the
// mapping from key to id is consistent cluster-wide regardless of key
// length.
func FromKey(key []byte) ID {
	sum := blake3.Sum256(key)
	var out ID
	copy(out[:], sum[:Length])
	return out
}

// Equal reports whether two identifiers are identical.
func (a ID) Equal(b ID) bool {
	return a == b
}

// Bit reads bit i of the identifier, counting from the most significant
// bit (i == 0) to the least significant (i == Bits-1).
func (a ID) Bit(i int) int {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return int((a[byteIdx] >> bitIdx) & 1)
}

// Flip returns a copy of the identifier with bit i inverted.
func (a ID) Flip(i int) ID {
	out := a
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	out[byteIdx] ^= 1 << bitIdx
	return out
}

// Distance returns the XOR distance between a and b. The result is itself
// an identifier; distances are ordered as unsigned big-endian integers via
// Less.
func Distance(a, b ID) ID {
	var out ID
	for i := 0; i < Length; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Less orders two identifiers (or two distances) as unsigned big-endian
// integers: the byte at index 0 is most significant.
func Less(a, b ID) bool {
	for i := 0; i < Length; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// LeadingZeroBits returns the index of the most significant set bit of the
// identifier, i.e. the number of leading zero bits. This is the bucket
// index a peer at this distance from the local id belongs in: distance
// with k leading zero bits shares the first k bits with the local id.
// An all-zero identifier has no set bit and reports Bits-1, the last
// bucket index, rather than Bits.
func (a ID) LeadingZeroBits() int {
	for i := 0; i < Bits; i++ {
		if a.Bit(i) != 0 {
			return i
		}
	}
	return Bits - 1
}

// String renders the identifier as lowercase hex, the form used in the
// wire protocol and in comparisons against wire-format test vectors.
func (a ID) String() string {
	return hex.EncodeToString(a[:])
}

// Text renders the identifier as a self-describing multibase string,
// suitable for diagnostic logging where the base prefix disambiguates the
// encoding at a glance. The wire-facing representation is always the raw
// 20 bytes (see package wire); Text is for humans, not the network.
func (a ID) Text() string {
	s, err := multibase.Encode(multibase.Base32, a[:])
	if err != nil {
		// Base32 over a fixed 20-byte input cannot fail; fall back to hex
		// rather than propagating an error from what is a logging helper.
		return a.String()
	}
	return s
}
