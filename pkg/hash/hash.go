// Package hash provides the content hash used throughout the blob store,
// Merkle tree, and snapshot index: a fixed 32-byte BLAKE3 digest.
package hash

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Size is the width in bytes of a Hash.
const Size = 32

// Hash is a 32-byte BLAKE3 content digest. The zero value is the
// distinguished Zero sentinel: it is never stored as a blob, and denotes
// a sparse (all-zero) subtree in the Merkle tree.
type Hash [Size]byte

// Zero is the sentinel hash. It never addresses a stored blob.
var Zero Hash

// FromData returns the BLAKE3 hash of b.
func FromData(b []byte) Hash {
	var h Hash
	sum := blake3.Sum256(b)
	copy(h[:], sum[:])
	return h
}

// IsZero reports whether h is the zero sentinel.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Hex returns the lowercase 64-character hex encoding of h.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// Bytes returns a copy of the raw hash bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// ParseHex parses a 64-character hex string into a Hash.
func ParseHex(s string) (Hash, error) {
	var h Hash
	if len(s) != Size*2 {
		return h, fmt.Errorf("hash: wrong length %d, want %d", len(s), Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hash: %w", err)
	}
	copy(h[:], b)
	return h, nil
}
