// Package hash implements Bitcoin's double-SHA-256 and the 32-byte hash
// value it produces.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Hash32 is an owned 32-byte hash value. Equality is byte-wise.
type Hash32 [32]byte

// ErrWrongLength is returned by FromSlice when given anything but 32 bytes.
var ErrWrongLength = errors.New("hash: expected 32 bytes")

// FromSlice copies b into a Hash32. b must be exactly 32 bytes.
func FromSlice(b []byte) (Hash32, error) {
	var h Hash32
	if len(b) != 32 {
		return h, ErrWrongLength
	}
	copy(h[:], b)
	return h, nil
}

// IsNull reports whether every byte is zero — the marker for a coinbase's
// previous-output hash.
func (h Hash32) IsNull() bool {
	return h == Hash32{}
}

// Equal reports byte-wise equality.
func (h Hash32) Equal(other Hash32) bool {
	return h == other
}

// Bytes returns the hash as a plain slice.
func (h Hash32) Bytes() []byte {
	return h[:]
}

// String renders the hash in the byte-reversed, hex-encoded form Bitcoin
// conventionally displays txids and block hashes in.
func (h Hash32) String() string {
	rev := make([]byte, 32)
	for i := range h {
		rev[i] = h[31-i]
	}
	return hex.EncodeToString(rev)
}

// DoubleSHA256 computes SHA256(SHA256(m)).
func DoubleSHA256(m []byte) Hash32 {
	first := sha256.Sum256(m)
	second := sha256.Sum256(first[:])
	return second
}

// Checksum returns the first 4 bytes of DoubleSHA256(m), the form used by
// the wire envelope.
func Checksum(m []byte) [4]byte {
	full := DoubleSHA256(m)
	var c [4]byte
	copy(c[:], full[:4])
	return c
}
