// Package hash implements the content hash used as the sole identity for
// chunks, canonical sequences, and manifests throughout casg.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ByteLen is the length in bytes of a Hash.
const ByteLen = sha256.Size

// StringLen is the length of a Hash's lowercase hex representation.
const StringLen = ByteLen * 2

// Hash is a 32-byte SHA-256 content fingerprint.
type Hash [ByteLen]byte

// Empty is the distinguished zero hash, denoting absence.
var Empty = Hash{}

// Of computes the content hash of data.
func Of(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// New builds a Hash from a byte slice. It panics if b is not ByteLen bytes
// long — that indicates an invariant violation assembled in-process, not a
// user-facing error.
func New(b []byte) Hash {
	if len(b) != ByteLen {
		panic(fmt.Sprintf("hash: New called with %d bytes, want %d", len(b), ByteLen))
	}
	var h Hash
	copy(h[:], b)
	return h
}

// Parse decodes a lowercase hex string into a Hash.
func Parse(s string) (Hash, error) {
	if len(s) != StringLen {
		return Empty, fmt.Errorf("hash: invalid length %d, want %d", len(s), StringLen)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Empty, fmt.Errorf("hash: invalid hex: %w", err)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// MustParse is like Parse but panics on error. Reserved for constants and
// tests, never for parsing untrusted input.
func MustParse(s string) Hash {
	h, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return h
}

// String renders the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsEmpty reports whether h is the zero hash.
func (h Hash) IsEmpty() bool {
	return h == Empty
}

// Compare gives a total byte-lexical ordering over hashes: <0 if h<o, 0 if
// equal, >0 if h>o.
func (h Hash) Compare(o Hash) int {
	return bytes.Compare(h[:], o[:])
}

// Less reports whether h sorts before o.
func (h Hash) Less(o Hash) bool {
	return h.Compare(o) < 0
}

// Concat returns the concatenation of h's and o's bytes, the input to
// interior-node hashing in the Merkle DAG.
func Concat(h, o Hash) []byte {
	buf := make([]byte, 0, ByteLen*2)
	buf = append(buf, h[:]...)
	buf = append(buf, o[:]...)
	return buf
}
