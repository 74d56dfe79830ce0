// Package sign computes the truncated frame authenticator used by the link
// layer. Frames carry only the most-significant 34 bits of an HMAC-SHA256
// digest: enough to resist casual spoofing on a narrow radio link, but a
// deliberately reduced margin compared to the full 256-bit digest.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// TagBits is the width of the truncated signature carried in link headers.
const TagBits = 34

// TagMask masks a value to TagBits.
const TagMask = (uint64(1) << TagBits) - 1

// Signer authenticates byte sequences with a shared link key.
type Signer struct {
	key []byte
}

// New creates a Signer for the given shared key. The key is copied.
func New(key []byte) Signer {
	k := make([]byte, len(key))
	copy(k, key)
	return Signer{key: k}
}

// Sum returns the full 256-bit HMAC-SHA256 digest over the concatenation of
// parts.
func (s Signer) Sum(parts ...[]byte) [sha256.Size]byte {
	mac := hmac.New(sha256.New, s.key)
	for _, p := range parts {
		_, _ = mac.Write(p)
	}
	var out [sha256.Size]byte
	mac.Sum(out[:0])
	return out
}

// Tag34 returns the most-significant 34 bits of the digest over parts,
// right-aligned in a uint64.
func (s Signer) Tag34(parts ...[]byte) uint64 {
	d := s.Sum(parts...)
	return Truncate34(d)
}

// Truncate34 keeps the most-significant 34 bits of a 256-bit digest.
func Truncate34(digest [sha256.Size]byte) uint64 {
	return binary.BigEndian.Uint64(digest[:8]) >> (64 - TagBits)
}

// Verify reports whether tag matches the expected signature over parts.
func (s Signer) Verify(tag uint64, parts ...[]byte) bool {
	return s.Tag34(parts...) == tag&TagMask
}
