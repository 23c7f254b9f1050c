// File: protocol/mask.go
// Author: momentics <momentics@gmail.com>

package protocol

import "crypto/rand"

// Mask XORs b in place with key starting at key position idx and returns
// the key position for the byte following b, so a payload can be masked
// across several calls.
func Mask(key [4]byte, idx int, b []byte) int {
	idx &= 3
	for i := range b {
		b[i] ^= key[idx]
		idx = (idx + 1) & 3
	}
	return idx
}

// NewMaskKey returns a fresh random masking key.
func NewMaskKey() [4]byte {
	var k [4]byte
	_, _ = rand.Read(k[:])
	return k
}
