package storage

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// Digest is the BLAKE2b-256 sum sent along with every chunk.
func Digest(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// Verify reports whether data matches digest.
func Verify(digest, data []byte) bool {
	return subtle.ConstantTimeCompare(digest, Digest(data)) == 1
}
