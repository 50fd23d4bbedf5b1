// Package digest computes content checksums for stored blobs.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Compute returns the hex SHA256 of data
func Compute(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Verify reports whether data matches the expected hash. An empty expected
// hash is treated as unknown and always verifies.
func Verify(data []byte, expectedHash string) bool {
	if expectedHash == "" {
		return true
	}
	return Compute(data) == expectedHash
}
