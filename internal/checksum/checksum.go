// Package checksum fingerprints note contents for optimistic concurrency.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of a note's raw markdown.
func Sum(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Matches reports whether ifMatch is empty or equal to the checksum of raw.
// Surrounding ETag quotes are ignored.
func Matches(raw, ifMatch string) bool {
	if len(ifMatch) >= 2 && ifMatch[0] == '"' && ifMatch[len(ifMatch)-1] == '"' {
		ifMatch = ifMatch[1 : len(ifMatch)-1]
	}
	return ifMatch == "" || ifMatch == Sum(raw)
}
