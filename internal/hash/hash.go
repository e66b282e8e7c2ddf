// Package hash computes content digests used as cache and dedup keys.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Content returns the hex-encoded sha256 digest of the full byte content.
// The whole buffer is hashed; sampling would produce false cache hits on
// truncated uploads.
func Content(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
