// Package content implements §4.7 content addressing: streaming
// content hashes, coarse content-kind detection via a fast extension
// matcher, and the deterministic UUID derivation that lets two devices
// converge on one ContentIdentity for identical bytes without a sync
// round-trip.
package content

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// HashPrefix tags a content hash string with its algorithm, so a future
// migration to a different hash function doesn't collide with existing
// rows (content_hash is UNIQUE across the whole library).
const HashPrefix = "blake3:"

// StreamHash computes the content hash of r, streaming it through BLAKE3
// rather than buffering the whole file in memory (§4.7: "streaming the
// file through a cryptographic hash").
func StreamHash(r io.Reader) (string, error) {
	h := blake3.New()

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("content: stream hash: %w", err)
	}

	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint computes a short BLAKE3 digest over arbitrary identity
// material — used for Volume fingerprints (§3 Volume: "BLAKE3 of
// device-id ⧺ mount-point ⧺ name ⧺ capacity ⧺ filesystem") and pairing
// discovery fingerprints (§4.4).
func Fingerprint(parts ...string) string {
	h := blake3.New()

	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0}) // separator, prevents "ab"+"c" == "a"+"bc" collisions
	}

	return hex.EncodeToString(h.Sum(nil))
}
