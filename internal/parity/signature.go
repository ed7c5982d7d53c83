package parity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Signature returns the hex digest of the canonical serialization of a
// reduced structure. encoding/json sorts map keys, so the digest is
// stable regardless of the order fields were assembled in.
func Signature(r Reduced) string {
	raw, err := json.Marshal(r)
	if err != nil {
		// Reduced holds only scalars, maps and slices of the same, so
		// marshal cannot fail on real input. Degrade to an empty-object
		// digest rather than propagating.
		raw = []byte("{}")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
