// Package runid derives the deterministic run_id from a request's raw bytes
// and seed, per spec.md §4.5. SHA-256 is the one place this repo reaches for
// the standard library over a pack-grounded dependency; see DESIGN.md for why
// that's the right call here.
package runid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Derive computes run_id = "r_" + hex(SHA-256(requestBytes || seed_le)).
func Derive(requestBytes []byte, seed int64) string {
	var seedLE [8]byte
	binary.LittleEndian.PutUint64(seedLE[:], uint64(seed))

	h := sha256.New()
	h.Write(requestBytes)
	h.Write(seedLE[:])
	return "r_" + hex.EncodeToString(h.Sum(nil))
}
