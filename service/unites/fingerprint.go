package unites

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint derives the deduplication key under which at most one uniting
// state is ever created: a stable hash over the run id, the barrier
// identifier and the ancestor id set at the fanout boundary. The ancestor
// set is hashed order-independently.
func Fingerprint(runID, barrierIdentifier string, boundaryParents []string) string {
	sorted := append([]string(nil), boundaryParents...)
	sort.Strings(sorted)

	hasher := sha256.New()
	hasher.Write([]byte(runID))
	hasher.Write([]byte{0x1f})
	hasher.Write([]byte(barrierIdentifier))
	for _, parent := range sorted {
		hasher.Write([]byte{0x1f})
		hasher.Write([]byte(parent))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
