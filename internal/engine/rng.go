package engine

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// turnRNG derives a seeded generator from (campaignID, turnNumber, stage) so
// the same turn always reproduces the same rolls. Each stage gets its own
// stream to keep stages order-independent of one another's draw counts.
func turnRNG(campaignID uuid.UUID, turnNumber int, stage string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(campaignID.String()))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.Itoa(turnNumber)))
	h.Write([]byte{':'})
	h.Write([]byte(stage))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// sortedKeys returns map keys in stable order; map iteration order must never
// leak into seeded rolls or event ordering.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
