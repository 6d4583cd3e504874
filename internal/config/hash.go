package config

import "hash/fnv"

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
// Used to skip redundant reload publishes when file content is unchanged.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
