package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// Seeds and hashing
// --------------------------------------------------------------------------

// GenerateSeed returns a random seed for shard hashing.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// HashString hashes s with FNV-1a, mixing the seed into the offset basis.
func HashString(s string, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return hash
}

// ShardFor maps key to one of n shards.
func ShardFor(key string, seed uint64, n int) int {
	if n <= 1 {
		return 0
	}
	return int(HashString(key, seed) % uint64(n))
}
