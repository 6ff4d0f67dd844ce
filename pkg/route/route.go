// Package route provides the deterministic hash-based routing used to pick
// a cmd-queue worker, an op-queue/consumer, and a bitmap-cache shard from a
// key, all of the shape hash(key) & (n-1) with n a power of two.
package route

import "github.com/cespare/xxhash/v2"

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Index returns hash(key) & (n-1). n must be a power of two.
func Index(key []byte, n int) int {
	h := xxhash.Sum64(key)
	return int(h & uint64(n-1))
}

// IndexString is Index for a string key, avoiding an extra allocation.
func IndexString(key string, n int) int {
	h := xxhash.Sum64String(key)
	return int(h & uint64(n-1))
}
