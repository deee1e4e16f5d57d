// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines abstract pooling APIs used by the cross-thread bridge.

package api

// ObjectPool provides generic pooling of Go objects allocated transiently.
type ObjectPool[T any] interface {
	// Get returns an available instance from pool, or a fresh one.
	Get() T

	// Put returns an instance for reuse.
	Put(obj T)
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Allocated int64 // objects created for the pool
	Pooled    int   // objects currently idle in the pool
	Misses    int64 // Get calls served by an un-pooled allocation
}
