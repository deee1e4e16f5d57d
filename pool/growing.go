// File: pool/growing.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-growth object pool. It is not safe for concurrent use: every pool
// belongs to exactly one owner that guards it with its own lock, so the
// pool adds no synchronization of its own.

package pool

import "github.com/momentics/hioload-db/api"

// Growing hands out objects from a free list that grows by a fixed step
// until max objects exist. Past that point Get never blocks: it returns a
// fresh un-pooled object and counts a miss.
type Growing[T any] struct {
	free      []T
	newFn     func() T
	grow      int
	max       int
	allocated int64
	misses    int64
}

var _ api.ObjectPool[int] = (*Growing[int])(nil)

// NewGrowing creates a pool. grow and max are clamped to at least 1 and grow.
func NewGrowing[T any](grow, max int, newFn func() T) *Growing[T] {
	if grow < 1 {
		grow = 1
	}
	if max < grow {
		max = grow
	}
	return &Growing[T]{
		free:  make([]T, 0, grow),
		newFn: newFn,
		grow:  grow,
		max:   max,
	}
}

// Get returns an idle object, growing the pool when it is empty.
func (p *Growing[T]) Get() T {
	obj, _ := p.Take()
	return obj
}

// Take is Get that also reports whether obj came from the pool. Un-pooled
// objects should not be handed back with Put.
func (p *Growing[T]) Take() (T, bool) {
	if len(p.free) == 0 {
		p.expand()
	}
	if n := len(p.free); n > 0 {
		obj := p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		return obj, true
	}
	p.misses++
	return p.newFn(), false
}

// Put returns obj to the pool; beyond max idle objects it is dropped.
func (p *Growing[T]) Put(obj T) {
	if len(p.free) >= p.max {
		return
	}
	p.free = append(p.free, obj)
}

// Stats reports pool counters.
func (p *Growing[T]) Stats() api.PoolStats {
	return api.PoolStats{
		Allocated: p.allocated,
		Pooled:    len(p.free),
		Misses:    p.misses,
	}
}

func (p *Growing[T]) expand() {
	step := p.max - int(p.allocated)
	if step <= 0 {
		return
	}
	if step > p.grow {
		step = p.grow
	}
	for i := 0; i < step; i++ {
		p.free = append(p.free, p.newFn())
	}
	p.allocated += int64(step)
}
