// File: pool/buffers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte buffer pool for row payload copies.

package pool

import "github.com/momentics/hioload-db/api"

// Buffers pools payload buffers. A pool created with size > 0 hands out
// buffers of exactly that length. A pool created with size <= 0 serves
// rows of unbounded size and grows each buffer on demand.
type Buffers struct {
	g    *Growing[[]byte]
	size int
}

// NewBuffers creates a buffer pool.
func NewBuffers(size, grow, max int) *Buffers {
	b := &Buffers{size: size}
	b.g = NewGrowing(grow, max, func() []byte {
		if size > 0 {
			return make([]byte, size)
		}
		return nil
	})
	return b
}

// Get returns a buffer of length n. For fixed pools n is ignored.
func (b *Buffers) Get(n int) []byte {
	buf, _ := b.Take(n)
	return buf
}

// Take is Get that also reports whether the buffer came from the pool.
func (b *Buffers) Take(n int) ([]byte, bool) {
	buf, pooled := b.g.Take()
	if b.size > 0 {
		return buf[:b.size], pooled
	}
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	return buf[:n], pooled
}

// Put recycles buf.
func (b *Buffers) Put(buf []byte) {
	if b.size > 0 && cap(buf) < b.size {
		return
	}
	b.g.Put(buf[:0])
}

// Stats reports pool counters.
func (b *Buffers) Stats() api.PoolStats {
	return b.g.Stats()
}
