package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-db/pool"
)

func TestGrowing_GrowsByStep(t *testing.T) {
	created := 0
	p := pool.NewGrowing(4, 8, func() *int {
		created++
		v := created
		return &v
	})

	first := p.Get()
	require.NotNil(t, first)
	assert.Equal(t, 4, created, "first Get allocates one growth step")
	assert.Equal(t, 3, p.Stats().Pooled)

	for i := 0; i < 3; i++ {
		p.Get()
	}
	p.Get()
	assert.Equal(t, 8, created, "second step reaches max")
	assert.EqualValues(t, 8, p.Stats().Allocated)
	assert.Zero(t, p.Stats().Misses)
}

func TestGrowing_ExhaustedFallsBack(t *testing.T) {
	p := pool.NewGrowing(2, 2, func() []byte { return make([]byte, 4) })
	a, b := p.Get(), p.Get()
	c := p.Get()
	require.Len(t, c, 4)
	assert.EqualValues(t, 1, p.Stats().Misses)

	p.Put(a)
	p.Put(b)
	p.Put(c) // over max, dropped
	assert.Equal(t, 2, p.Stats().Pooled)
}

func TestGrowing_Reuse(t *testing.T) {
	p := pool.NewGrowing(1, 1, func() *struct{ n int } { return &struct{ n int }{} })
	obj := p.Get()
	obj.n = 7
	p.Put(obj)
	assert.Same(t, obj, p.Get())
}

func TestBuffers_Fixed(t *testing.T) {
	b := pool.NewBuffers(16, 2, 4)
	buf := b.Get(3)
	assert.Len(t, buf, 16, "fixed pools ignore the requested length")
	b.Put(buf)
	again := b.Get(0)
	assert.Equal(t, &buf[0], &again[0], "buffer is reused")
}

func TestBuffers_Unbounded(t *testing.T) {
	b := pool.NewBuffers(0, 1, 1)
	small := b.Get(4)
	require.Len(t, small, 4)
	b.Put(small)

	big := b.Get(64)
	require.Len(t, big, 64)
	b.Put(big)

	again := b.Get(32)
	assert.Len(t, again, 32)
	assert.GreaterOrEqual(t, cap(again), 64, "grown buffer is kept")
}

func TestGrowing_TakeReportsOrigin(t *testing.T) {
	p := pool.NewGrowing(1, 1, func() *int { return new(int) })
	a, pooled := p.Take()
	require.True(t, pooled)
	_, pooled = p.Take()
	assert.False(t, pooled)
	p.Put(a)

	buf := pool.NewBuffers(8, 1, 1)
	_, pooled = buf.Take(8)
	assert.True(t, pooled)
	_, pooled = buf.Take(8)
	assert.False(t, pooled)
}

func TestGrowing_SteadyStateDoesNotAllocate(t *testing.T) {
	p := pool.NewGrowing(4, 4, func() *int { return new(int) })
	b := pool.NewBuffers(32, 4, 4)
	// Warm up so the free lists reach their final capacity.
	p.Put(p.Get())
	b.Put(b.Get(32))

	allocs := testing.AllocsPerRun(100, func() {
		obj := p.Get()
		buf := b.Get(32)
		b.Put(buf)
		p.Put(obj)
	})
	assert.Zero(t, allocs)
}
