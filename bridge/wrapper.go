// File: bridge/wrapper.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/dataset"
	"github.com/momentics/hioload-db/dispatch"
	"github.com/momentics/hioload-db/pool"
)

// subscriber is one user callback riding on a wrapper. live flips to false
// on unsubscribe so in-flight deliveries skip it.
type subscriber struct {
	fn   dataset.RowCallback
	live atomic.Bool
}

func newSubscriber(fn dataset.RowCallback) *subscriber {
	s := &subscriber{fn: fn}
	s.live.Store(true)
	return s
}

// delivery carries one payload copy to the target context.
type delivery struct {
	w      *wrapper
	row    *dataset.Row
	buf    []byte
	pooled bool
}

var _ api.Runnable = (*delivery)(nil)

func (d *delivery) Run() {
	w := d.w
	defer w.release(d)
	if subs := w.subs.Load(); subs != nil {
		for _, s := range *subs {
			if s.live.Load() {
				s.fn(d.row, d.buf)
			}
		}
	}
	w.base.metrics.Notification()
}

// Cancel returns the delivery to its pools when the target is disposed.
func (d *delivery) Cancel() { d.w.release(d) }

// wrapper is the registration wrapper of one (row, target) pair.
type wrapper struct {
	base   *DispatcherBase
	key    bindingKey
	row    *dataset.Row
	target *dispatch.Context

	mu      sync.Mutex
	buffers *pool.Buffers
	actions *pool.Growing[*delivery]
	closed  bool

	subs atomic.Pointer[[]*subscriber]

	regTok     dataset.Token
	disposeTok dataset.DisposeToken
}

func (b *DispatcherBase) newWrapper(row *dataset.Row, target *dispatch.Context) *wrapper {
	w := &wrapper{
		base:   b,
		key:    bindingKey{row: row, target: target},
		row:    row,
		target: target,
	}
	size := row.DataSize()
	if size == dataset.UnboundedSize {
		size = 0 // grow on demand
	}
	w.buffers = pool.NewBuffers(size, b.cfg.Buffers.Grow, b.cfg.Buffers.Max)
	w.actions = pool.NewGrowing(b.cfg.Actions.Grow, b.cfg.Actions.Max, func() *delivery {
		return &delivery{w: w}
	})
	return w
}

// publish runs on the writer's goroutine under the row lock.
func (w *wrapper) publish(row *dataset.Row, data []byte) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	buf, bufPooled := w.buffers.Take(len(data))
	d, pooled := w.actions.Take()
	w.mu.Unlock()

	if !bufPooled {
		w.base.exhausted("buffers", w)
	}
	if !pooled {
		w.base.exhausted("actions", w)
	}
	copy(buf, data)
	d.row, d.buf, d.pooled = row, buf[:len(data)], pooled
	if err := w.target.Post(d, true); err != nil {
		w.release(d)
		w.base.log.Debug("bridge delivery dropped", "target", w.target.Name(), "err", err)
	}
}

func (w *wrapper) release(d *delivery) {
	buf, pooled := d.buf, d.pooled
	d.row, d.buf = nil, nil
	w.mu.Lock()
	w.buffers.Put(buf)
	if pooled {
		w.actions.Put(d)
	}
	w.mu.Unlock()
}

// add attaches s; false once the wrapper is closed.
func (w *wrapper) add(s *subscriber) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	var cur []*subscriber
	if p := w.subs.Load(); p != nil {
		cur = *p
	}
	next := make([]*subscriber, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	w.subs.Store(&next)
	return true
}

// remove detaches s. The wrapper closes when its last subscriber leaves;
// the return value reports that.
func (w *wrapper) remove(s *subscriber) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.subs.Load()
	if p == nil {
		return false
	}
	cur := *p
	next := make([]*subscriber, 0, len(cur))
	for _, x := range cur {
		if x != s {
			next = append(next, x)
		}
	}
	w.subs.Store(&next)
	if len(next) == 0 && !w.closed {
		w.closed = true
		return true
	}
	return false
}

func (w *wrapper) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *wrapper) stats() (buffers, actions api.PoolStats) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffers.Stats(), w.actions.Stats()
}
