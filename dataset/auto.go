// File: dataset/auto.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handles that unsubscribe on Close, singly or in batches.

package dataset

import (
	"io"
	"runtime"
	"sync"
)

// AutoToken owns a row subscription and cancels it exactly once on Close.
// If the handle becomes unreachable without Close, the subscription is
// cancelled by a cleanup on the garbage collector's schedule.
type AutoToken struct {
	tok     Token
	once    sync.Once
	cleanup runtime.Cleanup
}

// NewAutoToken wraps tok. A zero tok yields a handle whose Close is a no-op.
func NewAutoToken(tok Token) *AutoToken {
	a := &AutoToken{tok: tok}
	if tok.Valid() {
		a.cleanup = runtime.AddCleanup(a, func(t Token) { t.Unsubscribe() }, tok)
	}
	return a
}

// Token returns the wrapped token.
func (a *AutoToken) Token() Token { return a.tok }

// Close cancels the subscription. Tolerates an expired row or registry.
func (a *AutoToken) Close() error {
	a.once.Do(func() {
		a.cleanup.Stop()
		a.tok.Unsubscribe()
	})
	return nil
}

// AutoTableToken is AutoToken for table subscriptions.
type AutoTableToken struct {
	tok     TableToken
	once    sync.Once
	cleanup runtime.Cleanup
}

// NewAutoTableToken wraps tok.
func NewAutoTableToken(tok TableToken) *AutoTableToken {
	a := &AutoTableToken{tok: tok}
	if tok.Valid() {
		a.cleanup = runtime.AddCleanup(a, func(t TableToken) { t.Unsubscribe() }, tok)
	}
	return a
}

// Token returns the wrapped token.
func (a *AutoTableToken) Token() TableToken { return a.tok }

// Close cancels the subscription exactly once.
func (a *AutoTableToken) Close() error {
	a.once.Do(func() {
		a.cleanup.Stop()
		a.tok.Unsubscribe()
	})
	return nil
}

// SubscribeAuto subscribes cb to row and returns a closing handle.
func (s *Subscriptions) SubscribeAuto(row *Row, cb RowCallback) (*AutoToken, bool) {
	tok, ok := s.Subscribe(row, cb)
	if !ok {
		return nil, false
	}
	return NewAutoToken(tok), true
}

// SubscribeTableAuto subscribes cb to table and returns a closing handle.
func (s *Subscriptions) SubscribeTableAuto(table *Table, cb RowCallback) (*AutoTableToken, bool) {
	tok, ok := s.SubscribeTable(table, cb)
	if !ok {
		return nil, false
	}
	return NewAutoTableToken(tok), true
}

// Collector is an ordered set of closers, typically auto tokens, released
// together when their consumer is torn down.
type Collector struct {
	mu    sync.Mutex
	items []io.Closer
}

// Add appends c. It returns false when c is nil or already held.
func (c *Collector) Add(x io.Closer) bool {
	if x == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(x) >= 0 {
		return false
	}
	c.items = append(c.items, x)
	return true
}

// Remove closes x and drops it from the set.
func (c *Collector) Remove(x io.Closer) bool {
	c.mu.Lock()
	i := c.indexLocked(x)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.mu.Unlock()
	_ = x.Close()
	return true
}

// Clear closes every held item in insertion order and empties the set.
// It returns the first close error.
func (c *Collector) Clear() error {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()

	var first error
	for _, x := range items {
		if err := x.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Len returns the number of held items.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close is Clear.
func (c *Collector) Close() error { return c.Clear() }

func (c *Collector) indexLocked(x io.Closer) int {
	for i, y := range c.items {
		if y == x {
			return i
		}
	}
	return -1
}
