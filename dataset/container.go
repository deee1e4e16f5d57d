// File: dataset/container.go
// Author: momentics <momentics@gmail.com>
//
// Shared child-map logic of Table (rows) and Dataset (tables).

package dataset

import "sync"

// ChangeKind tells structural subscribers what happened to a child.
type ChangeKind int

const (
	ChildAdded ChangeKind = iota + 1
	ChildRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChildAdded:
		return "added"
	case ChildRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// CallbackToken identifies a callback subscribed on a row or container.
type CallbackToken uint64

// StructureCallback observes additions and removals of children. It runs
// under the container lock and must not re-enter the container.
type StructureCallback[C any] func(kind ChangeKind, child C)

type child interface {
	comparable
	Key() Key
	Name() string
}

type structSub[C any] struct {
	token CallbackToken
	fn    StructureCallback[C]
}

// container owns a Key->child map plus an index slice for positional
// queries. Every method takes mu; hooks passed in run under it.
type container[C child] struct {
	mu       sync.Mutex
	children map[Key]C
	list     []C
	subs     []structSub[C]
	next     CallbackToken
}

func newContainer[C child]() container[C] {
	return container[C]{children: make(map[Key]C)}
}

// add creates and inserts a child. create may veto by returning false.
// added runs after insertion and before the notification.
func (c *container[C]) add(key Key, create func() (C, bool), added func(C)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.children[key]; exists {
		return false
	}
	ch, ok := create()
	if !ok {
		return false
	}
	c.children[key] = ch
	c.list = append(c.list, ch)
	if added != nil {
		added(ch)
	}
	c.notify(ChildAdded, ch)
	return true
}

// remove detaches, notifies and erases one child, in that order.
func (c *container[C]) remove(key Key, detach func(C)) (C, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.children[key]
	if !ok {
		return ch, false
	}
	c.eraseLocked(ch, detach)
	return ch, true
}

// removeChild is remove for a specific child; false when key now maps to
// something else.
func (c *container[C]) removeChild(ch C, detach func(C)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.children[ch.Key()]; !ok || cur != ch {
		return false
	}
	c.eraseLocked(ch, detach)
	return true
}

// clear removes every child like remove does and returns them.
func (c *container[C]) clear(detach func(C)) []C {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := append([]C(nil), c.list...)
	for _, ch := range removed {
		c.eraseLocked(ch, detach)
	}
	return removed
}

func (c *container[C]) eraseLocked(ch C, detach func(C)) {
	if detach != nil {
		detach(ch)
	}
	c.notify(ChildRemoved, ch)
	delete(c.children, ch.Key())
	for i, x := range c.list {
		if x == ch {
			c.list = append(c.list[:i], c.list[i+1:]...)
			break
		}
	}
}

func (c *container[C]) query(key Key) (C, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.children[key]
	return ch, ok
}

func (c *container[C]) queryByIndex(i int) (C, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.list) {
		var zero C
		return zero, false
	}
	return c.list[i], true
}

// queryByName returns the first child with the given name.
func (c *container[C]) queryByName(name string) (C, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.list {
		if ch.Name() == name {
			return ch, true
		}
	}
	var zero C
	return zero, false
}

func (c *container[C]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.list)
}

func (c *container[C]) snapshot() []C {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]C(nil), c.list...)
}

func (c *container[C]) subscribe(fn StructureCallback[C]) CallbackToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.subs = append(c.subs, structSub[C]{token: c.next, fn: fn})
	return c.next
}

func (c *container[C]) unsubscribe(token CallbackToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s.token == token {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (c *container[C]) notify(kind ChangeKind, ch C) {
	for _, s := range c.subs {
		s.fn(kind, ch)
	}
}
