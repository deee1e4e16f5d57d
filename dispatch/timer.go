// File: dispatch/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer engine of a context. Buckets group clients that fire together:
// infinite clients with the same interval share one bucket, finite clients
// always get their own. All fields are guarded by the owning context's mutex,
// except timerClient.active which the worker reads unlocked.

package dispatch

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-db/api"
)

type timerClient struct {
	token     api.TimerToken
	fn        func()
	remaining uint32 // 0 = infinite
	active    atomic.Bool
	bucket    *timerBucket
}

type timerBucket struct {
	interval time.Duration
	deadline time.Time
	shared   bool
	clients  []*timerClient
}

type timerEngine struct {
	buckets []*timerBucket
	clients map[api.TimerToken]*timerClient
}

func (te *timerEngine) register(token api.TimerToken, interval time.Duration, fn func(), count uint32, now time.Time) {
	if te.clients == nil {
		te.clients = make(map[api.TimerToken]*timerClient)
	}
	c := &timerClient{token: token, fn: fn, remaining: count}
	c.active.Store(true)

	var b *timerBucket
	if count == 0 {
		for _, cand := range te.buckets {
			if cand.shared && cand.interval == interval {
				b = cand
				break
			}
		}
	}
	if b == nil {
		b = &timerBucket{interval: interval, deadline: now.Add(interval), shared: count == 0}
		te.buckets = append(te.buckets, b)
	}
	c.bucket = b
	b.clients = append(b.clients, c)
	te.clients[token] = c
}

func (te *timerEngine) unregister(token api.TimerToken) bool {
	c, ok := te.clients[token]
	if !ok {
		return false
	}
	te.remove(c)
	return true
}

func (te *timerEngine) remove(c *timerClient) {
	c.active.Store(false)
	delete(te.clients, c.token)
	b := c.bucket
	for i, cc := range b.clients {
		if cc == c {
			b.clients = append(b.clients[:i], b.clients[i+1:]...)
			break
		}
	}
	if len(b.clients) > 0 {
		return
	}
	for i, bb := range te.buckets {
		if bb == b {
			te.buckets = append(te.buckets[:i], te.buckets[i+1:]...)
			break
		}
	}
}

// collectDue appends the clients of every elapsed bucket to dst, consumes
// one invocation of each finite client and reschedules the buckets from
// now. Exhausted clients are removed before they run for the last time.
func (te *timerEngine) collectDue(now time.Time, dst []*timerClient) []*timerClient {
	for i := 0; i < len(te.buckets); i++ {
		b := te.buckets[i]
		if now.Before(b.deadline) {
			continue
		}
		b.deadline = now.Add(b.interval)
		for j := 0; j < len(b.clients); j++ {
			c := b.clients[j]
			dst = append(dst, c)
			if c.remaining == 0 {
				continue
			}
			c.remaining--
			if c.remaining == 0 {
				// The client runs once more but is no longer registered.
				te.remove(c)
				c.active.Store(true)
				j--
			}
		}
		if len(b.clients) == 0 {
			// remove dropped the bucket; the next one shifted into slot i.
			i--
		}
	}
	return dst
}

func (te *timerEngine) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, b := range te.buckets {
		if next.IsZero() || b.deadline.Before(next) {
			next = b.deadline
		}
	}
	return next, !next.IsZero()
}

func (te *timerEngine) len() int {
	return len(te.clients)
}

func (te *timerEngine) clear() {
	for _, c := range te.clients {
		c.active.Store(false)
	}
	te.buckets = nil
	te.clients = nil
}
