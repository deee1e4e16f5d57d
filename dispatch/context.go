// File: dispatch/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Context is the unit of sequential execution: one worker goroutine locked
// to one OS thread, a FIFO of runnables, a timer engine and, for
// suspendable contexts, a suspend flag.
//
// Stop protocol follows the event loop: quit is closed on Dispose, done is
// closed when the worker returns.

package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/control"
	"github.com/momentics/hioload-db/internal/concurrency"
)

// Option configures a Context.
type Option func(*options)

type options struct {
	name        string
	logger      *slog.Logger
	onPanic     func(error)
	suspendable bool
	suspended   bool
	cpu         int
	queueHint   int
	metrics     *control.Metrics
}

// WithName labels the context in logs and metrics.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithExceptionHandler installs the handler that receives panics and errors
// recovered at the worker loop boundary.
func WithExceptionHandler(fn func(error)) Option { return func(o *options) { o.onPanic = fn } }

// WithSuspendable makes the context suspendable. When startSuspended is
// true nothing is drained until Resume.
func WithSuspendable(startSuspended bool) Option {
	return func(o *options) {
		o.suspendable = true
		o.suspended = startSuspended
	}
}

// WithCPU pins the worker thread to a CPU. Negative values leave it unpinned.
func WithCPU(cpu int) Option { return func(o *options) { o.cpu = cpu } }

// WithQueueHint sizes the worker's batch buffer for n queued runnables.
func WithQueueHint(n int) Option { return func(o *options) { o.queueHint = n } }

// WithMetrics reports queue and timer activity.
func WithMetrics(m *control.Metrics) Option { return func(o *options) { o.metrics = m } }

// Context owns a worker thread, an action queue and a timer list.
type Context struct {
	id          uuid.UUID
	name        string
	log         *slog.Logger
	metrics     *control.ContextMetrics
	onPanic     func(error)
	suspendable bool

	mu        sync.Mutex
	queue     *concurrency.Queue[api.Runnable]
	timers    timerEngine
	suspended atomic.Bool // written under mu
	disposed  atomic.Bool // written under mu

	nextToken atomic.Uint64
	tid       atomic.Uint64
	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	quitOnce  sync.Once
}

var (
	_ api.Invoker        = (*Context)(nil)
	_ api.TimerRegistrar = (*Context)(nil)
)

// NewContext starts a context. The worker thread is running when it returns.
func NewContext(opts ...Option) *Context {
	o := options{cpu: -1}
	for _, fn := range opts {
		fn(&o)
	}
	c := &Context{
		id:          uuid.New(),
		name:        o.name,
		onPanic:     o.onPanic,
		suspendable: o.suspendable,
		queue:       concurrency.NewQueue[api.Runnable](),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if c.name == "" {
		c.name = "ctx-" + c.id.String()[:8]
	}
	c.log = o.logger
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("context", c.name)
	c.suspended.Store(o.suspended)
	c.metrics = o.metrics.ForContext(c.name)

	ready := make(chan struct{})
	go c.run(o.cpu, o.queueHint, ready)
	<-ready
	return c
}

// ID returns the unique identity of the context.
func (c *Context) ID() uuid.UUID { return c.id }

// Name returns the context label.
func (c *Context) Name() string { return c.name }

// IsCurrent reports whether the caller runs on the worker thread.
func (c *Context) IsCurrent() bool {
	tid := c.tid.Load()
	return tid != 0 && tid == concurrency.ThreadID()
}

// Disposed reports whether Dispose was called.
func (c *Context) Disposed() bool { return c.disposed.Load() }

// Done is closed once the worker thread has exited.
func (c *Context) Done() <-chan struct{} { return c.done }

// Pending returns the number of queued runnables.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Post enqueues r and wakes the worker. It never blocks. When forceAsync is
// false and the caller is the worker thread, r runs inline.
func (c *Context) Post(r api.Runnable, forceAsync bool) error {
	api.Must(r != nil, "nil runnable")
	if !forceAsync && c.IsCurrent() {
		if c.disposed.Load() {
			return c.disposedErr("post")
		}
		c.metrics.Posted()
		r.Run()
		c.metrics.Executed(1)
		return nil
	}

	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return c.disposedErr("post")
	}
	c.queue.Push(r)
	c.mu.Unlock()
	c.metrics.Posted()
	c.signal()
	return nil
}

// BeginInvoke schedules fn and returns its action without waiting.
func (c *Context) BeginInvoke(fn func(), forceAsync bool) (*Action, error) {
	api.Must(fn != nil, "nil action")
	a := newAction(c, func() error {
		fn()
		return nil
	})
	if err := c.Post(a, forceAsync); err != nil {
		return nil, err
	}
	return a, nil
}

// Invoke runs fn on the worker and waits for it.
func (c *Context) Invoke(fn func()) error {
	a, err := c.BeginInvoke(fn, false)
	if err != nil {
		return err
	}
	a.Wait()
	return a.Err()
}

// Sync waits until every runnable queued before the call has been drained.
func (c *Context) Sync() error {
	return c.Invoke(func() {})
}

// BeginInvokeResult schedules a value-producing fn on c.
func BeginInvokeResult[T any](c *Context, fn func() (T, error), forceAsync bool) (*ResultAction[T], error) {
	api.Must(fn != nil, "nil action")
	ra := &ResultAction[T]{}
	ra.Action = newAction(c, func() error {
		v, err := fn()
		ra.value = v
		return err
	})
	if err := c.Post(ra.Action, forceAsync); err != nil {
		return nil, err
	}
	return ra, nil
}

// InvokeResult runs fn on c and returns its value.
func InvokeResult[T any](c *Context, fn func() (T, error)) (T, error) {
	ra, err := BeginInvokeResult(c, fn, false)
	if err != nil {
		var zero T
		return zero, err
	}
	ra.Wait()
	v, _ := ra.Value()
	return v, ra.Err()
}

// Suspend stops draining queued work and timers until Resume.
func (c *Context) Suspend() error {
	if !c.suspendable {
		return errors.WithStack(api.ErrNotSuspendable)
	}
	c.mu.Lock()
	c.suspended.Store(true)
	c.mu.Unlock()
	return nil
}

// Resume drains what accumulated while suspended.
func (c *Context) Resume() error {
	if !c.suspendable {
		return errors.WithStack(api.ErrNotSuspendable)
	}
	c.mu.Lock()
	c.suspended.Store(false)
	c.mu.Unlock()
	c.signal()
	return nil
}

// Suspended reports the suspend flag.
func (c *Context) Suspended() bool { return c.suspended.Load() }

// RegisterTimer invokes fn on the worker every interval; count == 0 repeats
// until UnregisterTimer, otherwise the timer removes itself after count runs.
func (c *Context) RegisterTimer(interval time.Duration, fn func(), count uint32) (api.TimerToken, error) {
	api.Must(fn != nil, "nil timer callback")
	api.Must(interval > 0, "non-positive timer interval")
	token := api.TimerToken(c.nextToken.Add(1))

	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return 0, c.disposedErr("register timer")
	}
	c.timers.register(token, interval, fn, count, time.Now())
	c.mu.Unlock()
	c.signal()
	return token, nil
}

// UnregisterTimer removes a timer; false if unknown or already exhausted.
func (c *Context) UnregisterTimer(token api.TimerToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers.unregister(token)
}

// Timers returns the number of registered timer clients.
func (c *Context) Timers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers.len()
}

// Dispose cancels queued work, drops timers and stops the worker. From any
// other goroutine it waits for the worker to exit; from the worker itself it
// only signals, since joining would deadlock. Safe to call more than once.
func (c *Context) Dispose() {
	c.mu.Lock()
	var cancelled []api.Runnable
	if !c.disposed.Load() {
		c.disposed.Store(true)
		cancelled = c.queue.DrainTo(nil, 0)
		c.timers.clear()
	}
	c.mu.Unlock()

	for _, r := range cancelled {
		r.Cancel()
	}
	c.metrics.Cancelled(len(cancelled))
	c.quitOnce.Do(func() { close(c.quit) })

	if c.IsCurrent() {
		return
	}
	<-c.done
}

func (c *Context) disposedErr(op string) error {
	return api.Wrap(api.ErrContextDisposed, api.ErrCodeDisposed, op).WithContext("context", c.name)
}

func (c *Context) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Context) run(cpu, hint int, ready chan<- struct{}) {
	if err := concurrency.PinCurrentThread(cpu); err != nil {
		c.log.Warn("worker pinning failed", "cpu", cpu, "err", err)
	}
	c.tid.Store(concurrency.ThreadID())
	close(ready)
	c.log.Debug("worker started", "id", c.id)

	pending := make([]api.Runnable, 0, max(hint, 0))
	var due []*timerClient
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	defer func() {
		for i, r := range pending {
			r.Cancel()
			pending[i] = nil
		}
		c.metrics.Cancelled(len(pending))
		c.tid.Store(0)
		close(c.done)
		c.log.Debug("worker stopped")
	}()

	for {
		c.mu.Lock()
		if c.disposed.Load() {
			c.mu.Unlock()
			return
		}
		suspended := c.suspended.Load()
		if !suspended {
			pending = c.queue.DrainTo(pending, 0)
		}
		c.metrics.QueueDepth(c.queue.Len())
		c.mu.Unlock()

		if !suspended {
			pending = c.runPending(pending)
			if c.disposed.Load() {
				return
			}
			if !c.suspended.Load() {
				due = c.fireTimers(due[:0])
			}
		}

		c.mu.Lock()
		if c.disposed.Load() {
			c.mu.Unlock()
			return
		}
		busy := !c.suspended.Load() && (len(pending) > 0 || c.queue.Len() > 0)
		next, armed := time.Time{}, false
		if !c.suspended.Load() {
			next, armed = c.timers.nextDeadline()
		}
		c.mu.Unlock()

		if busy {
			continue
		}
		if armed {
			d := time.Until(next)
			if d <= 0 {
				continue
			}
			timer.Reset(d)
		}
		select {
		case <-c.wake:
		case <-timer.C:
		case <-c.quit:
		}
		timer.Stop()
	}
}

// runPending runs queued work in order. An unhandled panic ends the
// iteration; what was not run yet is kept at the front for the next one.
// A Suspend issued by one of the runnables puts the rest back in the queue.
func (c *Context) runPending(pending []api.Runnable) []api.Runnable {
	executed := 0
	for i, r := range pending {
		if c.suspended.Load() && c.requeue(pending[i:]) {
			clear(pending[i:])
			c.metrics.Executed(executed)
			return pending[:0]
		}
		if c.disposed.Load() {
			// Dispose drained the queue; these were taken out before it.
			rest := pending[i:]
			for j, rr := range rest {
				rr.Cancel()
				rest[j] = nil
			}
			c.metrics.Cancelled(len(rest))
			break
		}
		pending[i] = nil
		executed++
		if !c.safeRun(r.Run) {
			n := copy(pending, pending[i+1:])
			clear(pending[n:])
			c.metrics.Executed(executed)
			return pending[:n]
		}
	}
	c.metrics.Executed(executed)
	return pending[:0]
}

// requeue returns rest to the head of the queue while the context is still
// suspended and live. It reports false when the caller should keep running.
func (c *Context) requeue(rest []api.Runnable) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.suspended.Load() || c.disposed.Load() {
		return false
	}
	c.queue.PushFront(rest)
	c.metrics.QueueDepth(c.queue.Len())
	return true
}

func (c *Context) fireTimers(due []*timerClient) []*timerClient {
	c.mu.Lock()
	due = c.timers.collectDue(time.Now(), due)
	c.mu.Unlock()

	for i, tc := range due {
		due[i] = nil
		if !tc.active.Load() || c.disposed.Load() {
			continue
		}
		c.metrics.TimerFired()
		if !c.safeRun(tc.fn) {
			clear(due[i:])
			break
		}
	}
	return due[:0]
}

// safeRun is the loop boundary. It reports false when a panic escaped fn
// and no exception handler took it.
func (c *Context) safeRun(fn func()) (ok bool) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		pe := asPanicError(p)
		c.metrics.Panic()
		if c.onPanic != nil {
			c.onPanic(pe)
			ok = true
			return
		}
		c.log.Error("unhandled panic in worker", "err", pe, "stack", string(pe.Stack))
		ok = false
	}()
	fn()
	return true
}
