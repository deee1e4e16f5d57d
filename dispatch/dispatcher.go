// File: dispatch/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"time"

	"github.com/momentics/hioload-db/api"
)

// Dispatcher is the façade components hold instead of the Context itself.
type Dispatcher struct {
	ctx *Context
}

// NewDispatcher wraps ctx.
func NewDispatcher(ctx *Context) *Dispatcher {
	api.Must(ctx != nil, "nil context")
	return &Dispatcher{ctx: ctx}
}

// QueryContext returns the context behind the façade.
func (d *Dispatcher) QueryContext() *Context { return d.ctx }

// BeginInvoke schedules fn, see Context.BeginInvoke.
func (d *Dispatcher) BeginInvoke(fn func(), forceAsync bool) (*Action, error) {
	return d.ctx.BeginInvoke(fn, forceAsync)
}

// EndInvoke waits for an action returned by BeginInvoke and returns its error.
func (d *Dispatcher) EndInvoke(a *Action) error {
	a.Wait()
	return a.Err()
}

// Invoke runs fn on the context and waits.
func (d *Dispatcher) Invoke(fn func()) error { return d.ctx.Invoke(fn) }

// RegisterTimer registers a timer on the context.
func (d *Dispatcher) RegisterTimer(interval time.Duration, fn func(), count uint32) (api.TimerToken, error) {
	return d.ctx.RegisterTimer(interval, fn, count)
}

// UnregisterTimer removes a timer from the context.
func (d *Dispatcher) UnregisterTimer(token api.TimerToken) bool {
	return d.ctx.UnregisterTimer(token)
}

// AsyncLoop runs step on the context repeatedly until it returns false.
// Each step is posted as a separate queue entry, so other work queued in
// the meantime interleaves with the loop. The returned action completes
// when the loop ends and is cancelled if the context is disposed first.
func (d *Dispatcher) AsyncLoop(step func() bool) (*Action, error) {
	api.Must(step != nil, "nil loop step")
	l := &asyncLoop{ctx: d.ctx, step: step, done: newAction(d.ctx, nil)}
	if err := d.ctx.Post(l, true); err != nil {
		return nil, err
	}
	return l.done, nil
}

type asyncLoop struct {
	ctx  *Context
	step func() bool
	done *Action
}

func (l *asyncLoop) Run() {
	if l.done.State() == api.ActionPending {
		l.done.state.Store(int32(api.ActionRunning))
	}
	more := false
	func() {
		defer func() {
			if p := recover(); p != nil {
				pe := asPanicError(p)
				l.done.finish(api.ActionException, pe)
				panic(pe)
			}
		}()
		more = l.step()
	}()
	if !more {
		l.done.finish(api.ActionCompleted, nil)
		return
	}
	if err := l.ctx.Post(l, true); err != nil {
		l.Cancel()
	}
}

func (l *asyncLoop) Cancel() {
	if l.done.State().Terminal() {
		return
	}
	l.done.finish(api.ActionCancelled, api.ErrActionCancelled)
}
