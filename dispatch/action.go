// File: dispatch/action.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-db/api"
)

// Action is a one-shot unit of work bound to the context that runs it.
// Terminal states are reached exactly once.
type Action struct {
	owner *Context
	fn    func() error
	state atomic.Int32
	err   error // written before state turns terminal
	done  chan struct{}
}

var _ api.Runnable = (*Action)(nil)

func newAction(owner *Context, fn func() error) *Action {
	return &Action{
		owner: owner,
		fn:    fn,
		done:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (a *Action) State() api.ActionState {
	return api.ActionState(a.state.Load())
}

// Err returns the failure of a terminal action: the error or panic of the
// work for exception, api.ErrActionCancelled for cancelled, nil otherwise.
func (a *Action) Err() error {
	if !a.State().Terminal() {
		return nil
	}
	return a.err
}

// Done is closed once the action is terminal.
func (a *Action) Done() <-chan struct{} {
	return a.done
}

// Run executes the work. A panic marks the action as exception and is
// re-raised so the worker loop can route it to the exception handler.
func (a *Action) Run() {
	if !a.state.CompareAndSwap(int32(api.ActionPending), int32(api.ActionRunning)) {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			pe := asPanicError(p)
			a.finish(api.ActionException, pe)
			panic(pe)
		}
	}()
	var err error
	if a.fn != nil {
		err = a.fn()
	}
	if err != nil {
		a.finish(api.ActionException, err)
		return
	}
	a.finish(api.ActionCompleted, nil)
}

// Cancel moves a pending action to cancelled. Running or terminal actions
// are not affected.
func (a *Action) Cancel() {
	if !a.state.CompareAndSwap(int32(api.ActionPending), int32(api.ActionRunning)) {
		return
	}
	a.finish(api.ActionCancelled, api.ErrActionCancelled)
}

func (a *Action) finish(s api.ActionState, err error) {
	a.err = err
	a.state.Store(int32(s))
	close(a.done)
}

// Wait blocks until the action is terminal. It returns false when the
// action was cancelled.
func (a *Action) Wait() bool {
	return a.WaitTimeout(-1)
}

// WaitTimeout blocks for at most d (forever when d < 0). It returns false
// on timeout or cancellation. Waiting from the owner's worker thread for an
// action that has not completed would deadlock and panics instead.
func (a *Action) WaitTimeout(d time.Duration) bool {
	if !a.State().Terminal() {
		a.checkDeadlock()
		if d < 0 {
			<-a.done
		} else {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-a.done:
			case <-t.C:
				return false
			}
		}
	}
	return a.State() != api.ActionCancelled
}

// WaitContext blocks until the action is terminal or ctx is done and
// returns the action's error, api.ErrActionCancelled or ctx.Err().
func (a *Action) WaitContext(ctx context.Context) error {
	if !a.State().Terminal() {
		a.checkDeadlock()
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.err
}

func (a *Action) checkDeadlock() {
	if a.owner != nil && a.owner.IsCurrent() {
		panic(errors.WithStack(api.ErrWaitOnOwnContext))
	}
}

// ResultAction is an Action that also yields a value.
type ResultAction[T any] struct {
	*Action
	value T
}

// Value returns the computed value once the action completed.
func (r *ResultAction[T]) Value() (T, bool) {
	if r.State() != api.ActionCompleted {
		var zero T
		return zero, false
	}
	return r.value, true
}

func asPanicError(p any) *api.PanicError {
	if pe, ok := p.(*api.PanicError); ok {
		return pe
	}
	return &api.PanicError{Value: p, Stack: debug.Stack()}
}
