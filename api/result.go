// Package api
// Author: momentics@gmail.com
//
// Action states, runnable contract and cancellation.

package api

// ActionState is the lifecycle of a one-shot unit of work.
//
//	pending -> running -> completed | exception | cancelled
//
// A pending action may also go straight to cancelled.
type ActionState int32

const (
	ActionPending ActionState = iota
	ActionRunning
	ActionCompleted
	ActionException
	ActionCancelled
)

// Terminal reports whether no further transition is possible.
func (s ActionState) Terminal() bool {
	return s >= ActionCompleted
}

func (s ActionState) String() string {
	switch s {
	case ActionPending:
		return "pending"
	case ActionRunning:
		return "running"
	case ActionCompleted:
		return "completed"
	case ActionException:
		return "exception"
	case ActionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Runnable is a unit of work accepted by a context queue.
// Exactly one of Run or Cancel is called for every accepted Runnable.
type Runnable interface {
	// Run executes the work on the context worker thread.
	Run()
	// Cancel is called instead of Run when the context is disposed first.
	Cancel()
}
