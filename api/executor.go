// Package api
// Author: momentics
//
// Invoker contract for marshaling work onto a single-threaded context.

package api

// Invoker abstracts a single-threaded execution context.
type Invoker interface {
	// Post enqueues r. When forceAsync is false and the caller already runs
	// on the worker thread, r runs inline.
	Post(r Runnable, forceAsync bool) error

	// IsCurrent reports whether the caller runs on the worker thread.
	IsCurrent() bool
}
