// Package dispatch
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cooperative single-thread-per-context execution engine.
//
// A Context owns one worker goroutine locked to one OS thread, an action
// queue and a timer list. Work posted from any goroutine runs on the worker
// in FIFO order; work posted from the worker itself runs inline unless the
// caller forces asynchronous execution. Disposing a context cancels every
// action still queued, so no waiter is left hanging.
//
// Dispatcher is the thin façade components hold on to: begin/end/invoke,
// timer registration and the AsyncLoop helper.
package dispatch
