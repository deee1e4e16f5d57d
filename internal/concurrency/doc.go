// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Low-level concurrency primitives backing the dispatch contexts: worker
// thread identity, CPU pinning of worker threads and the unbounded FIFO
// that holds queued actions.
//
// Thread identity relies on the worker goroutine being locked to its OS
// thread (runtime.LockOSThread). While it is locked no other goroutine may
// run on that thread, so comparing thread ids is an exact identity check.
package concurrency
