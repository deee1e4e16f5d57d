// File: internal/concurrency/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

// ThreadID identifies the thread running the caller. On Linux it is the
// kernel thread id; elsewhere it falls back to the goroutine id. Both are
// stable for a goroutine locked to its OS thread.
func ThreadID() uint64 {
	return platformThreadID()
}
