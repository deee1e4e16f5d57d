// File: internal/concurrency/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cross-platform CPU affinity for context worker threads.

package concurrency

import (
	"runtime"
)

// NumCPUs returns the number of logical CPUs.
func NumCPUs() int {
	return runtime.NumCPU()
}

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpuID. A negative cpuID only locks the thread.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	if cpuID < 0 {
		return nil
	}
	if cpuID >= NumCPUs() {
		return ErrInvalidCPU
	}
	return platformPinCurrentThread(cpuID)
}
