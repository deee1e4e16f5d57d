//go:build linux

// File: internal/concurrency/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux affinity through sched_setaffinity, no cgo required.

package concurrency

import "golang.org/x/sys/unix"

// platformPinCurrentThread binds the current OS thread to cpuID.
func platformPinCurrentThread(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	// pid 0 targets the calling thread.
	return unix.SchedSetaffinity(0, &set)
}
