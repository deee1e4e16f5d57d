//go:build linux

package concurrency

import "golang.org/x/sys/unix"

func platformThreadID() uint64 {
	return uint64(unix.Gettid())
}
