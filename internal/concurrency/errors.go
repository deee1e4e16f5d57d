// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "github.com/pkg/errors"

var (
	// ErrAffinityNotSupported indicates CPU affinity is not supported on this platform
	ErrAffinityNotSupported = errors.New("CPU affinity not supported")

	// ErrInvalidCPU indicates a CPU index outside the online range
	ErrInvalidCPU = errors.New("invalid CPU index")
)
