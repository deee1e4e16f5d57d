// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-growth object and buffer pools for the delivery path.
// Pools never block: an exhausted pool hands out a fresh object and counts
// a miss. They carry no locks of their own; the owner serializes access.
// See growing.go and buffers.go.
package pool
