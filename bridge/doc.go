// Package bridge
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package bridge delivers row changes on a chosen target context instead of
// the writer's goroutine. For every (row, target) pair it keeps a
// registration wrapper with two pools: payload buffers sized to the row and
// pre-built delivery runnables bound to the target. A notification copies
// the payload into a pooled buffer and posts a pooled delivery, so steady
// state delivery does not allocate. Exhausted pools fall back to fresh
// objects and never block the writer.
//
// Deliveries for one row reach the target in write order.
//
// Locks: the base lock and each wrapper lock are never held while calling
// into rows, tables or the subscription registry.
package bridge
