// Package dataset
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactive hierarchical store: a Dataset owns Tables, a Table owns Rows.
//
// Children are created only through their container's Add operation and
// destroyed only through Remove or the teardown of their parent. Every child
// keeps a non-owning back-reference to its parent which resolves to nil once
// the parent is torn down or collected.
//
// Locking: every container guards its children and its structural
// subscribers with one mutex, and fans out notifications while holding it.
// A Row fans out data notifications under its own mutex, which keeps
// deliveries in write order. Callbacks therefore must not block and must
// not synchronously mutate, subscribe to or unsubscribe from the container
// that notified them; doing so deadlocks. Post the work to a dispatch
// context instead.
package dataset
