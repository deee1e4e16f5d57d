// File: dataset/disposable.go
// Author: momentics <momentics@gmail.com>
//
// Disposal notification shared by rows, tables and datasets.

package dataset

import "sync"

// DisposeToken identifies a disposal callback.
type DisposeToken uint64

type disposeHook struct {
	token DisposeToken
	fn    func()
}

// disposable runs registered hooks exactly once when its owner is torn down.
type disposable struct {
	dmu      sync.Mutex
	disposed bool
	next     DisposeToken
	hooks    []disposeHook
}

// RegisterDisposableCallback registers fn to run when the object is
// disposed. It fails when the object is already disposed.
func (d *disposable) RegisterDisposableCallback(fn func()) (DisposeToken, bool) {
	d.dmu.Lock()
	defer d.dmu.Unlock()
	if d.disposed {
		return 0, false
	}
	d.next++
	d.hooks = append(d.hooks, disposeHook{token: d.next, fn: fn})
	return d.next, true
}

// UnregisterDisposableCallback drops a disposal callback.
func (d *disposable) UnregisterDisposableCallback(token DisposeToken) bool {
	d.dmu.Lock()
	defer d.dmu.Unlock()
	for i, h := range d.hooks {
		if h.token == token {
			d.hooks = append(d.hooks[:i], d.hooks[i+1:]...)
			return true
		}
	}
	return false
}

// Disposed reports whether the object has been torn down.
func (d *disposable) Disposed() bool {
	d.dmu.Lock()
	defer d.dmu.Unlock()
	return d.disposed
}

// dispose marks the object and runs the hooks in registration order,
// outside the lock so hooks may take other locks.
func (d *disposable) dispose() bool {
	d.dmu.Lock()
	if d.disposed {
		d.dmu.Unlock()
		return false
	}
	d.disposed = true
	hooks := d.hooks
	d.hooks = nil
	d.dmu.Unlock()

	for _, h := range hooks {
		h.fn()
	}
	return true
}
