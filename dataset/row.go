// File: dataset/row.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dataset

import (
	"bytes"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/control"
)

// RowCallback receives a row's payload after a write. data aliases the
// row's buffer and is only valid during the call; copy what must outlive it.
// It runs on the writer's goroutine under the row lock.
type RowCallback func(row *Row, data []byte)

type rowSub struct {
	token CallbackToken
	fn    RowCallback
}

// Row is the leaf of the hierarchy: an immutable key and a byte payload.
type Row struct {
	disposable

	key     Key
	info    RowInfo
	size    int
	parser  api.ParserMetadata
	metrics *control.Metrics

	parent   weak.Pointer[Table]
	detached atomic.Bool
	priority atomic.Uint32

	mu   sync.Mutex
	data []byte
	subs []rowSub
	next CallbackToken
}

func newRow(parent *Table, key Key, size int, info RowInfo, parser api.ParserMetadata) *Row {
	if info.Type == EmptyType {
		size = 0
	}
	r := &Row{
		key:    key,
		info:   info,
		size:   size,
		parser: parser,
	}
	if parent != nil {
		r.parent = weak.Make(parent)
		r.metrics = parent.metrics
	}
	if size > 0 {
		r.data = make([]byte, size)
	}
	return r
}

// Key returns the row key.
func (r *Row) Key() Key { return r.key }

// Name returns the row name from its info.
func (r *Row) Name() string { return r.info.Name }

// Info returns the row description.
func (r *Row) Info() RowInfo { return r.info }

// Parser returns the external parser metadata, if any.
func (r *Row) Parser() api.ParserMetadata { return r.parser }

// DataSize returns the declared payload size, or UnboundedSize.
func (r *Row) DataSize() int { return r.size }

// Len returns the current payload length.
func (r *Row) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// QueryParent returns the owning table, or nil once it is gone.
func (r *Row) QueryParent() *Table {
	if r.detached.Load() {
		return nil
	}
	return r.parent.Value()
}

// WritePriority returns the minimum priority a write needs to be accepted.
func (r *Row) WritePriority() uint8 { return uint8(r.priority.Load()) }

// SetWritePriority raises or lowers the bar for writes. A debug override
// raises it to shadow normal writers and lowers it again when done.
func (r *Row) SetWritePriority(p uint8) { r.priority.Store(uint32(p)) }

// Read copies the payload into buf. It fails when buf is too small.
func (r *Row) Read(buf []byte) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(buf) < len(r.data) {
		return 0, false
	}
	return copy(buf, r.data), true
}

// Bytes returns a copy of the payload.
func (r *Row) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

// Write stores buf and notifies subscribers when the bytes changed or
// forceReport is set; rows of EmptyType always notify. It fails when
// priority is below WritePriority, when buf does not match a fixed
// declared size, or once the row is disposed.
func (r *Row) Write(buf []byte, forceReport bool, priority uint8) bool {
	if priority < r.WritePriority() {
		return false
	}
	if r.size >= 0 && len(buf) != r.size {
		return false
	}
	if r.Disposed() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	changed := !bytes.Equal(r.data, buf)
	if changed {
		if r.size < 0 {
			if cap(r.data) < len(buf) {
				r.data = make([]byte, len(buf))
			}
			r.data = r.data[:len(buf)]
		}
		copy(r.data, buf)
	}
	r.metrics.RowWrite()
	if changed || forceReport || r.info.Type == EmptyType {
		for _, s := range r.subs {
			s.fn(r, r.data)
		}
	}
	return true
}

// CheckAndWrite validates buf with a parser created from the row's
// metadata before writing it. Rows without metadata are written as is.
func (r *Row) CheckAndWrite(buf []byte, forceReport bool, priority uint8) bool {
	if r.parser != nil {
		p, err := r.parser.CreateParser()
		if err != nil || p == nil {
			return false
		}
		if err := p.Validate(buf); err != nil {
			return false
		}
	}
	return r.Write(buf, forceReport, priority)
}

// SubscribeCallback attaches fn to every subsequent notification.
func (r *Row) SubscribeCallback(fn RowCallback) (CallbackToken, bool) {
	api.Must(fn != nil, "nil row callback")
	if r.Disposed() {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.subs = append(r.subs, rowSub{token: r.next, fn: fn})
	return r.next, true
}

// UnsubscribeCallback detaches a callback; false when unknown.
func (r *Row) UnsubscribeCallback(token CallbackToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.token == token {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribers returns the number of attached callbacks.
func (r *Row) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// destroy detaches the row from its table and fires the disposal hooks.
func (r *Row) destroy() {
	r.detached.Store(true)
	r.mu.Lock()
	r.subs = nil
	r.mu.Unlock()
	r.dispose()
}
