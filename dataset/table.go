// File: dataset/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dataset

import (
	"log/slog"
	"sync/atomic"
	"weak"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/control"
)

// RowOption configures AddRow.
type RowOption func(*rowParams)

type rowParams struct {
	info   RowInfo
	parser api.ParserMetadata
}

// WithInfo attaches a description to the row.
func WithInfo(info RowInfo) RowOption { return func(s *rowParams) { s.info = info } }

// WithParser attaches external parser metadata used by CheckAndWrite.
func WithParser(p api.ParserMetadata) RowOption { return func(s *rowParams) { s.parser = p } }

// dataSub is a table-level data callback and its per-row attachments.
type dataSub struct {
	token CallbackToken
	fn    RowCallback
	rows  map[*Row]CallbackToken
}

// Table owns rows keyed by Key.
type Table struct {
	disposable

	key         Key
	name        string
	description string
	metrics     *control.Metrics
	log         *slog.Logger
	validate    RowValidator

	parent   weak.Pointer[Dataset]
	detached atomic.Bool

	rows container[*Row]

	// guarded by rows.mu
	dataSubs []*dataSub
	nextData CallbackToken
	closing  bool
}

func newTable(parent *Dataset, key Key, name, description string) *Table {
	t := &Table{
		key:         key,
		name:        name,
		description: description,
		rows:        newContainer[*Row](),
	}
	if parent != nil {
		t.parent = weak.Make(parent)
		t.metrics = parent.metrics
		t.log = parent.log.With("table", name)
		t.validate = parent.validateRow
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	return t
}

// Key returns the table key.
func (t *Table) Key() Key { return t.key }

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Description returns the table description.
func (t *Table) Description() string { return t.description }

// QueryParent returns the owning dataset, or nil once it is gone.
func (t *Table) QueryParent() *Dataset {
	if t.detached.Load() {
		return nil
	}
	return t.parent.Value()
}

// AddRow creates a row of size bytes (UnboundedSize for variable rows).
// It returns false when the key exists or the row validator rejects it.
// Table-level data callbacks are attached to the new row.
func (t *Table) AddRow(key Key, size int, opts ...RowOption) bool {
	var p rowParams
	for _, o := range opts {
		o(&p)
	}
	create := func() (*Row, bool) {
		if size < UnboundedSize {
			return nil, false
		}
		if t.closing {
			return nil, false
		}
		if t.validate != nil {
			if err := t.validate(t, key, size, p.info); err != nil {
				t.log.Debug("row rejected", "key", key, "err", err)
				return nil, false
			}
		}
		return newRow(t, key, size, p.info, p.parser), true
	}
	return t.rows.add(key, create, t.attachDataSubs)
}

// RemoveRow detaches table-level callbacks from the row, notifies
// structural subscribers, erases the row and disposes it.
func (t *Table) RemoveRow(key Key) (*Row, bool) {
	r, ok := t.rows.remove(key, t.detachDataSubs)
	if !ok {
		return nil, false
	}
	r.destroy()
	return r, true
}

// QueryRow looks a row up by key.
func (t *Table) QueryRow(key Key) (*Row, bool) { return t.rows.query(key) }

// QueryRowByIndex returns the i-th live row.
func (t *Table) QueryRowByIndex(i int) (*Row, bool) { return t.rows.queryByIndex(i) }

// QueryRowByName returns the first row whose info name matches.
func (t *Table) QueryRowByName(name string) (*Row, bool) { return t.rows.queryByName(name) }

// Size returns the number of live rows.
func (t *Table) Size() int { return t.rows.size() }

// Rows returns a snapshot of the live rows.
func (t *Table) Rows() []*Row { return t.rows.snapshot() }

// SubscribeCallback observes row additions and removals.
func (t *Table) SubscribeCallback(fn StructureCallback[*Row]) CallbackToken {
	api.Must(fn != nil, "nil structure callback")
	return t.rows.subscribe(fn)
}

// UnsubscribeCallback drops a structural subscription.
func (t *Table) UnsubscribeCallback(token CallbackToken) bool {
	return t.rows.unsubscribe(token)
}

// SubscribeDataCallback attaches fn to every current row and to every row
// added later, until UnsubscribeDataCallback.
func (t *Table) SubscribeDataCallback(fn RowCallback) (CallbackToken, bool) {
	api.Must(fn != nil, "nil data callback")
	t.rows.mu.Lock()
	defer t.rows.mu.Unlock()
	if t.closing {
		return 0, false
	}
	t.nextData++
	s := &dataSub{token: t.nextData, fn: fn, rows: make(map[*Row]CallbackToken, len(t.rows.list))}
	for _, r := range t.rows.list {
		if tok, ok := r.SubscribeCallback(fn); ok {
			s.rows[r] = tok
		}
	}
	t.dataSubs = append(t.dataSubs, s)
	return s.token, true
}

// UnsubscribeDataCallback detaches a table-level data callback from every row.
func (t *Table) UnsubscribeDataCallback(token CallbackToken) bool {
	t.rows.mu.Lock()
	defer t.rows.mu.Unlock()
	for i, s := range t.dataSubs {
		if s.token != token {
			continue
		}
		for r, tok := range s.rows {
			r.UnsubscribeCallback(tok)
		}
		t.dataSubs = append(t.dataSubs[:i], t.dataSubs[i+1:]...)
		return true
	}
	return false
}

// called under rows.mu
func (t *Table) attachDataSubs(r *Row) {
	for _, s := range t.dataSubs {
		if tok, ok := r.SubscribeCallback(s.fn); ok {
			s.rows[r] = tok
		}
	}
}

// called under rows.mu
func (t *Table) detachDataSubs(r *Row) {
	for _, s := range t.dataSubs {
		if tok, ok := s.rows[r]; ok {
			r.UnsubscribeCallback(tok)
			delete(s.rows, r)
		}
	}
}

// Dispose tears the table down. An attached table is first removed from
// its dataset, which notifies the dataset's structural subscribers; then
// every row is removed with notifications and the disposal hooks fire.
// Safe to call more than once.
func (t *Table) Dispose() {
	if d := t.QueryParent(); d != nil && d.tables.removeChild(t, nil) {
		d.log.Debug("table disposed", "key", t.key, "name", t.name)
	}
	t.destroy()
}

// destroy removes every row with notifications, then detaches the table
// and fires its disposal hooks.
func (t *Table) destroy() {
	t.rows.mu.Lock()
	if t.closing {
		t.rows.mu.Unlock()
		return
	}
	t.closing = true
	t.rows.mu.Unlock()

	removed := t.rows.clear(t.detachDataSubs)
	for _, r := range removed {
		r.destroy()
	}
	t.rows.mu.Lock()
	t.dataSubs = nil
	t.rows.mu.Unlock()
	t.detached.Store(true)
	t.dispose()
}
