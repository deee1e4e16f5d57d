// File: dataset/subscriptions.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Subscriptions multiplexes user callbacks over one underlying callback per
// live row. The callback list of an entry is copy-on-write: subscribe and
// unsubscribe swap a new slice in, the notification path only loads it, so
// fan-out needs neither the registry lock nor an allocation.
//
// Lock order: registry -> row. Row disposal hooks take the registry lock and
// run without any row or container lock held.

package dataset

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-db/api"
)

type seqCallback struct {
	seq uint64
	fn  RowCallback
}

type subEntry struct {
	rowToken     CallbackToken
	disposeToken DisposeToken
	cbs          atomic.Pointer[[]seqCallback]
}

func (e *subEntry) dispatch(row *Row, data []byte) {
	if cbs := e.cbs.Load(); cbs != nil {
		for _, c := range *cbs {
			c.fn(row, data)
		}
	}
}

func (e *subEntry) add(seq uint64, fn RowCallback) {
	var cur []seqCallback
	if p := e.cbs.Load(); p != nil {
		cur = *p
	}
	next := make([]seqCallback, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, seqCallback{seq: seq, fn: fn})
	e.cbs.Store(&next)
}

// remove reports whether seq was found and how many callbacks remain.
func (e *subEntry) remove(seq uint64) (bool, int) {
	p := e.cbs.Load()
	if p == nil {
		return false, 0
	}
	cur := *p
	for i, c := range cur {
		if c.seq != seq {
			continue
		}
		next := make([]seqCallback, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		e.cbs.Store(&next)
		return true, len(next)
	}
	return false, len(cur)
}

// Token identifies one row subscription. The zero Token is invalid.
// Tokens do not keep the registry or the row alive.
type Token struct {
	reg weak.Pointer[Subscriptions]
	row weak.Pointer[Row]
	seq uint64
}

// Valid reports whether the token came from a successful Subscribe.
func (t Token) Valid() bool { return t.seq != 0 }

// Row returns the subscribed row while it is still reachable.
func (t Token) Row() *Row { return t.row.Value() }

// Unsubscribe cancels the subscription. It is idempotent and a no-op once
// the row or the registry is gone.
func (t Token) Unsubscribe() bool {
	if !t.Valid() {
		return false
	}
	reg, row := t.reg.Value(), t.row.Value()
	if reg == nil || row == nil {
		return false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return false
	}
	return reg.unsubscribeLocked(row, t)
}

// TableToken identifies one table-level subscription.
type TableToken struct {
	reg   weak.Pointer[Subscriptions]
	table weak.Pointer[Table]
	token CallbackToken
}

// Valid reports whether the token came from a successful SubscribeTable.
func (t TableToken) Valid() bool { return t.token != 0 }

// Unsubscribe cancels the table subscription; idempotent.
func (t TableToken) Unsubscribe() bool {
	if !t.Valid() {
		return false
	}
	reg := t.reg.Value()
	if reg == nil {
		return false
	}
	return reg.unsubscribeTable(t, false)
}

// Subscriptions is a registry of row and table subscriptions.
type Subscriptions struct {
	mu      sync.Mutex
	closed  bool
	entries map[*Row]*subEntry
	tables  map[TableToken]DisposeToken
	seq     uint64
}

// NewSubscriptions creates an empty registry.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		entries: make(map[*Row]*subEntry),
		tables:  make(map[TableToken]DisposeToken),
	}
}

// Subscribe attaches cb to row. The first subscriber of a row installs the
// underlying row callback and a disposal hook; it fails when row is already
// disposed.
func (s *Subscriptions) Subscribe(row *Row, cb RowCallback) (Token, bool) {
	api.Must(row != nil, "nil row")
	api.Must(cb != nil, "nil row callback")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustBeOpen()

	e := s.entries[row]
	if e == nil {
		e = &subEntry{}
		rowTok, ok := row.SubscribeCallback(e.dispatch)
		if !ok {
			return Token{}, false
		}
		disposeTok, ok := row.RegisterDisposableCallback(func() { s.rowDisposed(row, e) })
		if !ok {
			row.UnsubscribeCallback(rowTok)
			return Token{}, false
		}
		e.rowToken, e.disposeToken = rowTok, disposeTok
		s.entries[row] = e
	}
	s.seq++
	e.add(s.seq, cb)
	return Token{reg: weak.Make(s), row: weak.Make(row), seq: s.seq}, true
}

// Unsubscribe detaches the callback behind token. The last unsubscribe of a
// row removes the underlying callback and the disposal hook. Unknown or
// already removed tokens return false. A closed registry panics.
func (s *Subscriptions) Unsubscribe(row *Row, token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustBeOpen()
	return s.unsubscribeLocked(row, token)
}

func (s *Subscriptions) unsubscribeLocked(row *Row, token Token) bool {
	if row == nil || token.reg.Value() != s || token.row.Value() != row {
		return false
	}
	e := s.entries[row]
	if e == nil {
		return false
	}
	found, left := e.remove(token.seq)
	if !found {
		return false
	}
	if left == 0 {
		delete(s.entries, row)
		row.UnsubscribeCallback(e.rowToken)
		row.UnregisterDisposableCallback(e.disposeToken)
	}
	return true
}

// SubscribeTable attaches cb to every current and future row of table. The
// entry goes away by itself when the table is disposed.
func (s *Subscriptions) SubscribeTable(table *Table, cb RowCallback) (TableToken, bool) {
	api.Must(table != nil, "nil table")
	api.Must(cb != nil, "nil row callback")

	s.mu.Lock()
	s.mustBeOpen()
	s.mu.Unlock()

	// The table takes its own and its rows' locks; keep ours released.
	tok, ok := table.SubscribeDataCallback(cb)
	if !ok {
		return TableToken{}, false
	}
	tt := TableToken{reg: weak.Make(s), table: weak.Make(table), token: tok}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		table.UnsubscribeDataCallback(tok)
		return TableToken{}, false
	}
	dtok, ok := table.RegisterDisposableCallback(func() { s.tableDisposed(tt) })
	if !ok {
		s.mu.Unlock()
		table.UnsubscribeDataCallback(tok)
		return TableToken{}, false
	}
	s.tables[tt] = dtok
	s.mu.Unlock()
	return tt, true
}

// UnsubscribeTable detaches a table subscription; idempotent.
func (s *Subscriptions) UnsubscribeTable(token TableToken) bool {
	return s.unsubscribeTable(token, true)
}

func (s *Subscriptions) unsubscribeTable(token TableToken, strict bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if strict {
			panic(errors.WithStack(api.ErrRegistryDisposed))
		}
		return false
	}
	dtok, ok := s.tables[token]
	delete(s.tables, token)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if table := token.table.Value(); table != nil {
		table.UnsubscribeDataCallback(token.token)
		table.UnregisterDisposableCallback(dtok)
	}
	return true
}

// Tables returns the number of live table subscriptions.
func (s *Subscriptions) Tables() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables)
}

// Len returns the number of rows with at least one subscriber.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Closed reports whether Close was called.
func (s *Subscriptions) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close detaches every subscription. Outstanding tokens become no-ops.
func (s *Subscriptions) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for row, e := range s.entries {
		row.UnsubscribeCallback(e.rowToken)
		row.UnregisterDisposableCallback(e.disposeToken)
	}
	s.entries = nil
	tables := s.tables
	s.tables = nil
	s.mu.Unlock()

	for tt, dtok := range tables {
		if table := tt.table.Value(); table != nil {
			table.UnsubscribeDataCallback(tt.token)
			table.UnregisterDisposableCallback(dtok)
		}
	}
	return nil
}

func (s *Subscriptions) rowDisposed(row *Row, e *subEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[row] == e {
		delete(s.entries, row)
	}
}

func (s *Subscriptions) tableDisposed(tt TableToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, tt)
}

// called under mu
func (s *Subscriptions) mustBeOpen() {
	if s.closed {
		panic(errors.WithStack(api.ErrRegistryDisposed))
	}
}
