// File: bridge/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bridge

import (
	"sync"

	"github.com/momentics/hioload-db/dataset"
	"github.com/momentics/hioload-db/dispatch"
)

// tableBinding fans one table-level subscription out to one wrapper per row.
type tableBinding struct {
	base       *DispatcherBase
	table      *dataset.Table
	target     *dispatch.Context
	sub        *subscriber
	disposeTok dataset.DisposeToken

	mu     sync.Mutex
	regTok dataset.TableToken
	rows   map[*dataset.Row]*wrapper
	closed bool
}

// publish runs on the writer's goroutine under the row lock.
func (tb *tableBinding) publish(row *dataset.Row, data []byte) {
	if !tb.sub.live.Load() {
		return
	}
	if w := tb.wrapperFor(row); w != nil {
		w.publish(row, data)
	}
}

// wrapperFor returns the row's wrapper, building it on first use.
// Notifications of one row are serialized by the row lock, so only
// teardown can race the build.
func (tb *tableBinding) wrapperFor(row *dataset.Row) *wrapper {
	tb.mu.Lock()
	if tb.closed {
		tb.mu.Unlock()
		return nil
	}
	w := tb.rows[row]
	tb.mu.Unlock()
	if w != nil {
		return w
	}

	w = tb.base.newWrapper(row, tb.target)
	w.subs.Store(&[]*subscriber{tb.sub})
	dtok, ok := row.RegisterDisposableCallback(func() { tb.dropRow(row, w) })
	if !ok {
		return nil
	}
	w.disposeTok = dtok

	tb.mu.Lock()
	if tb.closed {
		tb.mu.Unlock()
		row.UnregisterDisposableCallback(dtok)
		return nil
	}
	tb.rows[row] = w
	tb.mu.Unlock()
	return w
}

func (tb *tableBinding) dropRow(row *dataset.Row, w *wrapper) {
	tb.mu.Lock()
	if tb.rows[row] == w {
		delete(tb.rows, row)
	}
	tb.mu.Unlock()
	w.close()
}

func (tb *tableBinding) setRegistration(tok dataset.TableToken) {
	tb.mu.Lock()
	tb.regTok = tok
	tb.mu.Unlock()
}

func (tb *tableBinding) registration() dataset.TableToken {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.regTok
}

// closeRows stops every row wrapper; new rows get none.
func (tb *tableBinding) closeRows() {
	tb.mu.Lock()
	tb.closed = true
	ws := make([]*wrapper, 0, len(tb.rows))
	for _, w := range tb.rows {
		ws = append(ws, w)
	}
	tb.mu.Unlock()
	for _, w := range ws {
		w.close()
	}
}

// detachRows closes the binding and hands back its wrappers so the caller
// can drop their row hooks outside the lock.
func (tb *tableBinding) detachRows() []*wrapper {
	tb.mu.Lock()
	tb.closed = true
	rows := tb.rows
	tb.rows = make(map[*dataset.Row]*wrapper)
	tb.mu.Unlock()

	ws := make([]*wrapper, 0, len(rows))
	for _, w := range rows {
		w.close()
		ws = append(ws, w)
	}
	return ws
}

func (tb *tableBinding) wrappers() []*wrapper {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	ws := make([]*wrapper, 0, len(tb.rows))
	for _, w := range tb.rows {
		ws = append(ws, w)
	}
	return ws
}
