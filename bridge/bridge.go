// File: bridge/bridge.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bridge

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/control"
	"github.com/momentics/hioload-db/dataset"
	"github.com/momentics/hioload-db/dispatch"
)

// Option configures a DispatcherBase.
type Option func(*DispatcherBase)

// WithConfig sets context and pool parameters.
func WithConfig(cfg control.BridgeConfig) Option {
	return func(b *DispatcherBase) { b.cfg = cfg }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option { return func(b *DispatcherBase) { b.log = l } }

// WithMetrics counts deliveries and pool misses.
func WithMetrics(m *control.Metrics) Option { return func(b *DispatcherBase) { b.metrics = m } }

type bindingKey struct {
	row    *dataset.Row
	target *dispatch.Context
}

// Token identifies one bridged row subscription.
type Token struct {
	w *wrapper
	s *subscriber
}

// Valid reports whether the token came from a successful Subscribe.
func (t Token) Valid() bool { return t.s != nil }

// TableToken identifies one bridged table subscription.
type TableToken struct {
	tb *tableBinding
}

// Valid reports whether the token came from a successful SubscribeTable.
func (t TableToken) Valid() bool { return t.tb != nil }

// Stats sums the pools of every live wrapper.
type Stats struct {
	Rows    int // row bindings
	Tables  int // table bindings
	Buffers api.PoolStats
	Actions api.PoolStats
}

// DispatcherBase is the cross-thread subscription bridge. It owns a context
// of its own for timers.
type DispatcherBase struct {
	cfg      control.BridgeConfig
	log      *slog.Logger
	metrics  *control.Metrics
	ctx      *dispatch.Context
	disp     *dispatch.Dispatcher
	registry *dataset.Subscriptions
	warn     rate.Sometimes

	// life serializes Close against subscription setup.
	life   sync.RWMutex
	closed bool

	mu     sync.Mutex
	rows   map[bindingKey]*wrapper
	tables map[*tableBinding]struct{}
}

// New starts a bridge and its context.
func New(opts ...Option) *DispatcherBase {
	b := &DispatcherBase{
		cfg:      control.DefaultConfig().Bridge,
		registry: dataset.NewSubscriptions(),
		rows:     make(map[bindingKey]*wrapper),
		tables:   make(map[*tableBinding]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	b.log = b.log.With("component", "bridge")
	every := b.cfg.ExhaustedEvery
	if every <= 0 {
		every = time.Second
	}
	b.warn = rate.Sometimes{First: 1, Interval: every}
	b.ctx = dispatch.NewContext(
		dispatch.WithName(b.cfg.Name),
		dispatch.WithCPU(b.cfg.CPU),
		dispatch.WithLogger(b.log),
		dispatch.WithMetrics(b.metrics),
	)
	b.disp = dispatch.NewDispatcher(b.ctx)
	return b
}

// QueryContext returns the bridge's own context.
func (b *DispatcherBase) QueryContext() *dispatch.Context { return b.disp.QueryContext() }

// RegisterTimer registers fn on the bridge's context.
func (b *DispatcherBase) RegisterTimer(interval time.Duration, fn func(), count uint32) (api.TimerToken, error) {
	return b.disp.RegisterTimer(interval, fn, count)
}

// UnregisterTimer drops a timer registered through the bridge.
func (b *DispatcherBase) UnregisterTimer(token api.TimerToken) bool {
	return b.disp.UnregisterTimer(token)
}

// Subscribe delivers every change of row to cb on target. The first
// subscription of a (row, target) pair builds its registration wrapper.
func (b *DispatcherBase) Subscribe(row *dataset.Row, target *dispatch.Context, cb dataset.RowCallback) (Token, error) {
	api.Must(row != nil, "nil row")
	api.Must(target != nil, "nil target context")
	api.Must(cb != nil, "nil row callback")
	if target.Disposed() {
		return Token{}, api.Wrap(api.ErrContextDisposed, api.ErrCodeDisposed, "target").WithContext("target", target.Name())
	}

	s := newSubscriber(cb)
	for {
		w, err := b.binding(row, target)
		if err != nil {
			return Token{}, err
		}
		if w.add(s) {
			return Token{w: w, s: s}, nil
		}
		// w retired between lookup and add
	}
}

// Unsubscribe cancels a bridged subscription. Idempotent.
func (b *DispatcherBase) Unsubscribe(tok Token) bool {
	if !tok.Valid() || !tok.s.live.CompareAndSwap(true, false) {
		return false
	}
	if tok.w.remove(tok.s) {
		b.retire(tok.w)
	}
	return true
}

// SubscribeTable delivers changes of every current and future row of table
// to cb on target. Wrappers are built per row on its first notification.
func (b *DispatcherBase) SubscribeTable(table *dataset.Table, target *dispatch.Context, cb dataset.RowCallback) (TableToken, error) {
	api.Must(table != nil, "nil table")
	api.Must(target != nil, "nil target context")
	api.Must(cb != nil, "nil row callback")
	if target.Disposed() {
		return TableToken{}, api.Wrap(api.ErrContextDisposed, api.ErrCodeDisposed, "target").WithContext("target", target.Name())
	}

	b.life.RLock()
	defer b.life.RUnlock()
	if b.closed {
		return TableToken{}, api.Wrap(api.ErrContextDisposed, api.ErrCodeDisposed, "bridge closed")
	}

	tb := &tableBinding{
		base:   b,
		table:  table,
		target: target,
		sub:    newSubscriber(cb),
		rows:   make(map[*dataset.Row]*wrapper),
	}
	dtok, ok := table.RegisterDisposableCallback(func() { b.tableDisposed(tb) })
	if !ok {
		return TableToken{}, api.Wrap(api.ErrNotFound, api.ErrCodeNotFound, "table disposed").WithContext("table", table.Name())
	}
	tb.disposeTok = dtok

	// Registered before the data subscription so the first notification
	// finds the binding live.
	b.mu.Lock()
	b.tables[tb] = struct{}{}
	b.mu.Unlock()

	rtok, ok := b.registry.SubscribeTable(table, tb.publish)
	if !ok {
		b.dropTable(tb)
		table.UnregisterDisposableCallback(dtok)
		return TableToken{}, api.Wrap(api.ErrNotFound, api.ErrCodeNotFound, "table disposed").WithContext("table", table.Name())
	}
	tb.setRegistration(rtok)
	return TableToken{tb: tb}, nil
}

// UnsubscribeTable cancels a bridged table subscription. Idempotent.
func (b *DispatcherBase) UnsubscribeTable(tok TableToken) bool {
	if !tok.Valid() || !tok.tb.sub.live.Load() {
		return false
	}
	tb := tok.tb
	if !b.dropTable(tb) {
		return false
	}
	b.life.RLock()
	defer b.life.RUnlock()
	if !b.closed {
		tb.registration().Unsubscribe()
	}
	tb.table.UnregisterDisposableCallback(tb.disposeTok)
	for _, w := range tb.detachRows() {
		w.row.UnregisterDisposableCallback(w.disposeTok)
	}
	return true
}

// Stats reports binding counts and summed pool counters.
func (b *DispatcherBase) Stats() Stats {
	b.mu.Lock()
	ws := make([]*wrapper, 0, len(b.rows))
	for _, w := range b.rows {
		ws = append(ws, w)
	}
	tbs := make([]*tableBinding, 0, len(b.tables))
	for tb := range b.tables {
		tbs = append(tbs, tb)
	}
	b.mu.Unlock()

	st := Stats{Rows: len(ws), Tables: len(tbs)}
	for _, tb := range tbs {
		ws = append(ws, tb.wrappers()...)
	}
	for _, w := range ws {
		bs, as := w.stats()
		addStats(&st.Buffers, bs)
		addStats(&st.Actions, as)
	}
	return st
}

// Close detaches every binding, closes the registry and disposes the
// bridge's context. Deliveries already queued on targets still run.
func (b *DispatcherBase) Close() error {
	b.life.Lock()
	if b.closed {
		b.life.Unlock()
		return nil
	}
	b.closed = true

	b.mu.Lock()
	rows, tables := b.rows, b.tables
	b.rows, b.tables = make(map[bindingKey]*wrapper), make(map[*tableBinding]struct{})
	b.mu.Unlock()

	for _, w := range rows {
		w.close()
		w.row.UnregisterDisposableCallback(w.disposeTok)
	}
	for tb := range tables {
		tb.sub.live.Store(false)
		tb.table.UnregisterDisposableCallback(tb.disposeTok)
		for _, w := range tb.detachRows() {
			w.row.UnregisterDisposableCallback(w.disposeTok)
		}
	}
	err := b.registry.Close()
	b.life.Unlock()

	b.ctx.Dispose()
	return err
}

// binding returns the wrapper of (row, target), building it when missing.
func (b *DispatcherBase) binding(row *dataset.Row, target *dispatch.Context) (*wrapper, error) {
	key := bindingKey{row: row, target: target}

	b.life.RLock()
	defer b.life.RUnlock()
	if b.closed {
		return nil, api.Wrap(api.ErrContextDisposed, api.ErrCodeDisposed, "bridge closed")
	}

	b.mu.Lock()
	w := b.rows[key]
	b.mu.Unlock()
	if w != nil {
		return w, nil
	}

	w = b.newWrapper(row, target)
	tok, ok := b.registry.Subscribe(row, w.publish)
	if !ok {
		return nil, api.Wrap(api.ErrNotFound, api.ErrCodeNotFound, "row disposed").WithContext("row", row.Key().String())
	}
	w.regTok = tok
	dtok, ok := row.RegisterDisposableCallback(func() { b.rowDisposed(w) })
	if !ok {
		tok.Unsubscribe()
		return nil, api.Wrap(api.ErrNotFound, api.ErrCodeNotFound, "row disposed").WithContext("row", row.Key().String())
	}
	w.disposeTok = dtok

	b.mu.Lock()
	if cur := b.rows[key]; cur != nil {
		b.mu.Unlock()
		tok.Unsubscribe()
		row.UnregisterDisposableCallback(dtok)
		return cur, nil
	}
	b.rows[key] = w
	b.mu.Unlock()
	b.log.Debug("bridge binding created", "row", row.Key(), "target", target.Name())
	return w, nil
}

// retire tears down a wrapper whose last subscriber left.
func (b *DispatcherBase) retire(w *wrapper) {
	b.mu.Lock()
	if b.rows[w.key] == w {
		delete(b.rows, w.key)
	}
	b.mu.Unlock()

	b.life.RLock()
	defer b.life.RUnlock()
	if b.closed {
		return
	}
	w.regTok.Unsubscribe()
	w.row.UnregisterDisposableCallback(w.disposeTok)
}

func (b *DispatcherBase) rowDisposed(w *wrapper) {
	b.mu.Lock()
	if b.rows[w.key] == w {
		delete(b.rows, w.key)
	}
	b.mu.Unlock()
	w.close()
}

// dropTable removes tb from the live set; false when it was already gone.
func (b *DispatcherBase) dropTable(tb *tableBinding) bool {
	b.mu.Lock()
	_, ok := b.tables[tb]
	delete(b.tables, tb)
	b.mu.Unlock()
	if ok {
		tb.sub.live.Store(false)
		tb.closeRows()
	}
	return ok
}

func (b *DispatcherBase) tableDisposed(tb *tableBinding) {
	if !b.dropTable(tb) {
		return
	}
	b.life.RLock()
	defer b.life.RUnlock()
	if !b.closed {
		tb.registration().Unsubscribe()
	}
}

func (b *DispatcherBase) exhausted(pool string, w *wrapper) {
	b.metrics.PoolMiss(pool)
	b.warn.Do(func() {
		b.log.Warn("bridge pool exhausted, allocating",
			"pool", pool, "row", w.row.Key(), "target", w.target.Name())
	})
}

func addStats(dst *api.PoolStats, s api.PoolStats) {
	dst.Allocated += s.Allocated
	dst.Pooled += s.Pooled
	dst.Misses += s.Misses
}
