package dataset

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, rows ...uint32) (*Dataset, *Table) {
	t.Helper()
	d := newTestDataset(t)
	require.True(t, d.AddTable(KeyFromUint32(1), "T", ""))
	table, _ := d.QueryTable(KeyFromUint32(1))
	for _, k := range rows {
		require.True(t, table.AddRow(KeyFromUint32(k), 4))
	}
	return d, table
}

func mustRow(t *testing.T, table *Table, k uint32) *Row {
	t.Helper()
	r, ok := table.QueryRow(KeyFromUint32(k))
	require.True(t, ok)
	return r
}

func TestSubscriptions_SharedUnderlyingCallback(t *testing.T) {
	_, table := newTestTable(t, 5)
	row := mustRow(t, table, 5)
	subs := NewSubscriptions()
	defer subs.Close()

	var a, b []uint32
	ta, ok := subs.Subscribe(row, func(_ *Row, data []byte) { a = append(a, binary.LittleEndian.Uint32(data)) })
	require.True(t, ok)
	tb, ok := subs.Subscribe(row, func(_ *Row, data []byte) { b = append(b, binary.LittleEndian.Uint32(data)) })
	require.True(t, ok)

	assert.Equal(t, 1, row.Subscribers())
	assert.Equal(t, 1, subs.Len())

	require.True(t, row.Write(u32(7), false, 0))
	assert.Equal(t, []uint32{7}, a)
	assert.Equal(t, []uint32{7}, b)

	require.True(t, ta.Unsubscribe())
	assert.Equal(t, 1, row.Subscribers())
	require.True(t, row.Write(u32(8), false, 0))
	assert.Equal(t, []uint32{7}, a)
	assert.Equal(t, []uint32{7, 8}, b)

	require.True(t, subs.Unsubscribe(row, tb))
	assert.Equal(t, 0, row.Subscribers())
	assert.Equal(t, 0, subs.Len())
}

func TestSubscriptions_UnsubscribeIdempotent(t *testing.T) {
	_, table := newTestTable(t, 5)
	row := mustRow(t, table, 5)
	subs := NewSubscriptions()
	defer subs.Close()

	tok, ok := subs.Subscribe(row, func(*Row, []byte) {})
	require.True(t, ok)
	assert.True(t, tok.Unsubscribe())
	assert.False(t, tok.Unsubscribe())
	assert.False(t, subs.Unsubscribe(row, tok))
	assert.False(t, Token{}.Unsubscribe())
}

func TestSubscriptions_SelfCleanOnRowDisposal(t *testing.T) {
	_, table := newTestTable(t, 5)
	row := mustRow(t, table, 5)
	subs := NewSubscriptions()
	defer subs.Close()

	tok, ok := subs.Subscribe(row, func(*Row, []byte) {})
	require.True(t, ok)
	require.Equal(t, 1, subs.Len())

	_, ok = table.RemoveRow(KeyFromUint32(5))
	require.True(t, ok)
	assert.Equal(t, 0, subs.Len())
	assert.False(t, tok.Unsubscribe())

	_, ok = subs.Subscribe(row, func(*Row, []byte) {})
	assert.False(t, ok, "disposed row")
}

func TestSubscriptions_ClosedRegistry(t *testing.T) {
	_, table := newTestTable(t, 5)
	row := mustRow(t, table, 5)
	subs := NewSubscriptions()

	tok, ok := subs.Subscribe(row, func(*Row, []byte) {})
	require.True(t, ok)
	require.NoError(t, subs.Close())
	require.NoError(t, subs.Close())

	assert.Equal(t, 0, row.Subscribers())
	assert.False(t, tok.Unsubscribe())
	assert.Panics(t, func() { subs.Unsubscribe(row, tok) })
	assert.Panics(t, func() { subs.Subscribe(row, func(*Row, []byte) {}) })
}

func TestSubscriptions_Table(t *testing.T) {
	_, table := newTestTable(t, 1)
	subs := NewSubscriptions()
	defer subs.Close()

	var keys []Key
	tok, ok := subs.SubscribeTable(table, func(r *Row, _ []byte) { keys = append(keys, r.Key()) })
	require.True(t, ok)

	require.True(t, table.AddRow(KeyFromUint32(2), 4))
	require.True(t, mustRow(t, table, 1).Write(u32(1), false, 0))
	require.True(t, mustRow(t, table, 2).Write(u32(2), false, 0))
	assert.Equal(t, []Key{KeyFromUint32(1), KeyFromUint32(2)}, keys)

	assert.True(t, tok.Unsubscribe())
	assert.False(t, tok.Unsubscribe())
	require.True(t, mustRow(t, table, 1).Write(u32(3), false, 0))
	assert.Len(t, keys, 2)
}

func TestSubscriptions_TokenRacesClose(t *testing.T) {
	_, table := newTestTable(t, 1, 2, 3, 4)
	for round := 0; round < 50; round++ {
		subs := NewSubscriptions()
		var toks []Token
		for k := uint32(1); k <= 4; k++ {
			tok, ok := subs.Subscribe(mustRow(t, table, k), func(*Row, []byte) {})
			require.True(t, ok)
			toks = append(toks, tok)
		}
		tt, ok := subs.SubscribeTable(table, func(*Row, []byte) {})
		require.True(t, ok)

		var wg sync.WaitGroup
		for _, tok := range toks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok.Unsubscribe()
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			tt.Unsubscribe()
		}()
		require.NoError(t, subs.Close())
		wg.Wait()

		assert.False(t, tt.Unsubscribe())
		assert.Panics(t, func() { subs.UnsubscribeTable(tt) })
	}
	for k := uint32(1); k <= 4; k++ {
		assert.Zero(t, mustRow(t, table, k).Subscribers())
	}
}

func TestSubscriptions_TableDisposalDropsEntry(t *testing.T) {
	d, table := newTestTable(t, 1)
	subs := NewSubscriptions()
	defer subs.Close()

	tok, ok := subs.SubscribeTable(table, func(*Row, []byte) {})
	require.True(t, ok)
	require.Equal(t, 1, subs.Tables())

	_, ok = d.RemoveTable(table.Key())
	require.True(t, ok)
	assert.Zero(t, subs.Tables())
	assert.False(t, tok.Unsubscribe())

	require.True(t, d.AddTable(KeyFromUint32(2), "U", ""))
	other, _ := d.QueryTable(KeyFromUint32(2))
	_, ok = subs.SubscribeTable(other, func(*Row, []byte) {})
	require.True(t, ok)
	other.Dispose()
	assert.Zero(t, subs.Tables())

	_, ok = subs.SubscribeTable(other, func(*Row, []byte) {})
	assert.False(t, ok, "disposed table")
	assert.Zero(t, subs.Tables())
}

func TestAutoToken(t *testing.T) {
	_, table := newTestTable(t, 5)
	row := mustRow(t, table, 5)
	subs := NewSubscriptions()
	defer subs.Close()

	var n int
	auto, ok := subs.SubscribeAuto(row, func(*Row, []byte) { n++ })
	require.True(t, ok)
	require.True(t, auto.Token().Valid())

	require.True(t, row.Write(u32(1), false, 0))
	require.NoError(t, auto.Close())
	require.NoError(t, auto.Close())
	require.True(t, row.Write(u32(2), false, 0))
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, subs.Len())
}

func TestAutoToken_ExpiredTarget(t *testing.T) {
	_, table := newTestTable(t, 5)
	row := mustRow(t, table, 5)
	subs := NewSubscriptions()

	auto, ok := subs.SubscribeAuto(row, func(*Row, []byte) {})
	require.True(t, ok)
	require.NoError(t, subs.Close())
	assert.NotPanics(t, func() { _ = auto.Close() })
}

func TestCollector(t *testing.T) {
	_, table := newTestTable(t, 1, 2)
	subs := NewSubscriptions()
	defer subs.Close()

	var c Collector
	var n int
	cb := func(*Row, []byte) { n++ }

	a1, ok := subs.SubscribeAuto(mustRow(t, table, 1), cb)
	require.True(t, ok)
	a2, ok := subs.SubscribeAuto(mustRow(t, table, 2), cb)
	require.True(t, ok)
	at, ok := subs.SubscribeTableAuto(table, cb)
	require.True(t, ok)

	require.True(t, c.Add(a1))
	require.True(t, c.Add(a2))
	require.True(t, c.Add(at))
	assert.False(t, c.Add(a1))
	assert.False(t, c.Add(nil))
	assert.Equal(t, 3, c.Len())

	require.True(t, c.Remove(a2))
	assert.False(t, c.Remove(a2))
	require.True(t, mustRow(t, table, 2).Write(u32(9), false, 0))
	assert.Equal(t, 1, n, "only the table subscription sees row 2")

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
	require.True(t, mustRow(t, table, 1).Write(u32(9), false, 0))
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, subs.Len())
}
