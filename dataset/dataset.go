// File: dataset/dataset.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dataset

import (
	"log/slog"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/control"
)

// TableValidator may veto the creation of a table.
type TableValidator func(key Key, name string) error

// RowValidator may veto the creation of a row.
type RowValidator func(table *Table, key Key, size int, info RowInfo) error

// Option configures a Dataset.
type Option func(*Dataset)

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option { return func(d *Dataset) { d.log = l } }

// WithMetrics counts row writes.
func WithMetrics(m *control.Metrics) Option { return func(d *Dataset) { d.metrics = m } }

// WithTableValidator installs a creation veto for tables.
func WithTableValidator(fn TableValidator) Option { return func(d *Dataset) { d.validateTable = fn } }

// WithRowValidator installs a creation veto for rows of every table.
func WithRowValidator(fn RowValidator) Option { return func(d *Dataset) { d.validateRow = fn } }

// Dataset is the root of the hierarchy. It has no parent.
type Dataset struct {
	disposable

	log           *slog.Logger
	metrics       *control.Metrics
	validateTable TableValidator
	validateRow   RowValidator

	tables  container[*Table]
	closing bool // guarded by tables.mu
}

// New creates an empty dataset.
func New(opts ...Option) *Dataset {
	d := &Dataset{tables: newContainer[*Table]()}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

// AddTable creates a table. It returns false when the key exists, the
// dataset is closed or the table validator rejects it.
func (d *Dataset) AddTable(key Key, name, description string) bool {
	return d.tables.add(key, func() (*Table, bool) {
		if d.closing {
			return nil, false
		}
		if d.validateTable != nil {
			if err := d.validateTable(key, name); err != nil {
				d.log.Debug("table rejected", "key", key, "name", name, "err", err)
				return nil, false
			}
		}
		return newTable(d, key, name, description), true
	}, nil)
}

// RemoveTable notifies structural subscribers, erases the table and tears
// it down, removing its rows.
func (d *Dataset) RemoveTable(key Key) (*Table, bool) {
	t, ok := d.tables.remove(key, nil)
	if !ok {
		return nil, false
	}
	t.destroy()
	return t, true
}

// QueryTable looks a table up by key.
func (d *Dataset) QueryTable(key Key) (*Table, bool) { return d.tables.query(key) }

// QueryTableByIndex returns the i-th live table.
func (d *Dataset) QueryTableByIndex(i int) (*Table, bool) { return d.tables.queryByIndex(i) }

// QueryTableByName returns the first table with the given name.
func (d *Dataset) QueryTableByName(name string) (*Table, bool) { return d.tables.queryByName(name) }

// Size returns the number of live tables.
func (d *Dataset) Size() int { return d.tables.size() }

// Tables returns a snapshot of the live tables.
func (d *Dataset) Tables() []*Table { return d.tables.snapshot() }

// SubscribeCallback observes table additions and removals.
func (d *Dataset) SubscribeCallback(fn StructureCallback[*Table]) CallbackToken {
	api.Must(fn != nil, "nil structure callback")
	return d.tables.subscribe(fn)
}

// UnsubscribeCallback drops a structural subscription.
func (d *Dataset) UnsubscribeCallback(token CallbackToken) bool {
	return d.tables.unsubscribe(token)
}

// Close removes every table (firing removal notifications), tears them
// down and fires the dataset's disposal hooks. Safe to call more than once.
func (d *Dataset) Close() error {
	if !d.markClosing() {
		return nil
	}
	for _, t := range d.tables.clear(nil) {
		t.destroy()
	}
	d.dispose()
	return nil
}

// markClosing rejects further AddTable calls before the tables are cleared.
func (d *Dataset) markClosing() bool {
	d.tables.mu.Lock()
	defer d.tables.mu.Unlock()
	if d.closing {
		return false
	}
	d.closing = true
	return true
}
