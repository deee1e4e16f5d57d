// File: facade/blackboard.go
// Unified facade over the blackboard components.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Blackboard aggregates the dataset, the subscription registry, the
// cross-thread bridge and a set of named worker contexts behind one type.
// It also owns the ambient services shared by all of them: the live
// configuration store, the logger with its reloadable level, metrics and
// debug probes.

package facade

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/bridge"
	"github.com/momentics/hioload-db/control"
	"github.com/momentics/hioload-db/dataset"
	"github.com/momentics/hioload-db/dispatch"
)

// Option configures a Blackboard.
type Option func(*options)

type options struct {
	logger *slog.Logger
	out    *os.File
}

// WithLogger replaces the facade's logger. Level reloads no longer apply.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithLogOutput sends the default tint logger to f instead of stderr.
func WithLogOutput(f *os.File) Option { return func(o *options) { o.out = f } }

// Blackboard is the main facade type.
// It implements api.GracefulShutdown.
type Blackboard struct {
	store   *control.ConfigStore
	level   *slog.LevelVar
	log     *slog.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes

	data   *dataset.Dataset
	subs   *dataset.Subscriptions
	bridge *bridge.DispatcherBase

	mu       sync.RWMutex
	contexts map[string]*dispatch.Context
	closed   bool
}

var _ api.GracefulShutdown = (*Blackboard)(nil)

// New validates cfg (defaults when nil) and starts every configured
// context plus the bridge.
func New(cfg *control.Config, opts ...Option) (*Blackboard, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "blackboard config")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	lvl, _ := control.ParseLevel(cfg.LogLevel)
	bb := &Blackboard{
		store:    control.NewConfigStore(cfg),
		level:    new(slog.LevelVar),
		metrics:  control.NewMetrics(),
		probes:   control.NewDebugProbes(),
		contexts: make(map[string]*dispatch.Context),
	}
	bb.level.Set(lvl)
	bb.log = o.logger
	if bb.log == nil {
		out := o.out
		if out == nil {
			out = os.Stderr
		}
		bb.log = control.NewLogger(out, bb.level)
	}

	bb.data = dataset.New(dataset.WithLogger(bb.log), dataset.WithMetrics(bb.metrics))
	bb.subs = dataset.NewSubscriptions()
	bb.bridge = bridge.New(
		bridge.WithConfig(cfg.Bridge),
		bridge.WithLogger(bb.log),
		bridge.WithMetrics(bb.metrics),
	)
	for _, cc := range cfg.Contexts {
		if _, err := bb.NewContext(cc); err != nil {
			_ = bb.Shutdown()
			return nil, err
		}
	}

	bb.store.OnReload(bb.reload)
	bb.registerProbes()
	bb.log.Info("blackboard started", "contexts", len(cfg.Contexts), "bridge", cfg.Bridge.Name)
	return bb, nil
}

// Dataset returns the root container.
func (bb *Blackboard) Dataset() *dataset.Dataset { return bb.data }

// Subscriptions returns the same-thread subscription registry.
func (bb *Blackboard) Subscriptions() *dataset.Subscriptions { return bb.subs }

// Bridge returns the cross-thread dispatcher.
func (bb *Blackboard) Bridge() *bridge.DispatcherBase { return bb.bridge }

// Metrics returns the metrics set.
func (bb *Blackboard) Metrics() *control.Metrics { return bb.metrics }

// Debug returns the probe registry.
func (bb *Blackboard) Debug() *control.DebugProbes { return bb.probes }

// Config returns the live configuration store.
func (bb *Blackboard) Config() *control.ConfigStore { return bb.store }

// Logger returns the facade's logger.
func (bb *Blackboard) Logger() *slog.Logger { return bb.log }

// NewContext starts a named worker context.
func (bb *Blackboard) NewContext(cc control.ContextConfig) (*dispatch.Context, error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closed {
		return nil, api.Wrap(api.ErrContextDisposed, api.ErrCodeDisposed, "blackboard shut down")
	}
	if cc.Name == "" {
		return nil, api.Wrap(api.ErrInvalidArgument, api.ErrCodeInvalidArgument, "context without name")
	}
	if _, dup := bb.contexts[cc.Name]; dup {
		return nil, api.Wrap(api.ErrInvalidArgument, api.ErrCodeInvalidArgument, "duplicate context").WithContext("context", cc.Name)
	}
	c := dispatch.NewContext(
		dispatch.WithName(cc.Name),
		dispatch.WithCPU(cc.CPU),
		dispatch.WithSuspendable(cc.Suspended),
		dispatch.WithQueueHint(cc.QueueHint),
		dispatch.WithLogger(bb.log),
		dispatch.WithMetrics(bb.metrics),
	)
	bb.contexts[cc.Name] = c
	return c, nil
}

// Context looks a named context up.
func (bb *Blackboard) Context(name string) (*dispatch.Context, bool) {
	bb.mu.RLock()
	defer bb.mu.RUnlock()
	c, ok := bb.contexts[name]
	return c, ok
}

// Subscribe delivers changes of row to cb on the named context.
func (bb *Blackboard) Subscribe(row *dataset.Row, contextName string, cb dataset.RowCallback) (bridge.Token, error) {
	c, ok := bb.Context(contextName)
	if !ok {
		return bridge.Token{}, api.Wrap(api.ErrNotFound, api.ErrCodeNotFound, "unknown context").WithContext("context", contextName)
	}
	return bb.bridge.Subscribe(row, c, cb)
}

// SubscribeTable delivers changes of every row of table to cb on the named
// context.
func (bb *Blackboard) SubscribeTable(table *dataset.Table, contextName string, cb dataset.RowCallback) (bridge.TableToken, error) {
	c, ok := bb.Context(contextName)
	if !ok {
		return bridge.TableToken{}, api.Wrap(api.ErrNotFound, api.ErrCodeNotFound, "unknown context").WithContext("context", contextName)
	}
	return bb.bridge.SubscribeTable(table, c, cb)
}

// Reload applies fn to the live configuration. Only the log level takes
// effect at runtime; pool and context settings apply to new instances.
func (bb *Blackboard) Reload(fn func(*control.Config)) error {
	return bb.store.Update(fn)
}

// DumpYAML writes every debug probe as YAML.
func (bb *Blackboard) DumpYAML(w io.Writer) error {
	return bb.probes.WriteYAML(w)
}

// Shutdown closes the bridge, the registry and the dataset, then disposes
// every named context. Calling it twice is a no-op.
func (bb *Blackboard) Shutdown() error {
	bb.mu.Lock()
	if bb.closed {
		bb.mu.Unlock()
		return nil
	}
	bb.closed = true
	contexts := bb.contexts
	bb.contexts = make(map[string]*dispatch.Context)
	bb.mu.Unlock()

	err := bb.bridge.Close()
	if cerr := bb.subs.Close(); err == nil {
		err = cerr
	}
	if cerr := bb.data.Close(); err == nil {
		err = cerr
	}
	for _, c := range contexts {
		c.Dispose()
	}
	bb.log.Info("blackboard stopped")
	return err
}

func (bb *Blackboard) reload(cfg control.Config) {
	lvl, err := control.ParseLevel(cfg.LogLevel)
	if err != nil {
		return
	}
	if bb.level.Level() != lvl {
		bb.level.Set(lvl)
		bb.log.Info("log level changed", "level", lvl)
	}
}

func (bb *Blackboard) registerProbes() {
	bb.probes.RegisterProbe("dataset.tables", func() any { return bb.data.Size() })
	bb.probes.RegisterProbe("dataset.rows", func() any {
		n := 0
		for _, t := range bb.data.Tables() {
			n += t.Size()
		}
		return n
	})
	bb.probes.RegisterProbe("subscriptions.rows", func() any { return bb.subs.Len() })
	bb.probes.RegisterProbe("bridge", func() any { return bb.bridge.Stats() })
	bb.probes.RegisterProbe("contexts", func() any {
		bb.mu.RLock()
		defer bb.mu.RUnlock()
		names := make([]string, 0, len(bb.contexts))
		for name := range bb.contexts {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]map[string]any, 0, len(names))
		for _, name := range names {
			c := bb.contexts[name]
			out = append(out, map[string]any{
				"name":      name,
				"pending":   c.Pending(),
				"timers":    c.Timers(),
				"suspended": c.Suspended(),
			})
		}
		return out
	})
}
