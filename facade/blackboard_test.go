package facade_test

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/control"
	"github.com/momentics/hioload-db/dataset"
	"github.com/momentics/hioload-db/facade"
)

func newBlackboard(t *testing.T, cfg *control.Config) *facade.Blackboard {
	t.Helper()
	bb, err := facade.New(cfg, facade.WithLogger(control.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bb.Shutdown() })
	return bb
}

// Full lifecycle: configured contexts, bridged delivery, reload and debug dump.
func TestBlackboardLifecycle(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Contexts = []control.ContextConfig{{Name: "rules", CPU: -1}, {Name: "monitor", CPU: -1}}
	bb := newBlackboard(t, cfg)

	d := bb.Dataset()
	require.True(t, d.AddTable(dataset.KeyFromUint32(1), "T", ""))
	table, _ := d.QueryTable(dataset.KeyFromUint32(1))
	require.True(t, table.AddRow(dataset.KeyFromUint32(5), 4))
	row, _ := table.QueryRow(dataset.KeyFromUint32(5))

	rules, ok := bb.Context("rules")
	require.True(t, ok)

	var got atomic.Uint32
	var onRules atomic.Bool
	_, err := bb.Subscribe(row, "rules", func(_ *dataset.Row, data []byte) {
		onRules.Store(rules.IsCurrent())
		got.Store(binary.LittleEndian.Uint32(data))
	})
	require.NoError(t, err)

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 7)
	require.True(t, row.Write(buf, false, 0))
	require.NoError(t, rules.Sync())
	assert.EqualValues(t, 7, got.Load())
	assert.True(t, onRules.Load())

	_, err = bb.Subscribe(row, "missing", func(*dataset.Row, []byte) {})
	assert.True(t, errors.Is(err, api.ErrNotFound))
	assert.Equal(t, api.ErrCodeNotFound, api.CodeOf(err))

	var out bytes.Buffer
	require.NoError(t, bb.DumpYAML(&out))
	var dump map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &dump))
	assert.EqualValues(t, 1, dump["dataset.tables"])
	assert.EqualValues(t, 1, dump["dataset.rows"])
	assert.Contains(t, dump, "bridge")
	assert.Contains(t, dump, "contexts")

	require.NoError(t, bb.Shutdown())
	require.NoError(t, bb.Shutdown())
	assert.True(t, rules.Disposed())
	assert.Nil(t, row.QueryParent())
}

func TestBlackboardReloadLevel(t *testing.T) {
	logFile, err := os.Create(filepath.Join(t.TempDir(), "bb.log"))
	require.NoError(t, err)
	defer logFile.Close()

	cfg := control.DefaultConfig()
	cfg.LogLevel = "warn"
	bb, err := facade.New(cfg, facade.WithLogOutput(logFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bb.Shutdown() })

	ctx := t.Context()
	assert.False(t, bb.Logger().Enabled(ctx, slog.LevelDebug))
	assert.False(t, bb.Logger().Enabled(ctx, slog.LevelInfo))
	assert.True(t, bb.Logger().Enabled(ctx, slog.LevelWarn))

	var seen string
	bb.Config().OnReload(func(c control.Config) { seen = c.LogLevel })
	require.NoError(t, bb.Reload(func(c *control.Config) { c.LogLevel = "debug" }))
	assert.Equal(t, "debug", seen)
	assert.Equal(t, "debug", bb.Config().Snapshot().LogLevel)
	assert.True(t, bb.Logger().Enabled(ctx, slog.LevelDebug))

	err = bb.Reload(func(c *control.Config) { c.LogLevel = "loud" })
	require.Error(t, err)
	assert.Equal(t, "debug", bb.Config().Snapshot().LogLevel)
	assert.True(t, bb.Logger().Enabled(ctx, slog.LevelDebug))

	require.NoError(t, bb.Reload(func(c *control.Config) { c.LogLevel = "error" }))
	assert.False(t, bb.Logger().Enabled(ctx, slog.LevelWarn))
	assert.True(t, bb.Logger().Enabled(ctx, slog.LevelError))

	logged, err := os.ReadFile(logFile.Name())
	require.NoError(t, err)
	assert.Contains(t, string(logged), "log level changed")
}

func TestBlackboardContexts(t *testing.T) {
	bb := newBlackboard(t, nil)

	c, err := bb.NewContext(control.ContextConfig{Name: "io", CPU: -1, Suspended: true})
	require.NoError(t, err)
	assert.True(t, c.Suspended())

	_, err = bb.NewContext(control.ContextConfig{Name: "io", CPU: -1})
	assert.True(t, errors.Is(err, api.ErrInvalidArgument))
	assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(err))
	_, err = bb.NewContext(control.ContextConfig{CPU: -1})
	assert.True(t, errors.Is(err, api.ErrInvalidArgument))
	assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(err))

	require.NoError(t, bb.Shutdown())
	_, err = bb.NewContext(control.ContextConfig{Name: "late", CPU: -1})
	assert.True(t, errors.Is(err, api.ErrContextDisposed))
	assert.Equal(t, api.ErrCodeDisposed, api.CodeOf(err))
}

func TestBlackboardRejectsBadConfig(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Contexts = []control.ContextConfig{{Name: "a"}, {Name: "a"}}
	_, err := facade.New(cfg, facade.WithLogger(control.Discard()))
	require.Error(t, err)
}
