package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "bb.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("log_level: error\n"), 0o600))

	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	require.NoError(t, root.Execute())
	return out.String()
}

func TestDemo(t *testing.T) {
	out := run(t, "demo", "--interval", "20ms")
	assert.Contains(t, out, "holds 42")
	assert.Contains(t, out, "second add_table(1) accepted=false")
	assert.Contains(t, out, "observed 7 on c2 thread=true")
	assert.Contains(t, out, "3 invocations")
	assert.Contains(t, out, "extra=0, remaining timers=0")
}

func TestBench(t *testing.T) {
	out := run(t, "bench", "--writers", "2", "--rows", "4", "--writes", "200", "--subscribers", "1")
	assert.Contains(t, out, "writes:     400")
	assert.Contains(t, out, "deliveries: 400")
}

func TestBench_BadFlags(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetArgs([]string{"bench", "--writers", "0"})
	root.SetErr(&out)
	require.Error(t, root.Execute())
}

func TestDump(t *testing.T) {
	out := run(t, "dump", "--tables", "3", "--rows", "2")
	var state map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &state))
	assert.EqualValues(t, 3, state["dataset.tables"])
	assert.EqualValues(t, 6, state["dataset.rows"])
}
