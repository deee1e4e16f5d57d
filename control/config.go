// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed configuration loaded from YAML, and a thread-safe store with
// snapshot reads and reload propagation.

package control

import (
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ContextConfig describes one named worker context.
type ContextConfig struct {
	Name      string `yaml:"name"`
	CPU       int    `yaml:"cpu"`       // -1 leaves the worker unpinned
	Suspended bool   `yaml:"suspended"` // start suspended, drain on Resume
	QueueHint int    `yaml:"queue_hint"`
}

// PoolConfig bounds one family of bridge pools.
type PoolConfig struct {
	Grow int `yaml:"grow"` // objects allocated per growth step
	Max  int `yaml:"max"`  // objects retained at most
}

// BridgeConfig configures the cross-thread dispatch bridge.
type BridgeConfig struct {
	Name           string        `yaml:"name"`
	CPU            int           `yaml:"cpu"`
	Buffers        PoolConfig    `yaml:"buffers"`
	Actions        PoolConfig    `yaml:"actions"`
	ExhaustedEvery time.Duration `yaml:"exhausted_log_every"`
}

// Config holds parameters for one blackboard instance.
type Config struct {
	LogLevel    string          `yaml:"log_level"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Bridge      BridgeConfig    `yaml:"bridge"`
	Contexts    []ContextConfig `yaml:"contexts"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Bridge: BridgeConfig{
			Name:           "bridge",
			CPU:            -1,
			Buffers:        PoolConfig{Grow: 8, Max: 256},
			Actions:        PoolConfig{Grow: 8, Max: 256},
			ExhaustedEvery: time.Second,
		},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return ParseConfig(raw)
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and names.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for _, p := range []PoolConfig{c.Bridge.Buffers, c.Bridge.Actions} {
		if p.Grow <= 0 || p.Max < p.Grow {
			return errors.Errorf("pool bounds invalid: grow=%d max=%d", p.Grow, p.Max)
		}
	}
	seen := make(map[string]bool, len(c.Contexts))
	for _, cc := range c.Contexts {
		if cc.Name == "" {
			return errors.New("context without name")
		}
		if seen[cc.Name] {
			return errors.Errorf("duplicate context %q", cc.Name)
		}
		if cc.QueueHint < 0 {
			return errors.Errorf("context %q: negative queue_hint", cc.Name)
		}
		seen[cc.Name] = true
	}
	return nil
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Wrapf(err, "log level %q", s)
	}
	return l, nil
}

// ConfigStore holds the live configuration with snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(Config)
}

// NewConfigStore initializes a store from cfg (defaults when nil).
func NewConfigStore(cfg *Config) *ConfigStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &ConfigStore{config: *cfg}
}

// Snapshot returns a copy of the current configuration.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := cs.config
	out.Contexts = append([]ContextConfig(nil), cs.config.Contexts...)
	return out
}

// Update applies fn to a copy, validates it, stores it and notifies
// listeners. The live config is left untouched when validation fails.
func (cs *ConfigStore) Update(fn func(*Config)) error {
	cs.mu.Lock()
	next := cs.config
	next.Contexts = append([]ContextConfig(nil), cs.config.Contexts...)
	fn(&next)
	if err := next.Validate(); err != nil {
		cs.mu.Unlock()
		return err
	}
	cs.config = next
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
	return nil
}

// OnReload registers a listener called after every successful Update.
func (cs *ConfigStore) OnReload(fn func(Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
