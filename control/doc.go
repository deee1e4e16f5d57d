// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics, logging and debug introspection for
// hioload-db.
//
// Provides:
//   - YAML configuration with snapshot reads and reload listeners
//   - Prometheus collectors for contexts, timers, pools and rows
//   - slog logger construction (tint handler for terminals)
//   - Debug probe registration and state export
package control
