// File: cmd/blackboard/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-db/control"
	"github.com/momentics/hioload-db/facade"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "blackboard",
		Short: "Reactive dataset/table/row blackboard",
		Long: `
Runs an in-process blackboard: a dataset of tables of rows whose changes are
delivered to subscribers on their own worker contexts.
`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newDemoCommand(g, stdout),
		newBenchCommand(g, stdout),
		newDumpCommand(g, stdout),
	)
	return root
}

// open builds the blackboard from flags and, when asked, serves /metrics
// until the returned stop function runs.
func (g *globalFlags) open() (*facade.Blackboard, func(), error) {
	cfg := control.DefaultConfig()
	if g.configPath != "" {
		var err error
		if cfg, err = control.LoadConfig(g.configPath); err != nil {
			return nil, nil, err
		}
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.metricsAddr != "" {
		cfg.MetricsAddr = g.metricsAddr
	}

	bb, err := facade.New(cfg, facade.WithLogOutput(os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	if cfg.MetricsAddr == "" {
		return bb, func() { _ = bb.Shutdown() }, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", bb.Metrics().Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			bb.Logger().Error("metrics server", "addr", cfg.MetricsAddr, "err", err)
		}
	}()
	bb.Logger().Info("serving metrics", "addr", cfg.MetricsAddr)
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = bb.Shutdown()
	}
	return bb, stop, nil
}
