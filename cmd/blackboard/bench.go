// File: cmd/blackboard/bench.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-db/control"
	"github.com/momentics/hioload-db/dataset"
)

type benchOptions struct {
	writers     int
	rows        int
	writes      int
	subscribers int
}

func newBenchCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	o := benchOptions{writers: 4, rows: 64, writes: 10000, subscribers: 2}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure write and bridged delivery throughput",
		Long: `
Starts one writer goroutine per --writers, each owning a slice of the rows of
one table, and one subscriber context per --subscribers bridged to the whole
table. Reports writes, deliveries and pool counters.
`,
		RunE: func(c *cobra.Command, args []string) error {
			return runBench(c, g, o, stdout)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&o.writers, "writers", o.writers, "number of writer goroutines")
	flags.IntVar(&o.rows, "rows", o.rows, "rows in the bench table")
	flags.IntVar(&o.writes, "writes", o.writes, "writes per writer")
	flags.IntVar(&o.subscribers, "subscribers", o.subscribers, "subscriber contexts")
	return cmd
}

func runBench(c *cobra.Command, g *globalFlags, o benchOptions, w io.Writer) error {
	if o.writers < 1 || o.rows < o.writers || o.subscribers < 1 {
		return errors.Errorf("need writers >= 1, rows >= writers, subscribers >= 1")
	}
	bb, stop, err := g.open()
	if err != nil {
		return err
	}
	defer stop()

	runID := uuid.New()
	log := bb.Logger().With("run", runID)

	d := bb.Dataset()
	if !d.AddTable(dataset.KeyFromUint32(1), "bench", runID.String()) {
		return errors.New("add bench table")
	}
	table, _ := d.QueryTable(dataset.KeyFromUint32(1))
	rows := make([]*dataset.Row, o.rows)
	for i := range rows {
		table.AddRow(dataset.KeyFromUint32(uint32(i)), 8)
		rows[i], _ = table.QueryRow(dataset.KeyFromUint32(uint32(i)))
	}

	var delivered atomic.Int64
	for i := 0; i < o.subscribers; i++ {
		name := fmt.Sprintf("sub-%d", i)
		if _, err := bb.NewContext(control.ContextConfig{Name: name, CPU: -1}); err != nil {
			return err
		}
		if _, err := bb.SubscribeTable(table, name, func(*dataset.Row, []byte) { delivered.Add(1) }); err != nil {
			return err
		}
	}

	log.Info("bench started", "writers", o.writers, "rows", o.rows, "writes", o.writes)
	start := time.Now()
	grp, ctx := errgroup.WithContext(c.Context())
	per := o.rows / o.writers
	for wi := 0; wi < o.writers; wi++ {
		own := rows[wi*per : (wi+1)*per]
		grp.Go(func() error {
			buf := make([]byte, 8)
			for n := 0; n < o.writes; n++ {
				if n%1024 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				r := own[n%len(own)]
				binary.LittleEndian.PutUint64(buf, uint64(n+1))
				if !r.Write(buf, false, 0) {
					return errors.Errorf("write rejected on row %s", r.Key())
				}
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}
	wrote := time.Since(start)

	for i := 0; i < o.subscribers; i++ {
		sub, _ := bb.Context(fmt.Sprintf("sub-%d", i))
		if err := sub.Sync(); err != nil {
			return err
		}
	}
	total := time.Since(start)

	writes := int64(o.writers * o.writes)
	st := bb.Bridge().Stats()
	fmt.Fprintf(w, "run %s\n", runID)
	fmt.Fprintf(w, "writes:     %d in %s (%.0f/s)\n", writes, wrote.Round(time.Microsecond), float64(writes)/wrote.Seconds())
	fmt.Fprintf(w, "deliveries: %d in %s (%.0f/s)\n", delivered.Load(), total.Round(time.Microsecond), float64(delivered.Load())/total.Seconds())
	fmt.Fprintf(w, "actions:    allocated=%d pooled=%d misses=%d\n", st.Actions.Allocated, st.Actions.Pooled, st.Actions.Misses)
	fmt.Fprintf(w, "buffers:    allocated=%d pooled=%d misses=%d\n", st.Buffers.Allocated, st.Buffers.Pooled, st.Buffers.Misses)
	return nil
}

