// File: cmd/blackboard/demo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-db/control"
	"github.com/momentics/hioload-db/dataset"
	"github.com/momentics/hioload-db/facade"
)

func newDemoCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the write/read, cross-thread and timer scenarios",
		RunE: func(c *cobra.Command, args []string) error {
			bb, stop, err := g.open()
			if err != nil {
				return err
			}
			defer stop()

			row, err := demoWriteRead(bb, stdout)
			if err != nil {
				return err
			}
			if err := demoCrossThread(bb, row, stdout); err != nil {
				return err
			}
			return demoTimer(bb, interval, stdout)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "timer interval")
	return cmd
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func demoWriteRead(bb *facade.Blackboard, w io.Writer) (*dataset.Row, error) {
	d := bb.Dataset()
	if !d.AddTable(dataset.KeyFromUint32(1), "T", "") {
		return nil, errors.New("add table 1")
	}
	table, _ := d.QueryTable(dataset.KeyFromUint32(1))
	if !table.AddRow(dataset.KeyFromUint32(5), 4, dataset.WithInfo(dataset.RowInfo{Name: "answer"})) {
		return nil, errors.New("add row 5")
	}
	row, _ := table.QueryRow(dataset.KeyFromUint32(5))
	row.Write(u32(42), false, 0)

	buf := make([]byte, 4)
	row.Read(buf)
	fmt.Fprintf(w, "write/read: row %s holds %d\n", row.Key(), binary.LittleEndian.Uint32(buf))
	fmt.Fprintf(w, "write/read: second add_table(1) accepted=%v\n", d.AddTable(dataset.KeyFromUint32(1), "T", ""))
	return row, nil
}

func demoCrossThread(bb *facade.Blackboard, row *dataset.Row, w io.Writer) error {
	target, err := bb.NewContext(control.ContextConfig{Name: "c2", CPU: -1})
	if err != nil {
		return err
	}
	var onTarget atomic.Bool
	var value atomic.Uint32
	tok, err := bb.Subscribe(row, "c2", func(_ *dataset.Row, data []byte) {
		onTarget.Store(target.IsCurrent())
		value.Store(binary.LittleEndian.Uint32(data))
	})
	if err != nil {
		return err
	}
	defer bb.Bridge().Unsubscribe(tok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		row.Write(u32(7), false, 0)
	}()
	<-done
	if err := target.Sync(); err != nil {
		return err
	}
	fmt.Fprintf(w, "cross-thread: observed %d on %s thread=%v\n", value.Load(), target.Name(), onTarget.Load())
	return nil
}

func demoTimer(bb *facade.Blackboard, interval time.Duration, w io.Writer) error {
	c, err := bb.NewContext(control.ContextConfig{Name: "timers", CPU: -1})
	if err != nil {
		return err
	}
	fired := make(chan struct{}, 3)
	start := time.Now()
	if _, err := c.RegisterTimer(interval, func() { fired <- struct{}{} }, 3); err != nil {
		return err
	}
	deadline := time.After(10*interval + time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-deadline:
			return errors.Errorf("timer fired %d of 3 times", i)
		}
	}
	// A fourth tick would land one interval later.
	time.Sleep(2 * interval)
	fmt.Fprintf(w, "timer: 3 invocations in %s, extra=%d, remaining timers=%d\n",
		time.Since(start).Round(time.Millisecond), len(fired), c.Timers())
	return nil
}
