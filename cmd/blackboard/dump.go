// File: cmd/blackboard/dump.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-db/control"
	"github.com/momentics/hioload-db/dataset"
)

func newDumpCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	var tables, rows int
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Populate a sample dataset and print the debug probes as YAML",
		RunE: func(c *cobra.Command, args []string) error {
			bb, stop, err := g.open()
			if err != nil {
				return err
			}
			defer stop()

			if _, err := bb.NewContext(control.ContextConfig{Name: "observer", CPU: -1}); err != nil {
				return err
			}
			d := bb.Dataset()
			for ti := 0; ti < tables; ti++ {
				key := dataset.KeyFromUint32(uint32(ti))
				d.AddTable(key, fmt.Sprintf("table-%d", ti), "")
				table, _ := d.QueryTable(key)
				for ri := 0; ri < rows; ri++ {
					table.AddRow(dataset.KeyFromUint32(uint32(ri)), 4)
				}
				if _, err := bb.SubscribeTable(table, "observer", func(*dataset.Row, []byte) {}); err != nil {
					return err
				}
				if r, ok := table.QueryRowByIndex(0); ok {
					r.Write(u32(1), true, 0)
				}
			}
			obs, _ := bb.Context("observer")
			if err := obs.Sync(); err != nil {
				return err
			}
			return bb.DumpYAML(stdout)
		},
	}
	cmd.Flags().IntVar(&tables, "tables", 2, "sample tables")
	cmd.Flags().IntVar(&rows, "rows", 4, "sample rows per table")
	return cmd
}
