// File: cmd/blackboard/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// blackboard drives the reactive store from the command line: runnable
// scenarios, a write/notify benchmark and a debug state dump.

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
