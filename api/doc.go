// Package api holds the contracts shared by the hioload-db packages:
// runnable work items, action states, timers, pools, the parser metadata
// capability and the error taxonomy.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api
