// Package api
// Author: momentics
//
// Timer registration contract for periodic and counted callbacks.

package api

import "time"

// TimerToken identifies one timer registration on a context.
type TimerToken uint64

// TimerRegistrar abstracts periodic callback registration on a worker context.
type TimerRegistrar interface {
	// RegisterTimer invokes fn every interval on the worker thread.
	// count == 0 repeats until unregistered; otherwise fn runs count times
	// and the registration removes itself.
	RegisterTimer(interval time.Duration, fn func(), count uint32) (TimerToken, error)

	// UnregisterTimer removes a registration; false when it is unknown.
	UnregisterTimer(token TimerToken) bool
}
