// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package wallclock

import (
	"context"
	"time"
)

type (
	// WallClock is the subset of the context and time packages used by the
	// gateway. Everything time-dependent goes through it so tests can control
	// apparent time.
	WallClock interface {
		WithTimeoutCause(
			parent context.Context,
			timeout time.Duration,
			cause error,
		) (context.Context, context.CancelFunc)
		After(d time.Duration) <-chan time.Time
		NewTimer(d time.Duration) Timer
		Now() time.Time
	}

	// Timer abstracts the functionality of time.Timer.
	Timer interface {
		C() <-chan time.Time
		Reset(d time.Duration) bool
		Stop() bool
	}

	system struct{}

	systemTimer struct{ *time.Timer }
)

// WithTimeoutCause indirects context.WithTimeoutCause.
func (system) WithTimeoutCause(
	parent context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, timeout, cause)
}

// After indirects time.After.
func (system) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTimer indirects time.NewTimer.
func (system) NewTimer(d time.Duration) Timer {
	return systemTimer{time.NewTimer(d)}
}

// Now indirects time.Now.
func (system) Now() time.Time {
	return time.Now()
}

func (t systemTimer) C() <-chan time.Time {
	return t.Timer.C
}

// Instance is the process-wide clock. Tests may replace it (see Fake) but must
// restore it afterwards.
var Instance WallClock = system{}
