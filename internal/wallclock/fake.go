// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package wallclock

import (
	"context"
	"sync"
	"time"
)

type (
	// Fake is a controllable WallClock for tests. Time only moves when
	// Advance is called, or on every After call when AutoAdvance is set, in
	// which case After behaves like a sleep that completes instantly.
	Fake struct {
		AutoAdvance bool

		mu      sync.Mutex
		now     time.Time
		waiters []*fakeWaiter
	}

	fakeWaiter struct {
		at time.Time
		ch chan time.Time
	}

	fakeTimer struct {
		clock *Fake
		mu    sync.Mutex
		w     *fakeWaiter
		ch    chan time.Time
	}
)

// NewFake returns a fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake time forward and fires any expired waiters.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	var fired []*fakeWaiter
	pending := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.at.After(now) {
			fired = append(fired, w)
		} else {
			pending = append(pending, w)
		}
	}
	f.waiters = pending
	f.mu.Unlock()

	for _, w := range fired {
		w.fire(now)
	}
}

// After returns a channel that fires once the fake time reaches now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if f.AutoAdvance {
		f.Advance(d)
		ch <- f.Now()
		return ch
	}
	f.add(&fakeWaiter{at: f.Now().Add(d), ch: ch})
	return ch
}

// NewTimer returns a timer driven by the fake time.
func (f *Fake) NewTimer(d time.Duration) Timer {
	t := &fakeTimer{clock: f, ch: make(chan time.Time, 1)}
	t.Reset(d)
	return t
}

// WithTimeoutCause returns a context cancelled when the fake time passes the
// timeout.
func (f *Fake) WithTimeoutCause(
	parent context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	fire := f.After(timeout)
	go func() {
		select {
		case <-fire:
			cancel(cause)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

func (f *Fake) add(w *fakeWaiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !w.at.After(f.now) {
		w.fire(f.now)
		return
	}
	f.waiters = append(f.waiters, w)
}

func (f *Fake) remove(w *fakeWaiter) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.waiters {
		if x == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (w *fakeWaiter) fire(now time.Time) {
	select {
	case w.ch <- now:
	default:
	}
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	active := t.Stop()
	t.mu.Lock()
	t.w = &fakeWaiter{at: t.clock.Now().Add(d), ch: t.ch}
	w := t.w
	t.mu.Unlock()
	t.clock.add(w)
	return active
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return false
	}
	active := t.clock.remove(t.w)
	t.w = nil
	return active
}
