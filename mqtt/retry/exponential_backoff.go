// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/wallclock"
)

// ExponentialBackoff retries a task with doubling intervals and jitter.
type ExponentialBackoff struct {
	// MaxAttempts caps the number of attempts; 0 is unlimited and 1 disables
	// retries.
	MaxAttempts uint64

	// MinInterval is the first retry interval, 1/8s by default.
	MinInterval time.Duration

	// MaxInterval caps the retry interval, 30s by default.
	MaxInterval time.Duration

	// Timeout bounds the total time spent across all attempts.
	Timeout time.Duration

	// NoJitter disables the ±5% interval jitter.
	NoJitter bool

	Logger *slog.Logger
}

// Start runs the task until it succeeds, reports a non-retryable error, runs
// out of attempts, or the context ends.
func (e *ExponentialBackoff) Start(
	ctx context.Context,
	name string,
	task Task,
) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	l := log.Wrap(e.Logger).With(slog.String("task", name))

	for attempt := uint64(1); ; attempt++ {
		retry, err := task(ctx)
		if err == nil {
			if attempt > 1 {
				l.Info(ctx, "retry succeeded", slog.Uint64("attempt", attempt))
			}
			return nil
		}

		interval := e.interval(ctx, attempt, retry)
		if interval == 0 {
			l.Warn(ctx, err, slog.Uint64("attempt", attempt))
			return err
		}

		l.Info(ctx, "retrying",
			slog.Uint64("attempt", attempt),
			slog.Duration("interval", interval),
			slog.String("error", err.Error()),
		)

		select {
		case <-wallclock.Instance.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Zero means stop retrying.
func (e *ExponentialBackoff) interval(
	ctx context.Context,
	attempt uint64,
	retry bool,
) time.Duration {
	if !retry || attempt == e.MaxAttempts || ctx.Err() != nil {
		return 0
	}

	minInterval := e.MinInterval
	if minInterval == 0 {
		minInterval = time.Second / 8
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}
	maxInterval = max(maxInterval, minInterval)

	factor := math.Pow(2, min(
		float64(attempt-1),
		math.Log2(float64(maxInterval)/float64(minInterval)),
	))
	if !e.NoJitter {
		// #nosec G404
		factor *= .95 + .1*rand.Float64()
	}
	return time.Duration(factor * float64(minInterval))
}
