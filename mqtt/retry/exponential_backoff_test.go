// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/mqtt/retry"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type Mock struct {
	mock.Mock
}

var errRetryable = errors.New("broker unavailable")

func (m *Mock) Task(context.Context) (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

func useFakeClock(t *testing.T) *wallclock.Fake {
	fake := wallclock.NewFake(time.Unix(1_700_000_000, 0))
	fake.AutoAdvance = true
	prev := wallclock.Instance
	wallclock.Instance = fake
	t.Cleanup(func() { wallclock.Instance = prev })
	return fake
}

func TestNoRetry(t *testing.T) {
	m := new(Mock)
	m.On("Task").Return(false, nil)

	r := retry.ExponentialBackoff{}
	require.NoError(t, r.Start(context.Background(), "connect", m.Task))
	m.AssertNumberOfCalls(t, "Task", 1)
}

func TestMaxAttempts(t *testing.T) {
	useFakeClock(t)
	m := new(Mock)
	m.On("Task").Return(true, errRetryable)

	r := retry.ExponentialBackoff{MaxAttempts: 3}
	err := r.Start(context.Background(), "connect", m.Task)
	require.ErrorIs(t, err, errRetryable)
	m.AssertNumberOfCalls(t, "Task", 3)
}

func TestNonRetryableStops(t *testing.T) {
	m := new(Mock)
	m.On("Task").Return(false, errRetryable)

	r := retry.ExponentialBackoff{}
	err := r.Start(context.Background(), "connect", m.Task)
	require.ErrorIs(t, err, errRetryable)
	m.AssertNumberOfCalls(t, "Task", 1)
}

func TestRetryUntilSuccess(t *testing.T) {
	fake := useFakeClock(t)
	start := fake.Now()

	m := new(Mock)
	m.On("Task").Twice().Return(true, errRetryable)
	m.On("Task").Once().Return(false, nil)

	r := retry.ExponentialBackoff{
		MinInterval: time.Second,
		NoJitter:    true,
	}
	require.NoError(t, r.Start(context.Background(), "connect", m.Task))
	m.AssertNumberOfCalls(t, "Task", 3)

	// 1s then 2s of backoff.
	require.Equal(t, 3*time.Second, fake.Now().Sub(start))
}
