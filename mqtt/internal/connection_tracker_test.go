// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eva00212/jetson/mqtt/internal"
	"github.com/stretchr/testify/require"
)

type fakeClient struct{ name string }

func TestConnectionTrackerLifecycle(t *testing.T) {
	tracker := internal.NewConnectionTracker[*fakeClient]()

	cur := tracker.Current()
	require.Nil(t, cur.Client)
	select {
	case <-cur.Down.Done():
	default:
		t.Fatal("tracker should start disconnected")
	}

	attempt := tracker.Attempt()
	first := &fakeClient{"first"}
	require.NoError(t, tracker.Connect(first))
	require.Same(t, first, tracker.Current().Client)

	// A stale attempt does not affect the current connection.
	tracker.Disconnect(attempt-1, errors.New("stale"))
	require.Same(t, first, tracker.Current().Client)

	down := tracker.Current().Down
	tracker.Disconnect(attempt, errors.New("broker went away"))
	require.Nil(t, tracker.Current().Client)
	<-down.Done()
	require.EqualError(t, tracker.Current().Error, "broker went away")
}

func TestConnectionTrackerErrorBeforeConnect(t *testing.T) {
	tracker := internal.NewConnectionTracker[*fakeClient]()
	attempt := tracker.Attempt()
	tracker.Disconnect(attempt, errors.New("reset"))
	require.EqualError(t, tracker.Connect(&fakeClient{}), "reset")
}

func TestConnectionTrackerClientWaitsForReconnect(t *testing.T) {
	tracker := internal.NewConnectionTracker[*fakeClient]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan string, 2)
	go func() {
		for _, c := range tracker.Client(ctx) {
			results <- c.name
			if c.name == "second" {
				return
			}
		}
	}()

	a1 := tracker.Attempt()
	require.NoError(t, tracker.Connect(&fakeClient{"first"}))
	require.Equal(t, "first", <-results)

	tracker.Disconnect(a1, errors.New("drop"))
	tracker.Attempt()
	require.NoError(t, tracker.Connect(&fakeClient{"second"}))
	require.Equal(t, "second", <-results)
}

func TestRandomClientID(t *testing.T) {
	a, b := internal.RandomClientID(), internal.RandomClientID()
	require.Len(t, a, 23)
	require.NotEqual(t, a, b)
	require.Regexp(t, `^[0-9a-f]{23}$`, a)
}
