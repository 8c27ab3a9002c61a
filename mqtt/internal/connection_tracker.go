// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"context"
	"errors"
	"iter"
	"sync"
)

type (
	// ConnectionTracker records which client instance is currently connected
	// and lets callers wait for the next one.
	ConnectionTracker[Client comparable] struct {
		current   CurrentConnection[Client]
		currentMu sync.RWMutex
	}

	// CurrentConnection is a snapshot of the tracked connection.
	CurrentConnection[Client comparable] struct {
		// Client is the connected instance, or the zero value while down.
		Client Client

		// Error is what ended the last connection (or attempt).
		Error error

		// Closed when the connection comes up.
		up chan struct{}

		// Down is closed when the connection goes down. It is closed from
		// construction until the first connect.
		Down *Background

		// Attempt counts connection attempts, successful or not.
		Attempt uint64
	}
)

var errConnectionDown = errors.New("connection down")

// NewConnectionTracker returns a tracker in the disconnected state.
func NewConnectionTracker[Client comparable]() *ConnectionTracker[Client] {
	c := &ConnectionTracker[Client]{}
	c.current.up = make(chan struct{})
	c.current.Down = NewBackground(errConnectionDown)
	c.current.Down.Close()
	return c
}

// Attempt starts a new connection attempt and returns its number. A
// disconnect reported for an older attempt is ignored.
func (c *ConnectionTracker[Client]) Attempt() uint64 {
	c.currentMu.Lock()
	defer c.currentMu.Unlock()

	c.current.Error = nil
	c.current.Attempt++
	return c.current.Attempt
}

// Connect marks the client as connected. If the attempt already saw an error
// between dialing and CONNACK, that error is returned instead.
func (c *ConnectionTracker[Client]) Connect(client Client) error {
	c.currentMu.Lock()
	defer c.currentMu.Unlock()

	if c.current.Error != nil {
		return c.current.Error
	}

	c.current.Client = client
	close(c.current.up)
	c.current.Down = NewBackground(errConnectionDown)
	return nil
}

// Disconnect marks the connection for the given attempt as down.
func (c *ConnectionTracker[Client]) Disconnect(attempt uint64, err error) {
	c.currentMu.Lock()
	defer c.currentMu.Unlock()

	if c.current.Attempt != attempt {
		return
	}

	if c.current.Error == nil {
		c.current.Error = err
	}

	var zero Client
	if c.current.Client == zero {
		return
	}

	c.current.Client = zero
	c.current.up = make(chan struct{})
	c.current.Down.Close()
}

// Current returns a snapshot of the connection.
func (c *ConnectionTracker[Client]) Current() CurrentConnection[Client] {
	c.currentMu.RLock()
	defer c.currentMu.RUnlock()
	return c.current
}

// Client yields the connected client, waiting for a connection if needed.
// The yielded context is cancelled if that connection goes down. Continue the
// loop to retry on the next connection; break once the call is done. The loop
// only ends on its own when ctx ends.
func (c *ConnectionTracker[Client]) Client(
	ctx context.Context,
) iter.Seq2[context.Context, Client] {
	return func(yield func(context.Context, Client) bool) {
		for {
			current := c.Current()

			var zero Client
			if current.Client == zero {
				select {
				case <-ctx.Done():
					return
				case <-current.up:
					continue
				}
			}

			if !func() bool {
				ctx, cancel := current.Down.With(ctx)
				defer cancel()
				return yield(ctx, current.Client)
			}() {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-current.Down.Done():
			}
		}
	}
}
