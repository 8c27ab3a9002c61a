// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"context"
	"sync"
)

// Background represents a long-running process that contexts can be tied to:
// once closed, every derived context is cancelled with its error.
type Background struct {
	err   error
	done  chan struct{}
	close func()
}

// NewBackground creates an open background that cancels derived contexts with
// err once closed.
func NewBackground(err error) *Background {
	done := make(chan struct{})
	return &Background{err, done, sync.OnceFunc(func() { close(done) })}
}

// With derives a context that is cancelled when the background closes.
func (b *Background) With(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-b.done:
			cancel(b.err)
		case <-c.Done():
		}
	}()
	return c, func() { cancel(context.Canceled) }
}

// Close the background. Safe to call more than once.
func (b *Background) Close() {
	b.close()
}

// Done is closed once the background is closed.
func (b *Background) Done() <-chan struct{} {
	return b.done
}
