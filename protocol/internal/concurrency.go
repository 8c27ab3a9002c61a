// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import "context"

// Concurrent dispatches values to handler with at most concurrency handlers
// running at once (0 means one goroutine per value). It returns the dispatch
// function and a cleanup function that stops the workers.
func Concurrent[T any](
	concurrency uint,
	handler func(context.Context, T),
) (func(context.Context, T), func()) {
	type args struct {
		ctx context.Context
		val T
	}

	if concurrency == 0 {
		return func(ctx context.Context, val T) {
			go handler(ctx, val)
		}, func() {}
	}

	dispatch := make(chan args)
	for range concurrency {
		go func() {
			for a := range dispatch {
				handler(a.ctx, a.val)
			}
		}()
	}

	return func(ctx context.Context, val T) {
		select {
		case dispatch <- args{ctx, val}:
		case <-ctx.Done():
		}
	}, func() { close(dispatch) }
}
