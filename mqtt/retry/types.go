// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry

import "context"

type (
	// Task is a retryable unit of work. It reports whether a failure is worth
	// retrying alongside the error itself.
	Task = func(context.Context) (shouldRetry bool, err error)

	// Policy runs a task until it succeeds or the policy gives up.
	Policy interface {
		Start(ctx context.Context, name string, task Task) error
	}
)
