// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/eva00212/jetson/protocol/errors"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.NoError(t, errors.Normalize(nil, "publish"))

	err := errors.Normalize(context.DeadlineExceeded, "publish")
	require.True(t, errors.Is(err, errors.Timeout))
	require.Equal(t, "publish timed out", err.Error())

	err = errors.Normalize(context.Canceled, "publish")
	require.True(t, errors.Is(err, errors.Cancellation))

	err = errors.Normalize(fmt.Errorf("boom"), "publish")
	require.True(t, errors.Is(err, errors.UnknownError))

	structured := &errors.Error{Message: "bad", Kind: errors.PayloadInvalid}
	wrapped := fmt.Errorf("decode: %w", structured)
	require.Same(t, structured, errors.Normalize(wrapped, "decode"))
}

func TestContextCause(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cause := &errors.Error{Message: "shutdown", Kind: errors.StateInvalid}
	cancel(cause)
	require.Same(t, cause, errors.Context(ctx, "run"))

	ctx, stop := context.WithCancel(context.Background())
	stop()
	require.True(t, errors.Is(errors.Context(ctx, "run"), errors.Cancellation))
}

func TestAttrs(t *testing.T) {
	err := &errors.Error{
		Message:       "missing field",
		Kind:          errors.PayloadInvalid,
		PropertyName:  "device_id",
		PropertyValue: nil,
	}
	attrs := err.Attrs()
	require.Len(t, attrs, 2)
	require.Equal(t, "kind", attrs[0].Key)
	require.Equal(t, "payload_invalid", attrs[0].Value.String())
	require.Equal(t, "device_id", attrs[1].Value.String())
}
