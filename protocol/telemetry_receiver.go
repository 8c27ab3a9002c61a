// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"context"
	stderr "errors"
	"fmt"
	"log/slog"

	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/options"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/eva00212/jetson/protocol/internal"
	"github.com/eva00212/jetson/protocol/mqtt"
)

type (
	// TelemetryReceiver subscribes to a topic pattern and hands decoded
	// values to a handler.
	TelemetryReceiver[T any] struct {
		listener *listener[T]
		handler  TelemetryHandler[T]
	}

	// TelemetryReceiverOption represents a single telemetry receiver option.
	TelemetryReceiverOption interface {
		telemetryReceiver(*TelemetryReceiverOptions)
	}

	// TelemetryReceiverOptions are the resolved telemetry receiver options.
	TelemetryReceiverOptions struct {
		Concurrency uint
		NoLocal     bool
		TopicTokens map[string]string
		Logger      *slog.Logger
	}

	// TelemetryHandler handles one decoded message. It may be called
	// concurrently, up to the configured concurrency.
	TelemetryHandler[T any] func(context.Context, *Message[T]) error
)

// NewTelemetryReceiver creates a new telemetry receiver. Payloads that fail
// to decode are logged at warning level and dropped without reaching the
// handler.
func NewTelemetryReceiver[T any](
	client mqtt.Client,
	encoding Encoding[T],
	topicPattern string,
	handler TelemetryHandler[T],
	opt ...TelemetryReceiverOption,
) (*TelemetryReceiver[T], error) {
	var opts TelemetryReceiverOptions
	opts.Apply(opt)

	if err := internal.ValidateNonNil(map[string]any{
		"client":   client,
		"encoding": encoding,
		"handler":  handler,
	}); err != nil {
		return nil, err
	}

	tp, err := internal.NewTopicPattern(
		"topicPattern",
		topicPattern,
		opts.TopicTokens,
	)
	if err != nil {
		return nil, err
	}

	tf, err := tp.Filter()
	if err != nil {
		return nil, err
	}

	tr := &TelemetryReceiver[T]{handler: handler}
	tr.listener = &listener[T]{
		client:      client,
		encoding:    encoding,
		topic:       tf,
		noLocal:     opts.NoLocal,
		concurrency: opts.Concurrency,
		log:         log.Wrap(opts.Logger),
		handler:     tr,
	}
	return tr, nil
}

// Listen subscribes to the topic. The returned function unsubscribes.
func (tr *TelemetryReceiver[T]) Listen(ctx context.Context) (func(), error) {
	return tr.listener.listen(ctx)
}

func (tr *TelemetryReceiver[T]) onMsg(
	ctx context.Context,
	_ *mqtt.Message,
	msg *Message[T],
) error {
	return tr.handle(ctx, msg)
}

// Call the handler, converting a panic into an error so one bad message can
// never take the process down.
func (tr *TelemetryReceiver[T]) handle(
	ctx context.Context,
	msg *Message[T],
) (err error) {
	defer func() {
		if ePanic := recover(); ePanic != nil {
			err = &errors.Error{
				Message:       fmt.Sprint(ePanic),
				Kind:          errors.ExecutionException,
				InApplication: true,
			}
		}
	}()

	if err := tr.handler(ctx, msg); err != nil {
		var e *errors.Error
		if !stderr.As(err, &e) {
			return &errors.Error{
				Message:       err.Error(),
				Kind:          errors.ExecutionException,
				NestedError:   err,
				InApplication: true,
			}
		}
		return e
	}
	return nil
}

// Apply resolves the provided list of options.
func (o *TelemetryReceiverOptions) Apply(
	opts []TelemetryReceiverOption,
	rest ...TelemetryReceiverOption,
) {
	for opt := range options.Apply[TelemetryReceiverOption](opts, rest...) {
		opt.telemetryReceiver(o)
	}
}

func (o *TelemetryReceiverOptions) telemetryReceiver(
	opt *TelemetryReceiverOptions,
) {
	if o != nil {
		*opt = *o
	}
}
