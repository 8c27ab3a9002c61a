// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"context"
	"log/slog"

	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/options"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/eva00212/jetson/protocol/internal"
	"github.com/eva00212/jetson/protocol/mqtt"
)

type (
	// TelemetrySender publishes typed values to a topic pattern.
	TelemetrySender[T any] struct {
		client   mqtt.Client
		encoding Encoding[T]
		topic    *internal.TopicPattern
		log      log.Logger
	}

	// TelemetrySenderOption represents a single telemetry sender option.
	TelemetrySenderOption interface {
		telemetrySender(*TelemetrySenderOptions)
	}

	// TelemetrySenderOptions are the resolved telemetry sender options.
	TelemetrySenderOptions struct {
		TopicTokens map[string]string
		Logger      *slog.Logger
	}

	// SendOption represents a single per-send option.
	SendOption interface{ send(*SendOptions) }

	// SendOptions are the resolved per-send options.
	SendOptions struct {
		Retain      bool
		TopicTokens map[string]string
	}
)

const telemetrySenderErrStr = "telemetry send"

// NewTelemetrySender creates a new telemetry sender.
func NewTelemetrySender[T any](
	client mqtt.Client,
	encoding Encoding[T],
	topicPattern string,
	opt ...TelemetrySenderOption,
) (*TelemetrySender[T], error) {
	var opts TelemetrySenderOptions
	opts.Apply(opt)

	if err := internal.ValidateNonNil(map[string]any{
		"client":   client,
		"encoding": encoding,
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

	return &TelemetrySender[T]{
		client:   client,
		encoding: encoding,
		topic:    tp,
		log:      log.Wrap(opts.Logger),
	}, nil
}

// Send serializes the value and hands it to the client. It returns once the
// message is queued, not when the broker acknowledges it.
func (ts *TelemetrySender[T]) Send(
	ctx context.Context,
	val T,
	opt ...SendOption,
) error {
	var opts SendOptions
	opts.Apply(opt)

	topic, err := ts.topic.Topic(opts.TopicTokens)
	if err != nil {
		return err
	}

	data, err := serialize(ts.encoding, val)
	if err != nil {
		return err
	}

	// Readings and commands are all at-least-once.
	pubOpts := []mqtt.PublishOption{
		mqtt.WithQoS(1),
		mqtt.WithRetain(opts.Retain),
		mqtt.WithContentType(data.ContentType),
		mqtt.WithPayloadFormat(data.PayloadFormat),
	}

	ts.log.Debug(ctx, "sending telemetry",
		slog.String("topic", topic),
		slog.Bool("retain", opts.Retain),
	)

	if err := ts.client.Publish(ctx, topic, data.Payload, pubOpts...); err != nil {
		return errors.Normalize(err, telemetrySenderErrStr)
	}
	return nil
}

// Apply resolves the provided list of options.
func (o *TelemetrySenderOptions) Apply(
	opts []TelemetrySenderOption,
	rest ...TelemetrySenderOption,
) {
	for opt := range options.Apply[TelemetrySenderOption](opts, rest...) {
		opt.telemetrySender(o)
	}
}

func (o *TelemetrySenderOptions) telemetrySender(opt *TelemetrySenderOptions) {
	if o != nil {
		*opt = *o
	}
}

// Apply resolves the provided list of options.
func (o *SendOptions) Apply(opts []SendOption, rest ...SendOption) {
	for opt := range options.Apply[SendOption](opts, rest...) {
		opt.send(o)
	}
}

func (o *SendOptions) send(opt *SendOptions) {
	if o != nil {
		*opt = *o
	}
}
