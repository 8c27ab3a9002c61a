// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"log/slog"
	"maps"
)

type (
	// WithConcurrency bounds how many handlers may run in parallel. Zero is
	// unbounded.
	WithConcurrency uint

	// WithNoLocal keeps the listener from receiving messages published by
	// the same client.
	WithNoLocal bool

	// WithTopicTokens specifies topic token values.
	WithTopicTokens map[string]string

	// WithRetain asks the broker to retain the message.
	WithRetain bool

	withLogger struct{ *slog.Logger }
)

// WithLogger sets the logger for the sender or receiver.
func WithLogger(logger *slog.Logger) interface {
	TelemetrySenderOption
	TelemetryReceiverOption
} {
	return withLogger{logger}
}

func (o withLogger) telemetrySender(opt *TelemetrySenderOptions) {
	opt.Logger = o.Logger
}

func (o withLogger) telemetryReceiver(opt *TelemetryReceiverOptions) {
	opt.Logger = o.Logger
}

func (o WithConcurrency) telemetryReceiver(opt *TelemetryReceiverOptions) {
	opt.Concurrency = uint(o)
}

func (o WithNoLocal) telemetryReceiver(opt *TelemetryReceiverOptions) {
	opt.NoLocal = bool(o)
}

func (o WithTopicTokens) merge(tokens map[string]string) map[string]string {
	if tokens == nil {
		tokens = make(map[string]string, len(o))
	}
	maps.Copy(tokens, o)
	return tokens
}

func (o WithTopicTokens) telemetryReceiver(opt *TelemetryReceiverOptions) {
	opt.TopicTokens = o.merge(opt.TopicTokens)
}

func (o WithTopicTokens) telemetrySender(opt *TelemetrySenderOptions) {
	opt.TopicTokens = o.merge(opt.TopicTokens)
}

func (o WithTopicTokens) send(opt *SendOptions) {
	opt.TopicTokens = o.merge(opt.TopicTokens)
}

func (o WithRetain) send(opt *SendOptions) {
	opt.Retain = bool(o)
}
