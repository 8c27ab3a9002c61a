// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"context"
	"log/slog"

	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/eva00212/jetson/protocol/internal"
	"github.com/eva00212/jetson/protocol/mqtt"
)

type (
	// Listener is an object that subscribes to a topic until stopped.
	Listener interface {
		Listen(context.Context) (func(), error)
	}

	// Shared MQTT listening behavior for the typed receivers.
	listener[T any] struct {
		client      mqtt.Client
		encoding    Encoding[T]
		topic       *internal.TopicFilter
		noLocal     bool
		concurrency uint
		log         log.Logger
		handler     interface {
			onMsg(context.Context, *mqtt.Message, *Message[T]) error
		}
	}

	// Message is a received, decoded message. Duplicate is set on broker
	// redeliveries.
	Message[T any] struct {
		Payload     T
		Topic       string
		TopicTokens map[string]string
		Retained    bool
		Duplicate   bool
	}
)

func (l *listener[T]) listen(ctx context.Context) (func(), error) {
	handle, done := internal.Concurrent(l.concurrency, l.handle)

	sub, err := l.client.Subscribe(
		ctx,
		l.topic.Filter(),
		func(ctx context.Context, pub *mqtt.Message) error {
			handle(ctx, pub)
			return nil
		},
		mqtt.WithQoS(1),
		mqtt.WithNoLocal(l.noLocal),
	)
	if err != nil {
		done()
		return nil, err
	}

	return func() {
		if err := sub.Unsubscribe(context.WithoutCancel(ctx)); err != nil {
			l.log.Err(ctx, err)
		}
		done()
	}, nil
}

func (l *listener[T]) handle(ctx context.Context, pub *mqtt.Message) {
	// Telemetry is always acked, whether or not it was usable; redelivering a
	// malformed message would never make it valid.
	defer l.ack(ctx, pub)

	tokens, ok := l.topic.Tokens(pub.Topic)
	if !ok {
		tokens = map[string]string{}
	}

	payload, err := deserialize(l.encoding, &Data{
		Payload:       pub.Payload,
		ContentType:   pub.ContentType,
		PayloadFormat: pub.PayloadFormat,
	})
	if err != nil {
		l.log.Warn(ctx, err, slog.String("topic", pub.Topic))
		return
	}

	msg := &Message[T]{
		Payload:     payload,
		Topic:       pub.Topic,
		TopicTokens: tokens,
		Retained:    pub.Retain,
		Duplicate:   pub.Duplicate,
	}
	if err := l.handler.onMsg(ctx, pub, msg); err != nil {
		l.log.Err(ctx, err, slog.String("topic", pub.Topic))
	}
}

func (l *listener[T]) ack(ctx context.Context, pub *mqtt.Message) {
	if pub.Ack == nil {
		return
	}
	if err := pub.Ack(); err != nil {
		l.log.Err(ctx, errors.Normalize(err, "ack"))
	}
}

// Listen starts all of the provided listeners. On failure, the listeners
// already started are stopped again.
func Listen(ctx context.Context, listeners ...Listener) (func(), error) {
	done := make([]func(), 0, len(listeners))
	stop := func() {
		for _, fn := range done {
			fn()
		}
	}
	for _, l := range listeners {
		c, err := l.Listen(ctx)
		if err != nil {
			stop()
			return nil, err
		}
		done = append(done, c)
	}
	return stop, nil
}
