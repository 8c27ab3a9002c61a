// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "context"

type (
	// Client is the MQTT surface the protocol layer depends on. The session
	// client in package mqtt implements it; tests may substitute their own.
	Client interface {
		// Subscribe registers a handler for a topic filter and sends the
		// subscription to the broker. The subscription survives reconnects.
		Subscribe(
			ctx context.Context,
			topic string,
			handler MessageHandler,
			opts ...SubscribeOption,
		) (Subscription, error)

		// Publish hands a message to the client for delivery. It does not
		// wait for broker acknowledgement.
		Publish(
			ctx context.Context,
			topic string,
			payload []byte,
			opts ...PublishOption,
		) error

		// ID returns the client identifier.
		ID() string
	}

	// Message is a received message. Ack must be called exactly once for
	// QoS 1 messages. Duplicate mirrors the DUP flag the broker sets when it
	// resends a QoS 1 message it may already have delivered.
	Message struct {
		Topic   string
		Payload []byte
		PublishOptions
		Duplicate bool
		Ack       func() error
	}

	// MessageHandler handles a message received on a subscription.
	MessageHandler func(context.Context, *Message) error

	// Subscription is an active subscription.
	Subscription interface {
		Unsubscribe(context.Context, ...UnsubscribeOption) error
	}
)
