// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/protocol/errors"
)

const disconnectGrace = time.Second

// Publish queues a message for delivery and returns without waiting for the
// broker. A full queue fails immediately with PublishQueueFullError.
func (c *SessionClient) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...PublishOption,
) error {
	if err := c.ensureStarted(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Context(ctx, "publish")
	}

	var opt PublishOptions
	opt.Apply(opts)

	if opt.QoS >= 2 {
		return &errors.Error{
			Kind:          errors.ArgumentInvalid,
			Message:       "unsupported QoS",
			PropertyName:  "QoS",
			PropertyValue: opt.QoS,
		}
	}
	if opt.PayloadFormat >= 2 {
		return &errors.Error{
			Kind:          errors.ArgumentInvalid,
			Message:       "invalid payload format",
			PropertyName:  "PayloadFormat",
			PropertyValue: opt.PayloadFormat,
		}
	}
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return &errors.Error{
			Kind:          errors.ArgumentInvalid,
			Message:       "invalid topic name",
			PropertyName:  "topic",
			PropertyValue: topic,
		}
	}

	pub := &paho.Publish{
		QoS:     opt.QoS,
		Retain:  opt.Retain,
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:   opt.ContentType,
			PayloadFormat: &opt.PayloadFormat,
			User:          mapToUserProperties(opt.UserProperties),
		},
	}
	if opt.MessageExpiry > 0 {
		pub.Properties.MessageExpiry = &opt.MessageExpiry
	}

	c.closingMu.RLock()
	defer c.closingMu.RUnlock()
	if c.closing {
		return errShutdown
	}

	select {
	case c.outgoing <- pub:
		return nil
	default:
		return &PublishQueueFullError{}
	}
}

// Drain the queue in order until it is closed and empty, or until Stop gives
// up on it.
func (c *SessionClient) publisher() {
	defer close(c.publisherDone)

	ctx, cancel := c.shutdown.With(c.drain)
	defer cancel()

	for pub := range c.outgoing {
		if ctx.Err() != nil {
			return
		}
		c.deliver(ctx, pub)
	}
}

// Deliver one publish, retrying on the next connection if the current one
// drops before the broker acknowledges it. Redelivery after a dropped
// connection may duplicate the message, which QoS 1 allows.
func (c *SessionClient) deliver(ctx context.Context, pub *paho.Publish) {
	for connCtx, client := range c.conn.Client(ctx) {
		// Paho assigns the packet ID in place; each attempt gets a fresh copy.
		attempt := *pub
		attempt.PacketID = 0

		c.log.Packet(connCtx, "publish", &attempt)
		res, err := client.Publish(connCtx, &attempt)
		if res != nil && res.ReasonCode >= 0x80 {
			c.log.Warn(ctx, &AckError{
				Packet:     "PUBLISH",
				ReasonCode: res.ReasonCode,
			}, slog.String("topic", pub.Topic))
			return
		}
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		// A failure caused by the connection dropping usually surfaces here
		// before the tracker notices; give it a moment to catch up.
		select {
		case <-connCtx.Done():
			continue
		case <-wallclock.Instance.After(disconnectGrace):
		}
		c.log.Warn(ctx, &ConnectionError{
			message: "publish dropped",
			wrapped: err,
		}, slog.String("topic", pub.Topic))
		return
	}
}

func mapToUserProperties(m map[string]string) paho.UserProperties {
	if len(m) == 0 {
		return nil
	}
	props := make(paho.UserProperties, 0, len(m))
	for k, v := range m {
		props = append(props, paho.UserProperty{Key: k, Value: v})
	}
	return props
}

func userPropertiesToMap(props paho.UserProperties) map[string]string {
	if len(props) == 0 {
		return nil
	}
	m := make(map[string]string, len(props))
	for _, p := range props {
		m[p.Key] = p.Value
	}
	return m
}
