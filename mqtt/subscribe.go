// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eva00212/jetson/protocol/errors"
)

type subscription struct {
	client  *SessionClient
	filter  string
	handler MessageHandler
	opts    SubscribeOptions
}

// Subscribe registers the handler for the topic filter and sends SUBSCRIBE
// on the current connection, waiting for one if the client is reconnecting.
// The subscription is resent whenever the broker loses the session.
func (c *SessionClient) Subscribe(
	ctx context.Context,
	topic string,
	handler MessageHandler,
	opts ...SubscribeOption,
) (Subscription, error) {
	if err := c.ensureStarted(); err != nil {
		return nil, err
	}
	if err := validateTopicFilter(topic); err != nil {
		return nil, err
	}

	var opt SubscribeOptions
	opt.Apply(opts)
	if opt.QoS >= 2 {
		return nil, &errors.Error{
			Kind:          errors.ArgumentInvalid,
			Message:       "unsupported QoS",
			PropertyName:  "QoS",
			PropertyValue: opt.QoS,
		}
	}

	s := &subscription{c, topic, handler, opt}

	c.subscriptionsMu.Lock()
	if _, ok := c.subscriptions[topic]; ok {
		c.subscriptionsMu.Unlock()
		return nil, &errors.Error{
			Kind:          errors.ConfigurationInvalid,
			Message:       "cannot subscribe to existing topic",
			PropertyName:  "topic",
			PropertyValue: topic,
		}
	}
	c.subscriptions[topic] = s
	c.subscriptionsMu.Unlock()

	if err := c.send(ctx, "subscribe", func(
		ctx context.Context,
		client *paho.Client,
	) error {
		return s.subscribe(ctx, client)
	}); err != nil {
		c.subscriptionsMu.Lock()
		delete(c.subscriptions, topic)
		c.subscriptionsMu.Unlock()
		return nil, err
	}
	return s, nil
}

// Unsubscribe removes the handler and sends UNSUBSCRIBE.
func (s *subscription) Unsubscribe(
	ctx context.Context,
	opts ...UnsubscribeOption,
) error {
	c := s.client
	if err := c.ensureStarted(); err != nil {
		return err
	}

	c.subscriptionsMu.Lock()
	if c.subscriptions[s.filter] != s {
		c.subscriptionsMu.Unlock()
		return &errors.Error{
			Kind:          errors.StateInvalid,
			Message:       "cannot unsubscribe from unsubscribed topic",
			PropertyName:  "topic",
			PropertyValue: s.filter,
		}
	}
	delete(c.subscriptions, s.filter)
	c.subscriptionsMu.Unlock()

	var opt UnsubscribeOptions
	opt.Apply(opts)

	return c.send(ctx, "unsubscribe", func(
		ctx context.Context,
		client *paho.Client,
	) error {
		unsub := &paho.Unsubscribe{Topics: []string{s.filter}}
		if len(opt.UserProperties) > 0 {
			unsub.Properties = &paho.UnsubscribeProperties{
				User: mapToUserProperties(opt.UserProperties),
			}
		}
		c.log.Packet(ctx, "unsubscribe", unsub)
		ack, err := client.Unsubscribe(ctx, unsub)
		if ack != nil {
			c.log.Packet(ctx, "unsuback", ack)
			if len(ack.Reasons) > 0 && ack.Reasons[0] >= 0x80 {
				return &AckError{"UNSUBSCRIBE", ack.Reasons[0]}
			}
		}
		return err
	})
}

func (s *subscription) subscribe(
	ctx context.Context,
	client *paho.Client,
) error {
	sub := &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic:             s.filter,
			QoS:               s.opts.QoS,
			NoLocal:           s.opts.NoLocal,
			RetainAsPublished: s.opts.Retain,
			RetainHandling:    s.opts.RetainHandling,
		}},
	}
	if len(s.opts.UserProperties) > 0 {
		sub.Properties = &paho.SubscribeProperties{
			User: mapToUserProperties(s.opts.UserProperties),
		}
	}

	s.client.log.Packet(ctx, "subscribe", sub)
	ack, err := client.Subscribe(ctx, sub)
	if ack != nil {
		s.client.log.Packet(ctx, "suback", ack)
		if len(ack.Reasons) > 0 && ack.Reasons[0] >= 0x80 {
			return &AckError{"SUBSCRIBE", ack.Reasons[0]}
		}
	}
	return err
}

// Run an operation on the current connection, retrying on the next one if the
// connection drops mid-flight.
func (c *SessionClient) send(
	ctx context.Context,
	name string,
	op func(context.Context, *paho.Client) error,
) error {
	ctx, cancel := c.shutdown.With(ctx)
	defer cancel()

	for connCtx, client := range c.conn.Client(ctx) {
		err := op(connCtx, client)
		if err == nil {
			return nil
		}
		if connCtx.Err() != nil && ctx.Err() == nil {
			continue
		}
		if _, ok := err.(*AckError); ok {
			return err
		}
		return errors.Normalize(err, name)
	}
	return errors.Context(ctx, name)
}

// Resend every registered subscription on a connection without a session.
func (c *SessionClient) resubscribe(ctx context.Context, client *paho.Client) {
	c.subscriptionsMu.Lock()
	subs := make([]*subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.subscriptionsMu.Unlock()

	for _, s := range subs {
		if err := s.subscribe(ctx, client); err != nil {
			c.log.Warn(ctx, err, slog.String("topic", s.filter))
		}
	}
}

// Dispatch an incoming publish to every matching subscription. QoS 1 messages
// are acknowledged once each handler has called Ack.
func (c *SessionClient) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	pub := pr.Packet
	ctx := context.Background()
	c.log.Packet(ctx, "publish received", pub)

	c.subscriptionsMu.Lock()
	var matched []*subscription
	for _, s := range c.subscriptions {
		if IsTopicFilterMatch(s.filter, pub.Topic) {
			matched = append(matched, s)
		}
	}
	c.subscriptionsMu.Unlock()

	ack := func() error {
		if pub.QoS == 0 {
			return nil
		}
		return pr.Client.Ack(pub)
	}

	if len(matched) == 0 {
		return false, ack()
	}

	var pending atomic.Int32
	pending.Store(int32(len(matched)))
	for _, s := range matched {
		var once atomic.Bool
		msg := buildMessage(pub, func() error {
			if !once.CompareAndSwap(false, true) {
				return nil
			}
			if pending.Add(-1) == 0 {
				return ack()
			}
			return nil
		})
		if err := s.handler(ctx, msg); err != nil {
			c.log.Err(ctx, err, slog.String("topic", pub.Topic))
		}
	}
	return true, nil
}

func buildMessage(pub *paho.Publish, ack func() error) *Message {
	msg := &Message{
		Topic:     pub.Topic,
		Payload:   pub.Payload,
		Duplicate: pub.Duplicate(),
		Ack:       ack,
	}
	msg.QoS = pub.QoS
	msg.Retain = pub.Retain
	if p := pub.Properties; p != nil {
		msg.ContentType = p.ContentType
		msg.UserProperties = userPropertiesToMap(p.User)
		if p.PayloadFormat != nil {
			msg.PayloadFormat = *p.PayloadFormat
		}
		if p.MessageExpiry != nil {
			msg.MessageExpiry = *p.MessageExpiry
		}
	}
	return msg
}

func validateTopicFilter(filter string) error {
	invalid := filter == ""
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			invalid = true
		case level != "+" && level != "#" && strings.ContainsAny(level, "+#"):
			invalid = true
		}
	}
	if invalid {
		return &errors.Error{
			Kind:          errors.ArgumentInvalid,
			Message:       "invalid topic filter",
			PropertyName:  "topic",
			PropertyValue: filter,
		}
	}
	return nil
}
