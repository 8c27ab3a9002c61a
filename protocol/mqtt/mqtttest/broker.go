// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package mqtttest provides an in-memory broker for unit tests of code built
// on the mqtt.Client interface.
package mqtttest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	session "github.com/eva00212/jetson/mqtt"
	"github.com/eva00212/jetson/protocol/mqtt"
)

type (
	// Broker routes messages between its clients in memory. Delivery is
	// synchronous: Publish returns after every matching handler has run.
	Broker struct {
		mu        sync.Mutex
		subs      []*subscription
		retained  map[string]*mqtt.Message
		published []Published
		acks      atomic.Int64
	}

	// Client is an mqtt.Client attached to a Broker.
	Client struct {
		broker *Broker
		id     string

		// PublishError, when set, is returned by every Publish.
		PublishError error
	}

	// Published records a message accepted by the broker.
	Published struct {
		ClientID string
		Topic    string
		Payload  []byte
		mqtt.PublishOptions
	}

	subscription struct {
		client  *Client
		filter  string
		handler mqtt.MessageHandler
		opts    mqtt.SubscribeOptions
	}
)

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{retained: map[string]*mqtt.Message{}}
}

// Client returns a client with the given ID.
func (b *Broker) Client(id string) *Client {
	return &Client{broker: b, id: id}
}

// Published returns every message accepted on the topic, in order.
func (b *Broker) Published(topic string) []Published {
	b.mu.Lock()
	defer b.mu.Unlock()

	var res []Published
	for _, p := range b.published {
		if p.Topic == topic {
			res = append(res, p)
		}
	}
	return res
}

// All returns every message accepted by the broker, in order.
func (b *Broker) All() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published)
}

// Retained returns the retained message for the topic, if any.
func (b *Broker) Retained(topic string) (Published, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.retained[topic]
	if !ok {
		return Published{}, false
	}
	return Published{Topic: m.Topic, Payload: m.Payload, PublishOptions: m.PublishOptions}, true
}

// Acks returns the number of acknowledged deliveries.
func (b *Broker) Acks() int64 {
	return b.acks.Load()
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.id
}

// Publish delivers the message to every matching subscription.
func (c *Client) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...mqtt.PublishOption,
) error {
	return c.publish(ctx, topic, payload, false, opts)
}

// Redeliver delivers the message again with the DUP flag set, as a broker
// does after a reconnect when the first delivery was never acknowledged. It
// is recorded like any other publish.
func (c *Client) Redeliver(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...mqtt.PublishOption,
) error {
	return c.publish(ctx, topic, payload, true, opts)
}

func (c *Client) publish(
	ctx context.Context,
	topic string,
	payload []byte,
	dup bool,
	opts []mqtt.PublishOption,
) error {
	if c.PublishError != nil {
		return c.PublishError
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var opt mqtt.PublishOptions
	opt.Apply(opts)

	b := c.broker
	b.mu.Lock()
	b.published = append(b.published, Published{
		ClientID:       c.id,
		Topic:          topic,
		Payload:        slices.Clone(payload),
		PublishOptions: clone(opt),
	})
	if opt.Retain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = &mqtt.Message{
				Topic:          topic,
				Payload:        slices.Clone(payload),
				PublishOptions: clone(opt),
			}
		}
	}
	var targets []*subscription
	for _, s := range b.subs {
		if s.opts.NoLocal && s.client == c {
			continue
		}
		if session.IsTopicFilterMatch(s.filter, topic) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		// Live deliveries clear the retain flag unless retain-as-published.
		o := clone(opt)
		o.Retain = opt.Retain && s.opts.Retain
		s.deliver(ctx, topic, payload, o, dup)
	}
	return nil
}

// Subscribe registers the handler and delivers matching retained messages.
func (c *Client) Subscribe(
	ctx context.Context,
	topic string,
	handler mqtt.MessageHandler,
	opts ...mqtt.SubscribeOption,
) (mqtt.Subscription, error) {
	var opt mqtt.SubscribeOptions
	opt.Apply(opts)

	s := &subscription{client: c, filter: topic, handler: handler, opts: opt}

	b := c.broker
	b.mu.Lock()
	b.subs = append(b.subs, s)
	var retained []*mqtt.Message
	for _, t := range slices.Sorted(maps.Keys(b.retained)) {
		if session.IsTopicFilterMatch(topic, t) {
			retained = append(retained, b.retained[t])
		}
	}
	b.mu.Unlock()

	if opt.RetainHandling != 2 {
		for _, m := range retained {
			o := clone(m.PublishOptions)
			o.Retain = true
			s.deliver(ctx, m.Topic, m.Payload, o, false)
		}
	}
	return s, nil
}

// Unsubscribe removes the subscription.
func (s *subscription) Unsubscribe(context.Context, ...mqtt.UnsubscribeOption) error {
	b := s.client.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(x *subscription) bool {
		return x == s
	})
	return nil
}

func (s *subscription) deliver(
	ctx context.Context,
	topic string,
	payload []byte,
	opt mqtt.PublishOptions,
	dup bool,
) {
	var once sync.Once
	msg := &mqtt.Message{
		Topic:          topic,
		Payload:        slices.Clone(payload),
		PublishOptions: opt,
		Duplicate:      dup,
		Ack: func() error {
			once.Do(func() { s.client.broker.acks.Add(1) })
			return nil
		},
	}
	_ = s.handler(ctx, msg)
}

func clone(opt mqtt.PublishOptions) mqtt.PublishOptions {
	opt.UserProperties = maps.Clone(opt.UserProperties)
	return opt
}
