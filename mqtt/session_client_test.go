// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/eva00212/jetson/mqtt"
	"github.com/eva00212/jetson/mqtt/retry"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

const (
	mochiTCPPort  = 1884
	mochiUserName = "gateway"
	mochiPassword = "sht31"
)

func startMochi(t *testing.T) {
	ledger := &auth.Ledger{
		Auth: auth.AuthRules{{
			Username: auth.RString(mochiUserName),
			Password: auth.RString(mochiPassword),
			Allow:    true,
		}},
	}

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: ledger,
	}))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: fmt.Sprintf("localhost:%d", mochiTCPPort),
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })
}

func newClient(t *testing.T, opts ...mqtt.SessionClientOption) *mqtt.SessionClient {
	client := mqtt.NewSessionClient(
		mqtt.TCPConnection("localhost", mochiTCPPort),
		append([]mqtt.SessionClientOption{
			mqtt.WithUsername(mochiUserName),
			mqtt.WithPassword(mqtt.ConstantPassword([]byte(mochiPassword))),
		}, opts...)...,
	)
	return client
}

func connect(t *testing.T, opts ...mqtt.SessionClientOption) *mqtt.SessionClient {
	client := newClient(t, opts...)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Stop() })
	return client
}

func TestSessionClient(t *testing.T) {
	startMochi(t)
	ctx := context.Background()

	t.Run("Connect", func(t *testing.T) {
		client := newClient(t)
		require.NoError(t, client.Connect(ctx))

		var stateErr *mqtt.ClientStateError
		require.ErrorAs(t, client.Connect(ctx), &stateErr)
		require.Equal(t, mqtt.Started, stateErr.State)

		require.NoError(t, client.Stop())
		<-client.Done()

		require.ErrorAs(t, client.Publish(ctx, "x", nil), &stateErr)
		require.Equal(t, mqtt.ShutDown, stateErr.State)
	})

	t.Run("BadCredentials", func(t *testing.T) {
		client := mqtt.NewSessionClient(
			mqtt.TCPConnection("localhost", mochiTCPPort),
			mqtt.WithUsername(mochiUserName),
			mqtt.WithPassword(mqtt.ConstantPassword([]byte("wrong"))),
		)
		var fatal *mqtt.FatalConnackError
		require.ErrorAs(t, client.Connect(ctx), &fatal)
		require.Equal(t, byte(0x86), fatal.ReasonCode)
	})

	t.Run("Unreachable", func(t *testing.T) {
		client := mqtt.NewSessionClient(
			mqtt.TCPConnection("localhost", mochiTCPPort+1),
			mqtt.WithInitialConnectRetry(&retry.ExponentialBackoff{
				MaxAttempts: 2,
				MinInterval: time.Millisecond,
			}),
		)
		var connErr *mqtt.ConnectionError
		require.ErrorAs(t, client.Connect(ctx), &connErr)
	})

	t.Run("NotStarted", func(t *testing.T) {
		client := newClient(t)
		var stateErr *mqtt.ClientStateError
		require.ErrorAs(t, client.Publish(ctx, "x", nil), &stateErr)
		require.Equal(t, mqtt.NotStarted, stateErr.State)
		require.ErrorAs(t, client.Stop(), &stateErr)
	})

	t.Run("SubscribePublish", func(t *testing.T) {
		client := connect(t)

		received := make(chan *mqtt.Message, 1)
		_, err := client.Subscribe(ctx, "node1/data/+",
			func(_ context.Context, msg *mqtt.Message) error {
				received <- msg
				return msg.Ack()
			},
			mqtt.WithQoS(1),
		)
		require.NoError(t, err)

		require.NoError(t, client.Publish(ctx, "node1/data/temperature",
			[]byte(`{"value":23.4}`),
			mqtt.WithQoS(1),
			mqtt.WithContentType("application/json"),
			mqtt.WithUserProperties{"source": "test"},
		))

		select {
		case msg := <-received:
			require.Equal(t, "node1/data/temperature", msg.Topic)
			require.Equal(t, []byte(`{"value":23.4}`), msg.Payload)
			require.Equal(t, "application/json", msg.ContentType)
			require.Equal(t, "test", msg.UserProperties["source"])
			require.Equal(t, byte(1), msg.QoS)
		case <-time.After(5 * time.Second):
			t.Fatal("message not received")
		}
	})

	t.Run("RetainedDelivery", func(t *testing.T) {
		publisher := connect(t)
		require.NoError(t, publisher.Publish(ctx, "node2/cmd",
			[]byte(`{"cmd":"SetTime","epoch":1}`),
			mqtt.WithQoS(1),
			mqtt.WithRetain(true),
		))
		require.NoError(t, publisher.Stop())

		subscriber := connect(t)
		received := make(chan *mqtt.Message, 1)
		_, err := subscriber.Subscribe(ctx, "node2/cmd",
			func(_ context.Context, msg *mqtt.Message) error {
				received <- msg
				return msg.Ack()
			},
			mqtt.WithQoS(1),
		)
		require.NoError(t, err)

		select {
		case msg := <-received:
			require.True(t, msg.Retain)
			require.JSONEq(t, `{"cmd":"SetTime","epoch":1}`, string(msg.Payload))
		case <-time.After(5 * time.Second):
			t.Fatal("retained message not received")
		}
	})

	t.Run("NoLocal", func(t *testing.T) {
		client := connect(t)

		received := make(chan *mqtt.Message, 1)
		_, err := client.Subscribe(ctx, "canonical/node3/+",
			func(_ context.Context, msg *mqtt.Message) error {
				received <- msg
				return msg.Ack()
			},
			mqtt.WithNoLocal(true),
		)
		require.NoError(t, err)

		require.NoError(t, client.Publish(ctx, "canonical/node3/humidity", []byte("{}")))

		select {
		case <-received:
			t.Fatal("own publish echoed")
		case <-time.After(500 * time.Millisecond):
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		client := connect(t)

		sub, err := client.Subscribe(ctx, "node4/rsp",
			func(_ context.Context, msg *mqtt.Message) error {
				return msg.Ack()
			},
		)
		require.NoError(t, err)

		_, err = client.Subscribe(ctx, "node4/rsp",
			func(context.Context, *mqtt.Message) error { return nil },
		)
		require.Error(t, err)

		require.NoError(t, sub.Unsubscribe(ctx))
		require.Error(t, sub.Unsubscribe(ctx))
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		client := connect(t)

		require.Error(t, client.Publish(ctx, "a/+/b", nil))
		require.Error(t, client.Publish(ctx, "a", nil, mqtt.WithQoS(2)))

		noop := func(context.Context, *mqtt.Message) error { return nil }
		_, err := client.Subscribe(ctx, "a/#/b", noop)
		require.Error(t, err)
		_, err = client.Subscribe(ctx, "a/b+", noop)
		require.Error(t, err)
	})

	t.Run("DrainOnStop", func(t *testing.T) {
		subscriber := connect(t)
		received := make(chan struct{}, 10)
		_, err := subscriber.Subscribe(ctx, "node5/data/temperature",
			func(_ context.Context, msg *mqtt.Message) error {
				received <- struct{}{}
				return msg.Ack()
			},
			mqtt.WithQoS(1),
		)
		require.NoError(t, err)

		publisher := newClient(t)
		require.NoError(t, publisher.Connect(ctx))
		for range 5 {
			require.NoError(t, publisher.Publish(ctx,
				"node5/data/temperature", []byte("{}"), mqtt.WithQoS(1)))
		}
		require.NoError(t, publisher.Stop())

		for range 5 {
			select {
			case <-received:
			case <-time.After(5 * time.Second):
				t.Fatal("queued publish lost on stop")
			}
		}
	})

	t.Run("QueueFull", func(t *testing.T) {
		client := newClient(t, mqtt.WithPublishQueueSize(1))
		require.NoError(t, client.Connect(ctx))
		t.Cleanup(func() { _ = client.Stop() })

		var full bool
		for range 1000 {
			err := client.Publish(ctx, "node6/data/humidity", []byte("{}"), mqtt.WithQoS(1))
			if err != nil {
				var queueErr *mqtt.PublishQueueFullError
				require.ErrorAs(t, err, &queueErr)
				full = true
				break
			}
		}
		require.True(t, full)
	})
}
