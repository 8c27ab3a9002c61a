// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session"
	"github.com/eclipse/paho.golang/paho/session/state"

	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/mqtt/internal"
	"github.com/eva00212/jetson/mqtt/retry"
)

type (
	// SessionClient implements an MQTT v5 session client with QoS 0 and 1
	// support. It reconnects automatically, resends the subscriptions it
	// holds, and delivers publishes from a bounded queue so that callers
	// never block on the broker.
	SessionClient struct {
		connectionProvider ConnectionProvider
		options            SessionClientOptions

		// Used to ensure Connect is called only once.
		started atomic.Bool

		// Closed on Stop or a fatal connection error.
		shutdown *internal.Background

		conn *internal.ConnectionTracker[*paho.Client]

		// Paho's session state, shared across connections so that inflight
		// QoS 1 publishes survive a reconnect.
		session session.SessionManager

		// Queued publishes and the publisher that drains them. Stop closes
		// the queue under closingMu so that Publish never sends on a closed
		// channel.
		outgoing      chan *paho.Publish
		closing       bool
		closingMu     sync.RWMutex
		publisherDone chan struct{}
		drain         context.Context
		cancelDrain   context.CancelFunc

		subscriptions   map[string]*subscription
		subscriptionsMu sync.Mutex

		handlersMu         sync.Mutex
		nextHandler        uint64
		connectHandlers    map[uint64]ConnectEventHandler
		disconnectHandlers map[uint64]DisconnectEventHandler

		log internal.Logger
	}

	// ConnectEvent describes a successful connection.
	ConnectEvent struct {
		ReasonCode     byte
		SessionPresent bool
	}

	// DisconnectEvent describes a lost connection.
	DisconnectEvent struct {
		Error error
	}

	// ConnectEventHandler is notified of each successful connection.
	ConnectEventHandler func(*ConnectEvent)

	// DisconnectEventHandler is notified when a connection goes down.
	DisconnectEventHandler func(*DisconnectEvent)
)

var errShutdown = &ClientStateError{ShutDown}

// NewSessionClient constructs a new session client with user options.
func NewSessionClient(
	connectionProvider ConnectionProvider,
	opts ...SessionClientOption,
) *SessionClient {
	c := &SessionClient{
		connectionProvider: connectionProvider,
		shutdown:           internal.NewBackground(errShutdown),
		conn:               internal.NewConnectionTracker[*paho.Client](),
		session:            state.NewInMemory(),
		publisherDone:      make(chan struct{}),
		subscriptions:      map[string]*subscription{},
		connectHandlers:    map[uint64]ConnectEventHandler{},
		disconnectHandlers: map[uint64]DisconnectEventHandler{},
	}

	c.options.Apply(opts)

	if c.options.ClientID == "" {
		c.options.ClientID = internal.RandomClientID()
	}
	if c.options.KeepAlive == 0 {
		c.options.KeepAlive = defaultKeepAlive
	}
	if c.options.ConnectionTimeout == 0 {
		c.options.ConnectionTimeout = defaultConnectionTimeout
	}
	if c.options.PublishQueueSize <= 0 {
		c.options.PublishQueueSize = defaultPublishQueueSize
	}
	if c.options.ShutdownTimeout == 0 {
		c.options.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.options.InitialConnectRetry == nil {
		c.options.InitialConnectRetry = &retry.ExponentialBackoff{
			MaxAttempts: defaultInitialAttempts,
			Logger:      c.options.Logger,
		}
	}
	if c.options.ConnectionRetry == nil {
		c.options.ConnectionRetry = &retry.ExponentialBackoff{
			Logger: c.options.Logger,
		}
	}

	c.outgoing = make(chan *paho.Publish, c.options.PublishQueueSize)
	c.drain, c.cancelDrain = context.WithCancel(context.Background())
	c.log.Logger = log.Wrap(c.options.Logger).
		With(slog.String("client_id", c.options.ClientID))

	return c
}

// ID returns the MQTT client ID for this session client.
func (c *SessionClient) ID() string {
	return c.options.ClientID
}

// RegisterConnectEventHandler registers a handler that is called after every
// successful connection. It returns a function that removes the handler.
func (c *SessionClient) RegisterConnectEventHandler(
	handler ConnectEventHandler,
) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	id := c.nextHandler
	c.nextHandler++
	c.connectHandlers[id] = handler
	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		delete(c.connectHandlers, id)
	}
}

// RegisterDisconnectEventHandler registers a handler that is called every
// time the connection goes down. It returns a function that removes the
// handler.
func (c *SessionClient) RegisterDisconnectEventHandler(
	handler DisconnectEventHandler,
) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	id := c.nextHandler
	c.nextHandler++
	c.disconnectHandlers[id] = handler
	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		delete(c.disconnectHandlers, id)
	}
}

// Stop the client. Queued publishes are given ShutdownTimeout to drain before
// the connection is closed with a normal DISCONNECT.
func (c *SessionClient) Stop() error {
	if !c.started.Load() {
		return &ClientStateError{NotStarted}
	}

	c.closingMu.Lock()
	if c.closing {
		c.closingMu.Unlock()
		return errShutdown
	}
	c.closing = true
	close(c.outgoing)
	c.closingMu.Unlock()

	c.log.Info(context.Background(), "stopping session client",
		slog.Int("queued", len(c.outgoing)))

	timer := wallclock.Instance.NewTimer(c.options.ShutdownTimeout)
	select {
	case <-c.publisherDone:
	case <-timer.C():
		c.log.Warn(context.Background(), errors.New(
			"shutdown timeout elapsed with publishes still queued",
		), slog.Int("dropped", len(c.outgoing)))
	}
	timer.Stop()
	c.cancelDrain()

	c.shutdown.Close()

	if client := c.conn.Current().Client; client != nil {
		disconnect := &paho.Disconnect{ReasonCode: disconnectNormal}
		c.log.Packet(context.Background(), "disconnect", disconnect)
		if err := client.Disconnect(disconnect); err != nil {
			return &ConnectionError{
				message: "error sending DISCONNECT",
				wrapped: err,
			}
		}
	}
	return nil
}

// Done is closed once the client has stopped, either through Stop or because
// the broker refused to reconnect it.
func (c *SessionClient) Done() <-chan struct{} {
	return c.shutdown.Done()
}

func (c *SessionClient) ensureStarted() error {
	if !c.started.Load() {
		return &ClientStateError{NotStarted}
	}
	select {
	case <-c.shutdown.Done():
		return errShutdown
	default:
		return nil
	}
}

func (c *SessionClient) connectEvent(connack *paho.Connack) {
	c.handlersMu.Lock()
	handlers := make([]ConnectEventHandler, 0, len(c.connectHandlers))
	for _, h := range c.connectHandlers {
		handlers = append(handlers, h)
	}
	c.handlersMu.Unlock()

	event := &ConnectEvent{
		ReasonCode:     connack.ReasonCode,
		SessionPresent: connack.SessionPresent,
	}
	for _, h := range handlers {
		h(event)
	}
}

func (c *SessionClient) disconnectEvent(err error) {
	c.handlersMu.Lock()
	handlers := make([]DisconnectEventHandler, 0, len(c.disconnectHandlers))
	for _, h := range c.disconnectHandlers {
		handlers = append(handlers, h)
	}
	c.handlersMu.Unlock()

	event := &DisconnectEvent{Error: err}
	for _, h := range handlers {
		h(event)
	}
}

// Session expiry requested from the broker; the session outlives any single
// network connection.
const sessionExpiry = math.MaxUint32
