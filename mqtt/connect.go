// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/eclipse/paho.golang/paho"
)

const disconnectNormal = 0x00

// Connect establishes the initial connection and starts the background
// goroutines that keep the client connected. An error means the client could
// not connect under InitialConnectRetry and has been shut down.
func (c *SessionClient) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return &ClientStateError{Started}
	}

	err := c.options.InitialConnectRetry.Start(ctx, "connect",
		func(ctx context.Context) (bool, error) {
			return c.attemptConnect(ctx, true)
		},
	)
	if err != nil {
		c.shutdown.Close()
		close(c.publisherDone)
		return err
	}

	go c.manageConnection()
	go c.publisher()
	return nil
}

// Wait for the connection to drop and reconnect with the existing session
// until shutdown or a fatal error.
func (c *SessionClient) manageConnection() {
	ctx, cancel := c.shutdown.With(context.Background())
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.conn.Current().Down.Done():
		}

		err := c.conn.Current().Error
		if errors.Is(err, io.EOF) {
			err = &ConnectionError{
				message: "server closed the connection",
				wrapped: err,
			}
		}
		if err != nil {
			c.log.Warn(ctx, err)
		}
		c.disconnectEvent(err)

		if ctx.Err() != nil {
			return
		}

		err = c.options.ConnectionRetry.Start(ctx, "reconnect",
			func(ctx context.Context) (bool, error) {
				return c.attemptConnect(ctx, false)
			},
		)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Err(ctx, err)
				c.shutdown.Close()
			}
			return
		}
	}
}

// A single connection attempt. Returns whether a failure is worth retrying.
func (c *SessionClient) attemptConnect(
	ctx context.Context,
	cleanStart bool,
) (bool, error) {
	attempt := c.conn.Attempt()

	ctx, cancel := context.WithTimeout(ctx, c.options.ConnectionTimeout)
	defer cancel()

	packet, err := c.buildConnect(ctx, cleanStart)
	if err != nil {
		return false, err
	}

	netConn, err := c.connectionProvider(ctx)
	if err != nil {
		return true, err
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID:                   c.options.ClientID,
		Conn:                       netConn,
		Session:                    c.session,
		EnableManualAcknowledgment: true,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.onPublishReceived,
		},
		OnClientError: func(err error) {
			c.conn.Disconnect(attempt, err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.log.Packet(context.Background(), "disconnect", d)
			c.conn.Disconnect(attempt, &DisconnectError{
				ReasonCode: d.ReasonCode,
			})
		},
	})

	c.log.Packet(ctx, "connect", packet)
	connack, err := client.Connect(ctx, packet)
	if connack != nil {
		c.log.Packet(ctx, "connack", connack)
	}

	switch {
	case err == nil:
	case connack != nil && isFatalConnack(connack.ReasonCode):
		_ = netConn.Close()
		return false, &FatalConnackError{ReasonCode: connack.ReasonCode}
	case connack != nil && connack.ReasonCode >= 0x80:
		_ = netConn.Close()
		return true, &ConnackError{ReasonCode: connack.ReasonCode}
	default:
		_ = netConn.Close()
		return true, &ConnectionError{
			message: "error connecting to the broker",
			wrapped: err,
		}
	}

	// The connection may have dropped between CONNACK and here.
	if err := c.conn.Connect(client); err != nil {
		_ = netConn.Close()
		return true, &ConnectionError{
			message: "connection lost after CONNACK",
			wrapped: err,
		}
	}

	c.log.Info(ctx, "connected",
		slog.Uint64("attempt", attempt),
		slog.Bool("session_present", connack.SessionPresent),
	)

	if !connack.SessionPresent {
		c.resubscribe(ctx, client)
	}
	c.connectEvent(connack)
	return false, nil
}

func (c *SessionClient) buildConnect(
	ctx context.Context,
	cleanStart bool,
) (*paho.Connect, error) {
	expiry := uint32(sessionExpiry)
	packet := &paho.Connect{
		ClientID:   c.options.ClientID,
		CleanStart: cleanStart,
		KeepAlive:  c.options.KeepAlive,
		Properties: &paho.ConnectProperties{
			SessionExpiryInterval: &expiry,
		},
	}

	if c.options.Username != "" {
		packet.Username = c.options.Username
		packet.UsernameFlag = true
	}

	if c.options.Password != nil {
		password, err := c.options.Password(ctx)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "error reading password",
				wrapped: err,
			}
		}
		packet.Password = password
		packet.PasswordFlag = true
	}

	return packet, nil
}
