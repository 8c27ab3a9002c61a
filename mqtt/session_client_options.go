// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/eva00212/jetson/internal/options"
	"github.com/eva00212/jetson/mqtt/retry"
)

type (
	// SessionClientOption represents a single session client option.
	SessionClientOption interface{ sessionClient(*SessionClientOptions) }

	// SessionClientOptions are the resolved session client options.
	SessionClientOptions struct {
		ClientID  string
		KeepAlive uint16

		Username string
		Password PasswordProvider

		ConnectionTimeout time.Duration

		// InitialConnectRetry governs the first connection, whose failure is
		// returned from Connect. ConnectionRetry governs reconnects.
		InitialConnectRetry retry.Policy
		ConnectionRetry     retry.Policy

		PublishQueueSize int
		ShutdownTimeout  time.Duration

		Logger *slog.Logger
	}

	// PasswordProvider returns the password for each connection attempt.
	PasswordProvider func(context.Context) ([]byte, error)

	// WithClientID sets the MQTT client identifier.
	WithClientID string

	// WithKeepAlive sets the keep-alive interval in seconds.
	WithKeepAlive uint16

	// WithUsername sets the CONNECT user name.
	WithUsername string

	// WithPassword sets the CONNECT password.
	WithPassword PasswordProvider

	// WithConnectionTimeout bounds each connection attempt.
	WithConnectionTimeout time.Duration

	// WithPublishQueueSize bounds the number of queued outgoing publishes.
	WithPublishQueueSize int

	// WithShutdownTimeout bounds how long Stop waits for queued publishes.
	WithShutdownTimeout time.Duration

	withLogger              struct{ *slog.Logger }
	withConnectionRetry     struct{ retry.Policy }
	withInitialConnectRetry struct{ retry.Policy }
)

const (
	defaultKeepAlive         = 60
	defaultConnectionTimeout = 10 * time.Second
	defaultPublishQueueSize  = 1024
	defaultShutdownTimeout   = 5 * time.Second
	defaultInitialAttempts   = 5
)

// ConstantPassword returns the same password for every connection.
func ConstantPassword(password []byte) PasswordProvider {
	return func(context.Context) ([]byte, error) {
		return password, nil
	}
}

// FilePassword reads the password from a file on every connection, so a
// rotated secret is picked up on reconnect.
func FilePassword(file string) PasswordProvider {
	return func(context.Context) ([]byte, error) {
		return os.ReadFile(file)
	}
}

// WithLogger sets the logger for the session client.
func WithLogger(l *slog.Logger) SessionClientOption {
	return withLogger{l}
}

// WithConnectionRetry sets the reconnect policy. The default retries forever
// with exponential backoff.
func WithConnectionRetry(policy retry.Policy) SessionClientOption {
	return withConnectionRetry{policy}
}

// WithInitialConnectRetry sets the policy for the first connection.
func WithInitialConnectRetry(policy retry.Policy) SessionClientOption {
	return withInitialConnectRetry{policy}
}

func (o WithClientID) sessionClient(opt *SessionClientOptions) {
	opt.ClientID = string(o)
}

func (o WithKeepAlive) sessionClient(opt *SessionClientOptions) {
	opt.KeepAlive = uint16(o)
}

func (o WithUsername) sessionClient(opt *SessionClientOptions) {
	opt.Username = string(o)
}

func (o WithPassword) sessionClient(opt *SessionClientOptions) {
	opt.Password = PasswordProvider(o)
}

func (o WithConnectionTimeout) sessionClient(opt *SessionClientOptions) {
	opt.ConnectionTimeout = time.Duration(o)
}

func (o WithPublishQueueSize) sessionClient(opt *SessionClientOptions) {
	opt.PublishQueueSize = int(o)
}

func (o WithShutdownTimeout) sessionClient(opt *SessionClientOptions) {
	opt.ShutdownTimeout = time.Duration(o)
}

func (o withLogger) sessionClient(opt *SessionClientOptions) {
	opt.Logger = o.Logger
}

func (o withConnectionRetry) sessionClient(opt *SessionClientOptions) {
	opt.ConnectionRetry = o.Policy
}

func (o withInitialConnectRetry) sessionClient(opt *SessionClientOptions) {
	opt.InitialConnectRetry = o.Policy
}

// Apply resolves the provided list of options.
func (o *SessionClientOptions) Apply(
	opts []SessionClientOption,
	rest ...SessionClientOption,
) {
	for opt := range options.Apply[SessionClientOption](opts, rest...) {
		opt.sessionClient(o)
	}
}

// Copy the non-zero fields of another options struct, so an env-derived
// configuration can be layered under explicit options.
func (o *SessionClientOptions) sessionClient(opt *SessionClientOptions) {
	if o == nil {
		return
	}
	if o.ClientID != "" {
		opt.ClientID = o.ClientID
	}
	if o.KeepAlive != 0 {
		opt.KeepAlive = o.KeepAlive
	}
	if o.Username != "" {
		opt.Username = o.Username
	}
	if o.Password != nil {
		opt.Password = o.Password
	}
	if o.ConnectionTimeout != 0 {
		opt.ConnectionTimeout = o.ConnectionTimeout
	}
	if o.InitialConnectRetry != nil {
		opt.InitialConnectRetry = o.InitialConnectRetry
	}
	if o.ConnectionRetry != nil {
		opt.ConnectionRetry = o.ConnectionRetry
	}
	if o.PublishQueueSize != 0 {
		opt.PublishQueueSize = o.PublishQueueSize
	}
	if o.ShutdownTimeout != 0 {
		opt.ShutdownTimeout = o.ShutdownTimeout
	}
	if o.Logger != nil {
		opt.Logger = o.Logger
	}
}

type withOptions []SessionClientOption

func (o withOptions) sessionClient(opt *SessionClientOptions) {
	opt.Apply(o)
}
