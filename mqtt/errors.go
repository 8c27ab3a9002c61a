// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "fmt"

// ClientState is the lifecycle state of the session client.
type ClientState byte

const (
	// NotStarted means Connect has not been called.
	NotStarted ClientState = iota
	// Started means Connect succeeded and Stop has not been called.
	Started
	// ShutDown means the client was stopped or hit a fatal error.
	ShutDown
)

// ClientStateError is returned when an operation is invalid in the client's
// current state.
type ClientStateError struct {
	State ClientState
}

func (e *ClientStateError) Error() string {
	switch e.State {
	case NotStarted:
		return "the session client has not been started"
	case Started:
		return "the session client has already been started"
	default:
		return "the session client has been shut down"
	}
}

// ConnectionError wraps a failure to open the network connection.
type ConnectionError struct {
	wrapped error
	message string
}

func (e *ConnectionError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *ConnectionError) Unwrap() error {
	return e.wrapped
}

// ConnackError is a CONNACK failure that is worth retrying.
type ConnackError struct {
	ReasonCode byte
}

func (e *ConnackError) Error() string {
	return fmt.Sprintf("CONNACK failed with reason code 0x%02x", e.ReasonCode)
}

// FatalConnackError is a CONNACK failure that retrying cannot fix, such as
// bad credentials.
type FatalConnackError struct {
	ReasonCode byte
}

func (e *FatalConnackError) Error() string {
	return fmt.Sprintf(
		"CONNACK failed with fatal reason code 0x%02x",
		e.ReasonCode,
	)
}

// DisconnectError records a DISCONNECT sent by the server.
type DisconnectError struct {
	ReasonCode byte
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf(
		"server sent DISCONNECT with reason code 0x%02x",
		e.ReasonCode,
	)
}

// AckError is returned when the server rejects a SUBSCRIBE or UNSUBSCRIBE.
type AckError struct {
	Packet     string
	ReasonCode byte
}

func (e *AckError) Error() string {
	return fmt.Sprintf(
		"%s rejected with reason code 0x%02x",
		e.Packet, e.ReasonCode,
	)
}

// InvalidArgumentError reports an invalid option or argument.
type InvalidArgumentError struct {
	wrapped error
	message string
}

func (e *InvalidArgumentError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *InvalidArgumentError) Unwrap() error {
	return e.wrapped
}

// PublishQueueFullError is returned when the outgoing queue is full, which
// means the broker has been unreachable for a while or publishes are arriving
// faster than they can be delivered.
type PublishQueueFullError struct{}

func (*PublishQueueFullError) Error() string {
	return "publish queue full"
}

// CONNACK reason codes that retrying will not fix.
func isFatalConnack(code byte) bool {
	switch code {
	case 0x80, // unspecified error
		0x84, // unsupported protocol version
		0x85, // client identifier not valid
		0x86, // bad user name or password
		0x87, // not authorized
		0x8A, // banned
		0x8C: // bad authentication method
		return true
	default:
		return false
	}
}
