// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

type (
	// Error is the structured error returned by the protocol layer and the
	// gateway components built on it.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		HeaderName  string
		HeaderValue string

		PropertyName  string
		PropertyValue any

		// InApplication is set when the error was raised by a user handler.
		InApplication bool
	}

	// Kind classifies an Error.
	Kind int
)

// The defined error kinds.
const (
	HeaderInvalid Kind = iota
	PayloadInvalid
	Timeout
	Cancellation
	ConfigurationInvalid
	ArgumentInvalid
	StateInvalid
	UnknownError
	ExecutionException
	MqttError
)

var kindNames = [...]string{
	HeaderInvalid:        "header_invalid",
	PayloadInvalid:       "payload_invalid",
	Timeout:              "timeout",
	Cancellation:         "cancellation",
	ConfigurationInvalid: "configuration_invalid",
	ArgumentInvalid:      "argument_invalid",
	StateInvalid:         "state_invalid",
	UnknownError:         "unknown_error",
	ExecutionException:   "execution_exception",
	MqttError:            "mqtt_error",
}

// Error returns the error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the nested error, if any.
func (e *Error) Unwrap() error {
	return e.NestedError
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown_error"
}
