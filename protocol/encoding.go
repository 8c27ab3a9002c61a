// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"encoding/json"
	stderr "errors"

	"github.com/eva00212/jetson/protocol/errors"
)

type (
	// Encoding translates between a Go type T and a wire payload. All
	// methods must be safe for concurrent use.
	Encoding[T any] interface {
		Serialize(T) (*Data, error)
		Deserialize(*Data) (T, error)
	}

	// Data is an encoded payload with its content metadata.
	Data struct {
		Payload       []byte
		ContentType   string
		PayloadFormat byte
	}

	// JSON encodes T with encoding/json.
	JSON[T any] struct{}

	// Raw passes bytes through unchanged.
	Raw struct{}
)

// ErrUnsupportedContentType is returned by encodings that cannot handle the
// content type of a received message.
var ErrUnsupportedContentType = stderr.New("unsupported content type")

func serialize[T any](encoding Encoding[T], value T) (*Data, error) {
	data, err := encoding.Serialize(value)
	if err != nil {
		var e *errors.Error
		if stderr.As(err, &e) {
			return nil, e
		}
		return nil, &errors.Error{
			Message:     "cannot serialize payload",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}
	return data, nil
}

func deserialize[T any](encoding Encoding[T], data *Data) (T, error) {
	value, err := encoding.Deserialize(data)
	if err != nil {
		var e *errors.Error
		if stderr.As(err, &e) {
			return value, e
		}
		if stderr.Is(err, ErrUnsupportedContentType) {
			return value, &errors.Error{
				Message:     "content type mismatch",
				Kind:        errors.HeaderInvalid,
				HeaderName:  "Content Type",
				HeaderValue: data.ContentType,
			}
		}
		return value, &errors.Error{
			Message:     "cannot deserialize payload",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}
	return value, nil
}

// Serialize translates T into compact JSON.
func (JSON[T]) Serialize(t T) (*Data, error) {
	bytes, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Data{bytes, "application/json", 1}, nil
}

// Deserialize translates JSON into T.
func (JSON[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/json":
		err := json.Unmarshal(data.Payload, &t)
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}

// Serialize returns the bytes unchanged.
func (Raw) Serialize(t []byte) (*Data, error) {
	return &Data{t, "application/octet-stream", 0}, nil
}

// Deserialize returns the payload unchanged, whatever its content type.
func (Raw) Deserialize(data *Data) ([]byte, error) {
	return data.Payload, nil
}
