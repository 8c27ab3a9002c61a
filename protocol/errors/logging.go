// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import "log/slog"

// Attrs exposes the relevant fields of the error for structured logging.
func (e *Error) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 4)

	a = append(a, slog.String("kind", e.Kind.String()))

	if e.NestedError != nil {
		a = append(a, slog.Any("nested_error", e.NestedError))
	}

	switch e.Kind {
	case HeaderInvalid:
		a = append(a,
			slog.String("header_name", e.HeaderName),
			slog.String("header_value", e.HeaderValue),
		)
	case ExecutionException:
		a = append(a, slog.Bool("in_application", e.InApplication))
	}

	// Storage failures name the file as the property, so every kind
	// reports it.
	if e.PropertyName != "" {
		a = append(a, slog.String("property_name", e.PropertyName))
	}
	if e.PropertyValue != nil {
		a = append(a, slog.Any("property_value", e.PropertyValue))
	}

	return a
}
