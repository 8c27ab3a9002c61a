// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package iso

import (
	"strings"
	"time"

	"github.com/relvacode/iso8601"
	"github.com/sosodev/duration"
)

type (
	// DateTime is a time.Time that marshals to RFC 3339 and accepts any
	// ISO 8601 date-time on input.
	DateTime time.Time

	// Duration is a time.Duration that marshals to ISO 8601 (PT30S) and
	// accepts either ISO 8601 or Go duration syntax (30s) on input.
	Duration time.Duration
)

// ParseDateTime parses an ISO 8601 date-time.
func ParseDateTime(s string) (time.Time, error) {
	return iso8601.ParseString(s)
}

// String formats the date-time as RFC 3339.
func (dt DateTime) String() string {
	return time.Time(dt).Format(time.RFC3339)
}

// MarshalText formats the date-time as RFC 3339.
func (dt DateTime) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText parses an ISO 8601 date-time.
func (dt *DateTime) UnmarshalText(b []byte) error {
	parsed, err := iso8601.Parse(b)
	if err != nil {
		return err
	}
	*dt = DateTime(parsed)
	return nil
}

// ParseDuration parses ISO 8601 (leading P) or Go duration syntax.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "P") || strings.HasPrefix(s, "-P") {
		d, err := duration.Parse(s)
		if err != nil {
			return 0, err
		}
		return d.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}

// D returns the native duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// String formats the duration as ISO 8601.
func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}

// MarshalText formats the duration as ISO 8601.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses ISO 8601 or Go duration syntax.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
