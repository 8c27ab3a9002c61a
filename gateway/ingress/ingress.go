// Package ingress validates inbound telemetry against the canonical reading
// schema. It is the boundary between untrusted network input and the rest of
// the gateway: every failure is an error value, never a panic.
package ingress

import (
	"encoding/json"

	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/internal/iso"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/errors"
)

type (
	// Decoder turns payloads into readings.
	Decoder struct {
		// StampReceivedAt sets received_at to the gateway's local time,
		// replacing any value sent by the node.
		StampReceivedAt bool
		// StrictTimestamp rejects timestamps that are not ISO 8601.
		StrictTimestamp bool
	}

	// Encoding adapts a Decoder to the protocol layer. Serialize emits the
	// canonical fields only.
	Encoding struct{ Decoder }
)

// Mandatory fields, in check order.
const (
	FieldDeviceID  = "device_id"
	FieldType      = "type"
	FieldValue     = "value"
	FieldUnit      = "unit"
	FieldTimestamp = "timestamp"

	fieldReceivedAt = "received_at"
)

// Decode parses the payload, checks that every mandatory field is present and
// well-typed, and builds the reading. Failures are PayloadInvalid errors
// naming the offending field; an unparseable payload names none.
func (d Decoder) Decode(payload []byte) (telemetry.SensorReading, error) {
	var r telemetry.SensorReading

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return r, &errors.Error{
			Message:     "malformed reading",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}

	for _, name := range []string{
		FieldDeviceID, FieldType, FieldValue, FieldUnit, FieldTimestamp,
	} {
		if raw, ok := fields[name]; !ok || string(raw) == "null" {
			return r, &errors.Error{
				Message:      "missing reading field",
				Kind:         errors.PayloadInvalid,
				PropertyName: name,
			}
		}
	}

	var kind string
	for name, dst := range map[string]any{
		FieldDeviceID:  &r.DeviceID,
		FieldType:      &kind,
		FieldValue:     &r.Value,
		FieldUnit:      &r.Unit,
		FieldTimestamp: &r.Timestamp,
	} {
		if err := json.Unmarshal(fields[name], dst); err != nil {
			return telemetry.SensorReading{}, wrongType(name, err)
		}
	}

	r.Type = telemetry.Kind(kind)
	if !r.Type.Valid() {
		return telemetry.SensorReading{}, &errors.Error{
			Message:       "unsupported reading type",
			Kind:          errors.PayloadInvalid,
			PropertyName:  FieldType,
			PropertyValue: kind,
		}
	}

	if d.StrictTimestamp {
		if _, err := iso.ParseDateTime(r.Timestamp); err != nil {
			return telemetry.SensorReading{}, &errors.Error{
				Message:       "timestamp is not ISO 8601",
				Kind:          errors.PayloadInvalid,
				NestedError:   err,
				PropertyName:  FieldTimestamp,
				PropertyValue: r.Timestamp,
			}
		}
	}

	switch {
	case d.StampReceivedAt:
		r.ReceivedAt = telemetry.Format(wallclock.Instance.Now())
	case fields[fieldReceivedAt] != nil:
		// Optional; a malformed value is dropped rather than rejected.
		_ = json.Unmarshal(fields[fieldReceivedAt], &r.ReceivedAt)
	}

	return r, nil
}

func wrongType(name string, err error) error {
	return &errors.Error{
		Message:      "reading field has the wrong type",
		Kind:         errors.PayloadInvalid,
		NestedError:  err,
		PropertyName: name,
	}
}

// Serialize renders the canonical five fields as compact JSON.
func (Encoding) Serialize(r telemetry.SensorReading) (*protocol.Data, error) {
	b, err := json.Marshal(r.Canonical())
	if err != nil {
		return nil, err
	}
	return &protocol.Data{
		Payload:       b,
		ContentType:   "application/json",
		PayloadFormat: 1,
	}, nil
}

// Deserialize decodes whatever the content type; nodes do not always set one.
func (e Encoding) Deserialize(data *protocol.Data) (telemetry.SensorReading, error) {
	return e.Decode(data.Payload)
}
