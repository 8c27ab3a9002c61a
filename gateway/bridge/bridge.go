// Package bridge converts the raw frames of bridge deployments, where a
// single uplink publishes both quantities scaled by ten, into readings.
package bridge

import (
	"bytes"
	"encoding/json"

	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/errors"
)

type (
	// Frame is one raw uplink message. Raw values are the physical value
	// times ten.
	Frame struct {
		OK      *bool   `json:"ok"`
		HumRaw  *int    `json:"hum_raw"`
		TempRaw *int    `json:"temp_raw"`
		TS      *string `json:"ts"`
	}

	// Converter projects frames onto readings with a fixed identity per
	// quantity.
	Converter struct {
		TempDeviceID string
		HumDeviceID  string
	}

	// Encoding adapts Decode to the protocol layer.
	Encoding struct{}
)

// Default identities.
const (
	DefaultTempDeviceID = "sht31-temp"
	DefaultHumDeviceID  = "sht31-hum"

	scale = 10.0
)

// Decode parses a frame. Fields other than the four known ones are ignored,
// so uplinks may carry extra diagnostics; a known field of the wrong type or
// trailing data is rejected.
func Decode(payload []byte) (Frame, error) {
	var f Frame
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&f); err != nil {
		return Frame{}, &errors.Error{
			Message:     "malformed bridge frame: " + err.Error(),
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}
	if dec.More() {
		return Frame{}, &errors.Error{
			Message: "trailing data after bridge frame",
			Kind:    errors.PayloadInvalid,
		}
	}
	return f, nil
}

// Convert returns a reading per raw value present. A frame without ok=true
// yields nothing.
func (c Converter) Convert(f Frame) []telemetry.SensorReading {
	if f.OK == nil || !*f.OK {
		return nil
	}

	ts := ""
	if f.TS != nil && *f.TS != "" {
		ts = *f.TS
	} else {
		ts = telemetry.Format(wallclock.Instance.Now())
	}

	var out []telemetry.SensorReading
	if f.TempRaw != nil {
		out = append(out, telemetry.SensorReading{
			DeviceID:  or(c.TempDeviceID, DefaultTempDeviceID),
			Type:      telemetry.Temperature,
			Value:     float64(*f.TempRaw) / scale,
			Unit:      telemetry.UnitCelsius,
			Timestamp: ts,
		})
	}
	if f.HumRaw != nil {
		out = append(out, telemetry.SensorReading{
			DeviceID:  or(c.HumDeviceID, DefaultHumDeviceID),
			Type:      telemetry.Humidity,
			Value:     float64(*f.HumRaw) / scale,
			Unit:      telemetry.UnitPercent,
			Timestamp: ts,
		})
	}
	return out
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Serialize renders the frame as JSON.
func (Encoding) Serialize(f Frame) (*protocol.Data, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return &protocol.Data{
		Payload:       b,
		ContentType:   "application/json",
		PayloadFormat: 1,
	}, nil
}

// Deserialize decodes the frame whatever the content type.
func (Encoding) Deserialize(data *protocol.Data) (Frame, error) {
	return Decode(data.Payload)
}
