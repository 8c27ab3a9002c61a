// Package telemetry defines the canonical reading schema shared by the
// ingress, bridge, republish and storage paths.
package telemetry

import (
	"time"
)

// Kind is the physical quantity of a reading.
type Kind string

const (
	Temperature Kind = "temperature"
	Humidity    Kind = "humidity"
)

// Units of the supported quantities.
const (
	UnitCelsius = "C"
	UnitPercent = "%"
)

// Kinds lists every supported quantity in sampling order.
var Kinds = []Kind{Temperature, Humidity}

// Valid reports whether the kind is supported.
func (k Kind) Valid() bool {
	return k == Temperature || k == Humidity
}

// Unit returns the unit readings of the kind are reported in.
func (k Kind) Unit() string {
	switch k {
	case Temperature:
		return UnitCelsius
	case Humidity:
		return UnitPercent
	default:
		return ""
	}
}

// SensorReading is a validated reading. Field names are snake_case on the
// wire, for every path and every deployment.
type SensorReading struct {
	DeviceID   string  `json:"device_id"`
	Type       Kind    `json:"type"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Timestamp  string  `json:"timestamp"`
	ReceivedAt string  `json:"received_at,omitempty"`
}

// Canonical returns the reading without gateway-side annotations.
func (r SensorReading) Canonical() SensorReading {
	r.ReceivedAt = ""
	return r
}

// Zone is the fixed UTC+9 offset used for log partitioning and for
// timestamps generated by the gateway.
var Zone = time.FixedZone("UTC+9", 9*60*60)

// Format renders a gateway-generated timestamp: RFC 3339 in Zone.
func Format(t time.Time) string {
	return t.In(Zone).Format(time.RFC3339)
}

// SentinelTimestamp is stamped by nodes that have not received SetTime.
const SentinelTimestamp = "1970-01-01T00:00:00Z"
