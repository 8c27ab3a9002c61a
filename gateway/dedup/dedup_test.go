package dedup_test

import (
	"fmt"
	"testing"

	"github.com/eva00212/jetson/gateway/dedup"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/stretchr/testify/require"
)

var reading = telemetry.SensorReading{
	DeviceID:  "temp001",
	Type:      telemetry.Temperature,
	Value:     23.4,
	Unit:      "C",
	Timestamp: "2024-01-01T09:00:00+09:00",
}

func TestRedelivered(t *testing.T) {
	f, err := dedup.New(1000, 0.001, 90)
	require.NoError(t, err)

	require.False(t, f.Redelivered(reading, false))
	require.True(t, f.Redelivered(reading, true))

	stamped := reading
	stamped.ReceivedAt = "2024-01-01T09:00:05+09:00"
	require.True(t, f.Redelivered(stamped, true))

	other := reading
	other.Value = 23.5
	require.False(t, f.Redelivered(other, true))

	hum := reading
	hum.Type = telemetry.Humidity
	require.False(t, f.Redelivered(hum, true))
}

func TestRepeatedContentIsNotDuplicate(t *testing.T) {
	f, err := dedup.New(1000, 0.001, 90)
	require.NoError(t, err)

	// A steady value sampled in consecutive rounds.
	for range 3 {
		require.False(t, f.Redelivered(reading, false))
	}
}

func TestSentinelNeverDropped(t *testing.T) {
	f, err := dedup.New(1000, 0.001, 90)
	require.NoError(t, err)

	unsynced := reading
	unsynced.Timestamp = telemetry.SentinelTimestamp
	require.False(t, f.Redelivered(unsynced, false))
	require.False(t, f.Redelivered(unsynced, true))
	require.False(t, f.Redelivered(unsynced, true))
}

func TestClearsWhenFull(t *testing.T) {
	f, err := dedup.New(10, 0.01, 50)
	require.NoError(t, err)

	require.False(t, f.Redelivered(reading, false))
	for i := range 20 {
		r := reading
		r.Timestamp = fmt.Sprintf("2024-01-01T09:00:%02d+09:00", i+1)
		f.Redelivered(r, false)
	}
	// The first reading was forgotten when the filter was cleared.
	require.False(t, f.Redelivered(reading, true))
}

func TestNilFilter(t *testing.T) {
	var f *dedup.Filter
	require.False(t, f.Redelivered(reading, false))
	require.False(t, f.Redelivered(reading, true))
}

func TestNewRejects(t *testing.T) {
	for _, c := range []struct {
		capacity uint
		fp, fill float64
	}{
		{0, 0.01, 90},
		{10, 0, 90},
		{10, 1, 90},
		{10, 0.01, 0},
		{10, 0.01, 101},
	} {
		_, err := dedup.New(c.capacity, c.fp, c.fill)
		require.True(t, errors.Is(err, errors.ConfigurationInvalid))
	}
}

func TestKey(t *testing.T) {
	require.Equal(t,
		"temp001|temperature|2024-01-01T09:00:00+09:00|23.4",
		dedup.Key(reading))
}
