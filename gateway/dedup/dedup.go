// Package dedup drops readings the broker redelivered after a reconnect.
// Content alone never marks a duplicate: a node holding a steady value sends
// identical readings in every round, so only messages the broker flagged as
// redeliveries are checked against the filter.
package dedup

import (
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/protocol/errors"
)

// Filter is a probabilistic set of recently seen readings. A false positive
// drops a redelivered reading that was in fact never recorded, with the
// configured probability; false negatives do not occur until the filter is
// cleared.
type Filter struct {
	mu       sync.Mutex
	filter   *bloom.BloomFilter
	capacity uint
	maxFill  float64
}

// New sizes the filter for capacity readings at the false positive rate. The
// filter is cleared once its estimated fill reaches maxFill percent.
func New(capacity uint, falsePositive, maxFill float64) (*Filter, error) {
	switch {
	case capacity == 0:
		return nil, invalid("Capacity", capacity)
	case falsePositive <= 0 || falsePositive >= 1:
		return nil, invalid("FalsePositive", falsePositive)
	case maxFill <= 0 || maxFill > 100:
		return nil, invalid("MaxFill", maxFill)
	}
	return &Filter{
		filter:   bloom.NewWithEstimates(capacity, falsePositive),
		capacity: capacity,
		maxFill:  maxFill,
	}, nil
}

// Redelivered records the reading and reports whether it is a redelivery
// (dup set) of a reading recorded before. Readings carrying the sentinel
// timestamp are neither recorded nor dropped, since every unsynced node
// stamps the same value. A nil filter never reports a duplicate.
func (f *Filter) Redelivered(r telemetry.SensorReading, dup bool) bool {
	if f == nil || r.Timestamp == telemetry.SentinelTimestamp {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	fill := float64(f.filter.ApproximatedSize()) / float64(f.capacity) * 100
	if fill >= f.maxFill {
		f.filter.ClearAll()
	}
	seen := f.filter.TestAndAddString(Key(r))
	return dup && seen
}

// Key identifies a reading. The gateway annotation received_at is excluded,
// since a redelivery is stamped again.
func Key(r telemetry.SensorReading) string {
	return r.DeviceID + "|" + string(r.Type) + "|" + r.Timestamp + "|" +
		strconv.FormatFloat(r.Value, 'g', -1, 64)
}

func invalid(name string, value any) error {
	return &errors.Error{
		Message:       "invalid duplicate filter configuration",
		Kind:          errors.ConfigurationInvalid,
		PropertyName:  name,
		PropertyValue: value,
	}
}
