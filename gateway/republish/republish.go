// Package republish re-emits validated readings on each node's canonical
// per-type topics.
package republish

import (
	"context"
	"log/slog"

	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/ingress"
	"github.com/eva00212/jetson/gateway/metrics"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/eva00212/jetson/protocol/mqtt"
)

type (
	// Republisher publishes readings non-retained at QoS 1.
	Republisher struct {
		senders map[route]*protocol.TelemetrySender[telemetry.SensorReading]
		log     log.Logger
		metrics *metrics.Metrics
	}

	route struct {
		node string
		kind telemetry.Kind
	}
)

// New creates a sender for every canonical topic in the registry.
func New(
	client mqtt.Client,
	reg *registry.Registry,
	opt ...component.Option,
) (*Republisher, error) {
	var opts component.Options
	opts.Apply(opt)

	r := &Republisher{
		senders: map[route]*protocol.TelemetrySender[telemetry.SensorReading]{},
		log:     opts.Log("republish"),
		metrics: opts.Metrics,
	}
	for _, node := range reg.Nodes() {
		for _, kind := range telemetry.Kinds {
			ts, err := protocol.NewTelemetrySender(
				client,
				ingress.Encoding{},
				node.CanonicalTopic(kind),
				protocol.WithLogger(opts.Logger),
			)
			if err != nil {
				return nil, err
			}
			r.senders[route{node.ID, kind}] = ts
		}
	}
	return r, nil
}

// Republish sends the canonical fields of the reading to the node's topic for
// its type. Gateway annotations such as received_at are not forwarded.
func (r *Republisher) Republish(
	ctx context.Context,
	nodeID string,
	reading telemetry.SensorReading,
) error {
	ts, ok := r.senders[route{nodeID, reading.Type}]
	if !ok {
		return &errors.Error{
			Message:       "no canonical topic for reading",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "node",
			PropertyValue: nodeID + "/" + string(reading.Type),
		}
	}

	err := ts.Send(ctx, reading.Canonical(), protocol.WithRetain(false))
	r.metrics.Republished(err)
	if err != nil {
		r.log.Warn(ctx, err,
			slog.String("node", nodeID),
			slog.String("device_id", reading.DeviceID))
		return err
	}
	return nil
}
