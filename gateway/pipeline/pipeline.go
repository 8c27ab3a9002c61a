// Package pipeline wires the inbound path: node data topics and the bridge
// uplink feed validated readings to the republisher and the log writer.
package pipeline

import (
	"context"
	stderr "errors"
	"log/slog"

	"github.com/eva00212/jetson/gateway/bridge"
	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/dedup"
	"github.com/eva00212/jetson/gateway/ingress"
	"github.com/eva00212/jetson/gateway/metrics"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/eva00212/jetson/protocol/mqtt"
)

type (
	// Republisher re-emits a reading for a node.
	Republisher interface {
		Republish(ctx context.Context, nodeID string, r telemetry.SensorReading) error
	}

	// Persister durably records a reading.
	Persister interface {
		Append(ctx context.Context, r telemetry.SensorReading) error
	}

	// Config selects the inbound sources and their decoding.
	Config struct {
		Decoder   ingress.Decoder
		Converter bridge.Converter

		// BridgeTopic enables the raw uplink when set. Bridged readings are
		// republished on the canonical topics of BridgeNode.
		BridgeTopic string
		BridgeNode  string

		// Concurrency bounds the handlers per topic. Zero is unbounded.
		Concurrency uint

		// Dedup, when set, drops broker redeliveries of readings already
		// accepted.
		Dedup *dedup.Filter
	}

	// Pipeline is a protocol.Listener over every inbound topic.
	Pipeline struct {
		cfg         Config
		republisher Republisher
		persister   Persister
		listeners   []protocol.Listener
		log         log.Logger
		metrics     *metrics.Metrics
	}
)

// Rejection reasons.
const (
	ReasonMalformed  = "malformed"
	ReasonEmptyFrame = "empty_frame"
)

// New creates a receiver per node data topic, plus one for the bridge topic
// when configured. Nothing is subscribed until Listen.
func New(
	client mqtt.Client,
	reg *registry.Registry,
	republisher Republisher,
	persister Persister,
	cfg Config,
	opt ...component.Option,
) (*Pipeline, error) {
	var opts component.Options
	opts.Apply(opt)

	p := &Pipeline{
		cfg:         cfg,
		republisher: republisher,
		persister:   persister,
		log:         opts.Log("pipeline"),
		metrics:     opts.Metrics,
	}

	receiverOpts := []protocol.TelemetryReceiverOption{
		protocol.WithConcurrency(cfg.Concurrency),
		protocol.WithNoLocal(true),
		protocol.WithLogger(opts.Logger),
	}

	for _, topic := range reg.DataTopics() {
		node, _, _ := reg.ByDataTopic(topic)
		tr, err := protocol.NewTelemetryReceiver(client, protocol.Raw{}, topic,
			p.direct(node.ID), receiverOpts...)
		if err != nil {
			return nil, err
		}
		p.listeners = append(p.listeners, tr)
	}

	if cfg.BridgeTopic != "" {
		if _, ok := reg.Node(cfg.BridgeNode); !ok {
			return nil, &errors.Error{
				Message:       "bridge node is not registered",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "BridgeNode",
				PropertyValue: cfg.BridgeNode,
			}
		}
		tr, err := protocol.NewTelemetryReceiver(client, protocol.Raw{},
			cfg.BridgeTopic, p.bridged, receiverOpts...)
		if err != nil {
			return nil, err
		}
		p.listeners = append(p.listeners, tr)
	}

	return p, nil
}

// Listen subscribes to every inbound topic. The returned function
// unsubscribes them again.
func (p *Pipeline) Listen(ctx context.Context) (func(), error) {
	return protocol.Listen(ctx, p.listeners...)
}

func (p *Pipeline) direct(nodeID string) protocol.TelemetryHandler[[]byte] {
	return func(ctx context.Context, msg *protocol.Message[[]byte]) error {
		r, err := p.cfg.Decoder.Decode(msg.Payload)
		if err != nil {
			p.reject(ctx, msg.Topic, err)
			return nil
		}
		p.Accept(ctx, nodeID, metrics.SourceDirect, r, msg.Duplicate)
		return nil
	}
}

func (p *Pipeline) bridged(ctx context.Context, msg *protocol.Message[[]byte]) error {
	frame, err := bridge.Decode(msg.Payload)
	if err != nil {
		p.reject(ctx, msg.Topic, err)
		return nil
	}

	readings := p.cfg.Converter.Convert(frame)
	if len(readings) == 0 {
		p.metrics.Rejected(ReasonEmptyFrame)
		p.log.Debug(ctx, "bridge frame carried no readings",
			slog.String("topic", msg.Topic))
		return nil
	}

	// A fallback timestamp is generated anew on every delivery, so such
	// readings cannot be matched against their first delivery.
	redelivered := msg.Duplicate && frame.TS != nil && *frame.TS != ""

	stamp := p.cfg.Decoder.StampReceivedAt
	for _, r := range readings {
		if stamp {
			r.ReceivedAt = telemetry.Format(wallclock.Instance.Now())
		}
		p.Accept(ctx, p.cfg.BridgeNode, metrics.SourceBridge, r, redelivered)
	}
	return nil
}

// Accept hands a validated reading to both sinks. A failure in one does not
// suppress the other; each sink logs and counts its own failures. Only a
// redelivered reading can be dropped as a duplicate.
func (p *Pipeline) Accept(
	ctx context.Context,
	nodeID, source string,
	r telemetry.SensorReading,
	redelivered bool,
) {
	if p.cfg.Dedup.Redelivered(r, redelivered) {
		p.metrics.Duplicate()
		p.log.Debug(ctx, "duplicate reading dropped",
			slog.String("device_id", r.DeviceID),
			slog.String("timestamp", r.Timestamp))
		return
	}
	p.metrics.Received(source)

	_ = p.republisher.Republish(ctx, nodeID, r.Canonical())
	_ = p.persister.Append(ctx, r)
}

func (p *Pipeline) reject(ctx context.Context, topic string, err error) {
	reason := ReasonMalformed
	var e *errors.Error
	if stderr.As(err, &e) && e.PropertyName != "" {
		reason = "invalid_" + e.PropertyName
	}
	p.metrics.Rejected(reason)
	p.log.Warn(ctx, err, slog.String("topic", topic))
}
