// Package node simulates a field sensor node. It follows the same command
// contract as the firmware: it applies SetMap and SetTime, and answers Sample
// by publishing one reading per requested type to the named topics and a
// status reply to the reply topic.
package node

import (
	"context"
	"encoding/json"
	stderr "errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/eva00212/jetson/gateway/command"
	"github.com/eva00212/jetson/gateway/ingress"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/eva00212/jetson/protocol/mqtt"
)

type (
	// Sensor reads one quantity.
	Sensor interface {
		Read(ctx context.Context, kind telemetry.Kind) (float64, error)
	}

	// SensorFunc adapts a function to Sensor.
	SensorFunc func(ctx context.Context, kind telemetry.Kind) (float64, error)

	// Static always reads the same values. Kinds it has no value for fail.
	Static map[telemetry.Kind]float64

	// Noisy reads a base value with uniform jitter of up to Jitter either
	// way.
	Noisy struct {
		Base   map[telemetry.Kind]float64
		Jitter float64
	}

	// Node is a simulated node bound to its registry entry.
	Node struct {
		client   mqtt.Client
		cfg      registry.NodeConfig
		sensor   Sensor
		deviceID string
		receiver *protocol.TelemetryReceiver[command.Command]

		mu     sync.Mutex
		topics map[telemetry.Kind]string
		offset time.Duration
		synced bool

		log log.Logger
	}

	// Reply is the status a node publishes after a sample. It deliberately
	// shares no fields with the reading schema.
	Reply struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
		Published int    `json:"published"`
		Error     string `json:"error,omitempty"`
	}
)

// Reply statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// ErrNoValue is returned by a Static sensor for kinds it has no value for.
var ErrNoValue = stderr.New("sensor has no value for this kind")

// Read calls the function.
func (f SensorFunc) Read(ctx context.Context, kind telemetry.Kind) (float64, error) {
	return f(ctx, kind)
}

// Read returns the fixed value.
func (s Static) Read(_ context.Context, kind telemetry.Kind) (float64, error) {
	v, ok := s[kind]
	if !ok {
		return 0, ErrNoValue
	}
	return v, nil
}

// Read returns the base value with jitter.
func (n Noisy) Read(_ context.Context, kind telemetry.Kind) (float64, error) {
	v, ok := n.Base[kind]
	if !ok {
		return 0, ErrNoValue
	}
	return v + (rand.Float64()*2-1)*n.Jitter, nil // #nosec G404
}

// New creates a node. Readings carry deviceID, or the node ID when empty.
func New(
	client mqtt.Client,
	cfg registry.NodeConfig,
	sensor Sensor,
	deviceID string,
	logger *slog.Logger,
) (*Node, error) {
	if sensor == nil {
		return nil, &errors.Error{
			Message:      "sensor is required",
			Kind:         errors.ConfigurationInvalid,
			PropertyName: "sensor",
		}
	}
	if deviceID == "" {
		deviceID = cfg.ID
	}

	n := &Node{
		client:   client,
		cfg:      cfg,
		sensor:   sensor,
		deviceID: deviceID,
		topics: map[telemetry.Kind]string{
			telemetry.Temperature: cfg.TempTopic,
			telemetry.Humidity:    cfg.HumidityTopic,
		},
		log: log.Wrap(logger).With(slog.String("node", cfg.ID)),
	}

	var err error
	n.receiver, err = protocol.NewTelemetryReceiver(client, command.Encoding{},
		cfg.CmdTopic, n.handle,
		protocol.WithConcurrency(1),
		protocol.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Listen subscribes to the command topic. Retained commands are applied
// first.
func (n *Node) Listen(ctx context.Context) (func(), error) {
	return n.receiver.Listen(ctx)
}

// Topic returns where unsolicited readings of the kind are published.
func (n *Node) Topic(kind telemetry.Kind) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.topics[kind]
}

// Synced reports whether a SetTime has been applied.
func (n *Node) Synced() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.synced
}

// Now returns the node's notion of the current time.
func (n *Node) Now() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return wallclock.Instance.Now().Add(n.offset)
}

// Report reads every quantity and publishes it to the topics last set by
// SetMap, as nodes do between sample requests.
func (n *Node) Report(ctx context.Context) error {
	var errs []error
	for _, kind := range telemetry.Kinds {
		if err := n.publishReading(ctx, kind, n.Topic(kind)); err != nil {
			errs = append(errs, err)
		}
	}
	return stderr.Join(errs...)
}

func (n *Node) handle(ctx context.Context, msg *protocol.Message[command.Command]) error {
	switch cmd := msg.Payload.(type) {
	case command.SetMap:
		n.mu.Lock()
		n.topics[telemetry.Temperature] = cmd.TempTopic
		n.topics[telemetry.Humidity] = cmd.HumTopic
		n.mu.Unlock()
		n.log.Debug(ctx, "topic map applied",
			slog.String("temp", cmd.TempTopic),
			slog.String("hum", cmd.HumTopic))
		return nil

	case command.SetTime:
		n.mu.Lock()
		n.offset = time.Unix(cmd.EpochUTC, 0).Sub(wallclock.Instance.Now())
		n.synced = true
		n.mu.Unlock()
		n.log.Debug(ctx, "clock set", slog.Int64("epoch", cmd.EpochUTC))
		return nil

	case command.Sample:
		if msg.Retained {
			n.log.Debug(ctx, "ignoring retained sample request",
				slog.String("request_id", cmd.RequestID))
			return nil
		}
		return n.sample(ctx, cmd)

	default:
		return nil
	}
}

func (n *Node) sample(ctx context.Context, cmd command.Sample) error {
	reply := Reply{RequestID: cmd.RequestID}
	var errs []error
	for i, kind := range cmd.Types {
		if err := n.publishReading(ctx, kind, cmd.PublishTo[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		reply.Published++
	}

	err := stderr.Join(errs...)
	switch {
	case err == nil:
		reply.Status = StatusOK
	case reply.Published > 0:
		reply.Status = StatusPartial
		reply.Error = err.Error()
	default:
		reply.Status = StatusFailed
		reply.Error = err.Error()
	}

	payload, mErr := json.Marshal(reply)
	if mErr != nil {
		return mErr
	}
	if pErr := n.client.Publish(ctx, cmd.ReplyTo, payload,
		mqtt.WithQoS(1),
		mqtt.WithContentType("application/json"),
		mqtt.WithPayloadFormat(1),
	); pErr != nil {
		errs = append(errs, pErr)
	}
	return stderr.Join(errs...)
}

func (n *Node) publishReading(ctx context.Context, kind telemetry.Kind, topic string) error {
	value, err := n.sensor.Read(ctx, kind)
	if err != nil {
		return err
	}

	ts := telemetry.SentinelTimestamp
	if n.Synced() {
		ts = telemetry.Format(n.Now())
	}

	data, err := ingress.Encoding{}.Serialize(telemetry.SensorReading{
		DeviceID:  n.deviceID,
		Type:      kind,
		Value:     value,
		Unit:      kind.Unit(),
		Timestamp: ts,
	})
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, topic, data.Payload,
		mqtt.WithQoS(1),
		mqtt.WithContentType(data.ContentType),
		mqtt.WithPayloadFormat(data.PayloadFormat),
	)
}
