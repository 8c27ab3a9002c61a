package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/config"
	"github.com/eva00212/jetson/gateway/dedup"
	"github.com/eva00212/jetson/gateway/ingress"
	"github.com/eva00212/jetson/gateway/metrics"
	"github.com/eva00212/jetson/gateway/pipeline"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/republish"
	"github.com/eva00212/jetson/gateway/storage"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/eva00212/jetson/protocol/mqtt"
	"github.com/eva00212/jetson/protocol/mqtt/mqtttest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type (
	mockRepublisher struct{ mock.Mock }
	mockPersister   struct{ mock.Mock }
)

func (m *mockRepublisher) Republish(ctx context.Context, nodeID string, r telemetry.SensorReading) error {
	return m.Called(nodeID, r).Error(0)
}

func (m *mockPersister) Append(ctx context.Context, r telemetry.SensorReading) error {
	return m.Called(r).Error(0)
}

const temp = `{"device_id":"temp001","type":"temperature","value":23.4,` +
	`"unit":"C","timestamp":"2024-01-01T09:00:00+09:00"}`

var tempReading = telemetry.SensorReading{
	DeviceID:  "temp001",
	Type:      telemetry.Temperature,
	Value:     23.4,
	Unit:      "C",
	Timestamp: "2024-01-01T09:00:00+09:00",
}

func fakeClock(t *testing.T) {
	clock := wallclock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	orig := wallclock.Instance
	wallclock.Instance = clock
	t.Cleanup(func() { wallclock.Instance = orig })
}

func registryFor(t *testing.T) *registry.Registry {
	reg, err := registry.Load([]registry.NodeSpec{{ID: "temp001"}, {ID: "hum001"}})
	require.NoError(t, err)
	return reg
}

func listen(t *testing.T, p *pipeline.Pipeline) {
	stop, err := p.Listen(context.Background())
	require.NoError(t, err)
	t.Cleanup(stop)
}

func publish(t *testing.T, c *mqtttest.Client, topic, payload string) {
	require.NoError(t, c.Publish(context.Background(), topic, []byte(payload), mqtt.WithQoS(1)))
}

func TestDirectReading(t *testing.T) {
	broker := mqtttest.NewBroker()
	rep, per := &mockRepublisher{}, &mockPersister{}
	m := metrics.New()

	got := make(chan struct{}, 1)
	rep.On("Republish", "temp001", tempReading).Return(nil).Once()
	per.On("Append", tempReading).Return(nil).Once().
		Run(func(mock.Arguments) { got <- struct{}{} })

	p, err := pipeline.New(broker.Client("gateway"), registryFor(t), rep, per,
		pipeline.Config{Concurrency: 1}, component.WithMetrics(m))
	require.NoError(t, err)
	listen(t, p)

	publish(t, broker.Client("temp001"), "temp001/data/temperature", temp)

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("reading was not persisted")
	}
	rep.AssertExpectations(t)
	per.AssertExpectations(t)
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsReceived.WithLabelValues(metrics.SourceDirect)))
}

func TestRejectsAreAckedAndDropped(t *testing.T) {
	broker := mqtttest.NewBroker()
	rep, per := &mockRepublisher{}, &mockPersister{}
	m := metrics.New()

	p, err := pipeline.New(broker.Client("gateway"), registryFor(t), rep, per,
		pipeline.Config{Concurrency: 1}, component.WithMetrics(m))
	require.NoError(t, err)
	listen(t, p)

	node := broker.Client("hum001")
	publish(t, node, "hum001/data/humidity", `not json`)
	publish(t, node, "hum001/data/humidity", `{"device_id":"hum001","type":"humidity","value":40}`)
	publish(t, node, "hum001/rsp", `{"request_id":"r","status":"ok","published":2}`)

	require.Eventually(t, func() bool { return broker.Acks() == 2 },
		5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ReadingsRejected.WithLabelValues(pipeline.ReasonMalformed)) == 1 &&
			testutil.ToFloat64(m.ReadingsRejected.WithLabelValues("invalid_"+ingress.FieldUnit)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	rep.AssertNotCalled(t, "Republish", mock.Anything, mock.Anything)
	per.AssertNotCalled(t, "Append", mock.Anything)
}

func TestSinkFailuresAreIndependent(t *testing.T) {
	broker := mqtttest.NewBroker()
	rep, per := &mockRepublisher{}, &mockPersister{}
	done := make(chan struct{}, 2)

	rep.On("Republish", "temp001", tempReading).
		Return(&errors.Error{Kind: errors.MqttError}).Once()
	per.On("Append", tempReading).Return(nil).Once().
		Run(func(mock.Arguments) { done <- struct{}{} })

	rep.On("Republish", "hum001", mock.Anything).Return(nil).Once()
	per.On("Append", mock.MatchedBy(func(r telemetry.SensorReading) bool {
		return r.Type == telemetry.Humidity
	})).Return(&errors.Error{Kind: errors.ExecutionException}).Once().
		Run(func(mock.Arguments) { done <- struct{}{} })

	p, err := pipeline.New(broker.Client("gateway"), registryFor(t), rep, per,
		pipeline.Config{Concurrency: 1})
	require.NoError(t, err)
	listen(t, p)

	publish(t, broker.Client("temp001"), "temp001/data/temperature", temp)
	publish(t, broker.Client("hum001"), "hum001/data/humidity",
		`{"device_id":"hum001","type":"humidity","value":40.5,"unit":"%","timestamp":"t"}`)

	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("reading was not persisted")
		}
	}
	rep.AssertExpectations(t)
	per.AssertExpectations(t)
}

func TestRedeliveriesDropped(t *testing.T) {
	broker := mqtttest.NewBroker()
	rep, per := &mockRepublisher{}, &mockPersister{}
	m := metrics.New()

	filter, err := dedup.New(1000, 0.001, 90)
	require.NoError(t, err)

	rep.On("Republish", "temp001", tempReading).Return(nil).Once()
	per.On("Append", tempReading).Return(nil).Once()

	p, err := pipeline.New(broker.Client("gateway"), registryFor(t), rep, per,
		pipeline.Config{Concurrency: 1, Dedup: filter}, component.WithMetrics(m))
	require.NoError(t, err)
	listen(t, p)

	node := broker.Client("temp001")
	publish(t, node, "temp001/data/temperature", temp)
	require.NoError(t, node.Redeliver(context.Background(),
		"temp001/data/temperature", []byte(temp), mqtt.WithQoS(1)))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DuplicatesDropped) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return broker.Acks() == 2 },
		5*time.Second, 10*time.Millisecond)
	rep.AssertExpectations(t)
	per.AssertExpectations(t)
}

// Nodes without a time sync stamp every reading with the sentinel, so steady
// values repeat byte for byte across sample rounds. Each one is a new
// reading and must reach both sinks.
func TestRepeatedReadingsPersisted(t *testing.T) {
	fakeClock(t)
	broker := mqtttest.NewBroker()
	client := broker.Client("gateway")
	m := metrics.New()
	root := t.TempDir()

	cfg, err := config.Load(filepath.Join("..", "..", "gateway.yaml"))
	require.NoError(t, err)
	cfg.Dedup.Enabled = true
	filter, err := cfg.DedupFilter()
	require.NoError(t, err)

	reg := registryFor(t)
	rep, err := republish.New(client, reg, component.WithMetrics(m))
	require.NoError(t, err)
	w, err := storage.New(storage.Config{Root: root}, component.WithMetrics(m))
	require.NoError(t, err)

	pc := cfg.PipelineConfig(filter)
	pc.BridgeTopic = ""
	pc.Concurrency = 1
	p, err := pipeline.New(client, reg, rep, w, pc, component.WithMetrics(m))
	require.NoError(t, err)
	listen(t, p)

	unsynced := `{"device_id":"temp001","type":"humidity","value":40.5,` +
		`"unit":"%","timestamp":"1970-01-01T00:00:00Z"}`
	node := broker.Client("temp001")
	publish(t, node, "temp001/data/humidity", unsynced)
	publish(t, node, "temp001/data/humidity", unsynced)
	require.NoError(t, node.Redeliver(context.Background(),
		"temp001/data/humidity", []byte(unsynced), mqtt.WithQoS(1)))
	publish(t, node, "temp001/data/temperature", temp)
	publish(t, node, "temp001/data/temperature", temp)

	require.Eventually(t, func() bool { return broker.Acks() == 5 },
		5*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(filepath.Join(root, "2024-01-01.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 5)
	require.Len(t, broker.Published("canonical/temp001/humidity"), 3)
	require.Len(t, broker.Published("canonical/temp001/temperature"), 2)
	require.Zero(t, testutil.ToFloat64(m.DuplicatesDropped))
}

func TestBridge(t *testing.T) {
	fakeClock(t)
	broker := mqtttest.NewBroker()
	client := broker.Client("gateway")
	reg := registryFor(t)
	m := metrics.New()
	root := t.TempDir()

	rep, err := republish.New(client, reg, component.WithMetrics(m))
	require.NoError(t, err)
	w, err := storage.New(storage.Config{Root: root}, component.WithMetrics(m))
	require.NoError(t, err)

	p, err := pipeline.New(client, reg, rep, w, pipeline.Config{
		Decoder:     ingress.Decoder{StampReceivedAt: true},
		BridgeTopic: "uplink/sht31/lines",
		BridgeNode:  "temp001",
		Concurrency: 1,
	}, component.WithMetrics(m))
	require.NoError(t, err)
	listen(t, p)

	jetson := broker.Client("jetson")
	publish(t, jetson, "uplink/sht31/lines", `{"ok":true,"hum_raw":401,"temp_raw":235,"ts":"2024-01-01T09:00:00+09:00"}`)
	publish(t, jetson, "uplink/sht31/lines", `{"ok":false,"hum_raw":401,"temp_raw":235}`)
	publish(t, jetson, "uplink/sht31/lines", `{"ok":true,"temp_raw":"x"}`)

	require.Eventually(t, func() bool {
		return len(broker.Published("canonical/temp001/humidity")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return broker.Acks() == 3 },
		5*time.Second, 10*time.Millisecond)

	pub := broker.Published("canonical/temp001/temperature")
	require.Len(t, pub, 1)
	require.JSONEq(t,
		`{"device_id":"sht31-temp","type":"temperature","value":23.5,`+
			`"unit":"C","timestamp":"2024-01-01T09:00:00+09:00"}`,
		string(pub[0].Payload))

	data, err := os.ReadFile(filepath.Join(root, "2024-01-01.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"received_at":"2024-01-01T09:00:00+09:00"`)
	require.Contains(t, lines[1], `"device_id":"sht31-hum"`)

	require.Equal(t, 2.0, testutil.ToFloat64(m.ReadingsReceived.WithLabelValues(metrics.SourceBridge)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsRejected.WithLabelValues(pipeline.ReasonEmptyFrame)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsRejected.WithLabelValues(pipeline.ReasonMalformed)))
}

func TestOwnPublishesIgnored(t *testing.T) {
	broker := mqtttest.NewBroker()
	client := broker.Client("gateway")
	rep, per := &mockRepublisher{}, &mockPersister{}

	p, err := pipeline.New(client, registryFor(t), rep, per, pipeline.Config{})
	require.NoError(t, err)
	listen(t, p)

	publish(t, client, "temp001/data/temperature", temp)
	require.Never(t, func() bool { return broker.Acks() > 0 },
		100*time.Millisecond, 10*time.Millisecond)
	per.AssertNotCalled(t, "Append", mock.Anything)
}

func TestNewRejectsUnknownBridgeNode(t *testing.T) {
	broker := mqtttest.NewBroker()
	_, err := pipeline.New(broker.Client("gateway"), registryFor(t),
		&mockRepublisher{}, &mockPersister{}, pipeline.Config{
			BridgeTopic: "uplink/sht31/lines",
			BridgeNode:  "sht31",
		})
	require.True(t, errors.Is(err, errors.ConfigurationInvalid))
}
