package sampler_test

import (
	"context"
	"testing"

	"github.com/eva00212/jetson/gateway/command"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/sampler"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/protocol/mqtt/mqtttest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIssueAll(t *testing.T) {
	reg, err := registry.Load([]registry.NodeSpec{{ID: "temp001"}, {ID: "hum001"}})
	require.NoError(t, err)

	broker := mqtttest.NewBroker()
	sender, err := command.NewSender(broker.Client("gateway"), reg)
	require.NoError(t, err)
	s := sampler.New(sender, reg)

	require.NoError(t, s.IssueAll(context.Background()))

	pubs := broker.Published("temp001/cmd")
	require.Len(t, pubs, 1)
	require.False(t, pubs[0].Retain)
	require.Equal(t, byte(1), pubs[0].QoS)

	cmd, err := command.Parse(pubs[0].Payload)
	require.NoError(t, err)
	sample := cmd.(command.Sample)
	require.Equal(t, []telemetry.Kind{telemetry.Temperature, telemetry.Humidity}, sample.Types)
	require.Equal(t, []string{"temp001/data/temperature", "temp001/data/humidity"}, sample.PublishTo)
	require.Equal(t, "temp001/rsp", sample.ReplyTo)

	id, err := uuid.Parse(sample.RequestID)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), id.Version())

	_, ok := broker.Retained("temp001/cmd")
	require.False(t, ok)
}

func TestRequestIDsDistinct(t *testing.T) {
	reg, err := registry.Load([]registry.NodeSpec{{ID: "n1"}})
	require.NoError(t, err)
	node, _ := reg.Node("n1")

	const n = 10000
	seen := make(map[string]struct{}, n)
	for range n {
		req, err := sampler.Request(node)
		require.NoError(t, err)
		seen[req.RequestID] = struct{}{}
	}
	require.Len(t, seen, n)
}
