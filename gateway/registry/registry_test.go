package registry_test

import (
	"testing"

	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	r, err := registry.Load([]registry.NodeSpec{{ID: "temp001"}, {ID: "hum001"}})
	require.NoError(t, err)

	nodes := r.Nodes()
	require.Len(t, nodes, 2)
	require.Equal(t, registry.NodeConfig{
		ID:                     "temp001",
		CmdTopic:               "temp001/cmd",
		RspTopic:               "temp001/rsp",
		TempTopic:              "temp001/data/temperature",
		HumidityTopic:          "temp001/data/humidity",
		CanonicalTempTopic:     "canonical/temp001/temperature",
		CanonicalHumidityTopic: "canonical/temp001/humidity",
	}, nodes[0])
	require.Equal(t, "hum001", nodes[1].ID)

	node, kind, ok := r.ByDataTopic("hum001/data/humidity")
	require.True(t, ok)
	require.Equal(t, "hum001", node.ID)
	require.Equal(t, telemetry.Humidity, kind)

	_, _, ok = r.ByDataTopic("canonical/hum001/humidity")
	require.False(t, ok)

	require.Equal(t, []string{
		"temp001/data/temperature", "temp001/data/humidity",
		"hum001/data/temperature", "hum001/data/humidity",
	}, r.DataTopics())

	n, ok := r.Node("temp001")
	require.True(t, ok)
	require.Equal(t, "canonical/temp001/temperature", n.CanonicalTopic(telemetry.Temperature))
	require.Equal(t, "temp001/data/humidity", n.DataTopic(telemetry.Humidity))
	require.Empty(t, n.CanonicalTopic("pressure"))

	_, ok = r.Node("nope")
	require.False(t, ok)
}

func TestLoadCustomTopics(t *testing.T) {
	r, err := registry.Load([]registry.NodeSpec{{
		ID:        "n1",
		CmdTopic:  "site/a/{nodeId}/command",
		TempTopic: "site/a/t",
	}})
	require.NoError(t, err)

	n, _ := r.Node("n1")
	require.Equal(t, "site/a/n1/command", n.CmdTopic)
	require.Equal(t, "site/a/t", n.TempTopic)
	require.Equal(t, "n1/data/humidity", n.HumidityTopic)
}

func TestNodesIsACopy(t *testing.T) {
	r, err := registry.Load([]registry.NodeSpec{{ID: "n1"}})
	require.NoError(t, err)

	r.Nodes()[0].CmdTopic = "changed"
	n, _ := r.Node("n1")
	require.Equal(t, "n1/cmd", n.CmdTopic)
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string][]registry.NodeSpec{
		"empty":      nil,
		"empty id":   {{ID: ""}},
		"duplicate":  {{ID: "a"}, {ID: "a"}},
		"wildcard":   {{ID: "a", TempTopic: "a/+/t"}},
		"bad token":  {{ID: "a/b"}},
		"unresolved": {{ID: "a", RspTopic: "{site}/rsp"}},
		"loop":       {{ID: "a", CanonicalTempTopic: "a/data/temperature"}},
		"shared":     {{ID: "a", CmdTopic: "cmd"}, {ID: "b", CmdTopic: "cmd"}},
	}
	for name, specs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := registry.Load(specs)
			require.Error(t, err)
			require.True(t,
				errors.Is(err, errors.ConfigurationInvalid) ||
					errors.Is(err, errors.ArgumentInvalid),
				"unexpected error %v", err)
		})
	}
}

func TestLoadSharedTopicReportsFirstClash(t *testing.T) {
	specs := []registry.NodeSpec{{
		ID:            "a",
		CmdTopic:      "x",
		TempTopic:     "x",
		HumidityTopic: "x",
	}}
	for range 20 {
		_, err := registry.Load(specs)
		var e *errors.Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, "topic used by both a.cmd_topic and a.temp_topic", e.Message)
		require.Equal(t, "a.temp_topic", e.PropertyName)
		require.Equal(t, "x", e.PropertyValue)
	}
}
