package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eva00212/jetson/gateway/config"
	"github.com/eva00212/jetson/gateway/storage"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, data string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(write(t, "gateway.yaml", `
broker:
  hostname: broker.local
scheduler:
  sample_period: PT30S
  warmup: 1m
nodes:
  - id: temp001
  - id: hum001
    cmd_topic: plant/{nodeId}/cmd
`))
	require.NoError(t, err)

	require.Equal(t, "broker.local", cfg.Broker.Hostname)
	require.Equal(t, uint16(60), cfg.Broker.KeepAlive)
	require.Equal(t, uint64(5), cfg.Broker.ConnectAttempts)

	sc := cfg.SchedulerConfig()
	require.Equal(t, 30*time.Second, sc.SamplePeriod)
	require.Equal(t, time.Minute, sc.Warmup)
	require.Equal(t, 5*time.Minute, sc.ResyncPeriod)
	require.Equal(t, 5*time.Second, sc.WarmupInterval)
	require.Equal(t, 100*time.Millisecond, sc.Tick)

	st := cfg.StorageConfig()
	require.Equal(t, "./data", st.Root)
	require.Equal(t, storage.Daily, st.Rotation)
	require.Equal(t, storage.PartitionReceived, st.PartitionBy)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	n, ok := reg.Node("hum001")
	require.True(t, ok)
	require.Equal(t, "plant/hum001/cmd", n.CmdTopic)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)

	filter, err := cfg.DedupFilter()
	require.NoError(t, err)
	require.Nil(t, filter)
	require.Empty(t, cfg.Metrics.Addr)

	pc := cfg.PipelineConfig(nil)
	require.Empty(t, pc.BridgeTopic)
	require.Equal(t, "sht31-temp", pc.Converter.TempDeviceID)
}

func TestLoadTOML(t *testing.T) {
	cfg, err := config.Load(write(t, "gateway.toml", `
[broker]
hostname = "broker.local"
port = 1884
keep_alive = 30

[scheduler]
sample_period = "5s"
resync_map = true

[storage]
root = "/var/lib/gateway"
rotation = "single"
single_name = "all.jsonl"

[bridge]
topic = "uplink/sht31/lines"

[dedup]
enabled = true

[log]
level = "debug"

[[nodes]]
id = "sht31"
`))
	require.NoError(t, err)

	require.Equal(t, uint16(1884), cfg.Broker.Port)
	require.Equal(t, uint16(30), cfg.Broker.KeepAlive)
	require.True(t, cfg.SchedulerConfig().ResyncMap)
	require.Equal(t, storage.SingleFile, cfg.StorageConfig().Rotation)
	require.Equal(t, "all.jsonl", cfg.StorageConfig().SingleName)

	// A single node is the implicit bridge target.
	require.Equal(t, "sht31", cfg.Bridge.Node)

	filter, err := cfg.DedupFilter()
	require.NoError(t, err)
	require.NotNil(t, filter)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
	require.NotEmpty(t, cfg.SessionOptions(nil))
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_BROKER_HOSTNAME", "env.local")
	t.Setenv("GATEWAY_BROKER_PORT", "2883")
	t.Setenv("GATEWAY_STORAGE_ROOT", "/tmp/readings")
	t.Setenv("GATEWAY_METRICS_ADDR", ":9100")

	cfg, err := config.Load(write(t, "gateway.yml", "nodes:\n  - id: temp001\n"))
	require.NoError(t, err)
	require.Equal(t, "env.local", cfg.Broker.Hostname)
	require.Equal(t, uint16(2883), cfg.Broker.Port)
	require.Equal(t, "/tmp/readings", cfg.Storage.Root)
	require.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestApplyEnv(t *testing.T) {
	var cfg config.Config
	require.NoError(t, cfg.ApplyEnv([]string{
		"GATEWAY_BROKER_USE_TLS=true",
		"GATEWAY_BROKER_CA_FILE=/etc/ca.pem",
		"GATEWAY_BROKER_KEEP_ALIVE=15",
		"GATEWAY_BROKER_CLIENT_ID=gw-1",
		"GATEWAY_BROKER_USERNAME=gateway",
		"GATEWAY_BROKER_PASSWORD_FILE=/run/secrets/mqtt",
		"GATEWAY_LOG_LEVEL=warn",
		"GATEWAY_UNKNOWN=ignored",
		"HOME=/root",
	}))
	require.True(t, cfg.Broker.UseTLS)
	require.Equal(t, "/etc/ca.pem", cfg.Broker.CAFile)
	require.Equal(t, uint16(15), cfg.Broker.KeepAlive)
	require.Equal(t, "gw-1", cfg.Broker.ClientID)
	require.Equal(t, "gateway", cfg.Broker.Username)
	require.Equal(t, "/run/secrets/mqtt", cfg.Broker.PasswordFile)
	require.Equal(t, "warn", cfg.Log.Level)

	err := cfg.ApplyEnv([]string{"GATEWAY_BROKER_PORT=70000"})
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.ConfigurationInvalid, e.Kind)
	require.Equal(t, "GATEWAY_BROKER_PORT", e.PropertyName)

	err = cfg.ApplyEnv([]string{"GATEWAY_BROKER_USE_TLS=maybe"})
	require.True(t, errors.Is(err, errors.ConfigurationInvalid))
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"no nodes":       "broker:\n  hostname: b\n",
		"duplicate node": "nodes:\n  - id: a\n  - id: a\n",
		"bad duration":   "scheduler:\n  tick: soon\nnodes:\n  - id: a\n",
		"zero tick":      "scheduler:\n  tick: -1s\nnodes:\n  - id: a\n",
		"log level":      "log:\n  level: loud\nnodes:\n  - id: a\n",
		"rotation":       "storage:\n  rotation: hourly\nnodes:\n  - id: a\n",
		"bridge node":    "bridge:\n  topic: up\n  node: b\nnodes:\n  - id: a\n",
		"tls files":      "broker:\n  ca_file: ca.pem\nnodes:\n  - id: a\n",
		"dedup":          "dedup:\n  enabled: true\n  max_fill: 150\nnodes:\n  - id: a\n",
		"not yaml":       "nodes: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(write(t, "gateway.yaml", data))
			require.Error(t, err)
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			require.Contains(t,
				[]errors.Kind{errors.ConfigurationInvalid, errors.ArgumentInvalid},
				e.Kind)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, errors.Is(err, errors.ConfigurationInvalid))
}

func TestShippedConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "gateway.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Nodes, 2)
	require.Equal(t, 5*time.Minute, cfg.SchedulerConfig().ResyncPeriod)
	require.True(t, cfg.SchedulerConfig().ResyncMap)
	require.Equal(t, "sht31_", cfg.StorageConfig().Prefix)

	filter, err := cfg.DedupFilter()
	require.NoError(t, err)
	require.Nil(t, filter)

	pc := cfg.PipelineConfig(filter)
	require.Equal(t, "uplink/sht31/lines", pc.BridgeTopic)
	require.Equal(t, "temp001", pc.BridgeNode)
	require.True(t, pc.Decoder.StampReceivedAt)
}
