// Package config loads the gateway configuration from a YAML or TOML file,
// applies GATEWAY_* environment overrides, and validates the result.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/eva00212/jetson/gateway/bridge"
	"github.com/eva00212/jetson/gateway/dedup"
	"github.com/eva00212/jetson/gateway/ingress"
	"github.com/eva00212/jetson/gateway/pipeline"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/scheduler"
	"github.com/eva00212/jetson/gateway/storage"
	"github.com/eva00212/jetson/internal/iso"
	"github.com/eva00212/jetson/mqtt"
	"github.com/eva00212/jetson/mqtt/retry"
	"github.com/eva00212/jetson/protocol/errors"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the complete gateway configuration.
	Config struct {
		Broker    BrokerConfig        `yaml:"broker" toml:"broker"`
		Scheduler SchedulerConfig     `yaml:"scheduler" toml:"scheduler"`
		Nodes     []registry.NodeSpec `yaml:"nodes" toml:"nodes"`
		Storage   StorageConfig       `yaml:"storage" toml:"storage"`
		Ingress   IngressConfig       `yaml:"ingress" toml:"ingress"`
		Bridge    BridgeConfig        `yaml:"bridge" toml:"bridge"`
		Dedup     DedupConfig         `yaml:"dedup" toml:"dedup"`
		Log       LogConfig           `yaml:"log" toml:"log"`
		Metrics   MetricsConfig       `yaml:"metrics" toml:"metrics"`
	}

	// BrokerConfig describes the MQTT connection.
	BrokerConfig struct {
		Hostname  string `yaml:"hostname" toml:"hostname"`
		Port      uint16 `yaml:"port" toml:"port"`
		KeepAlive uint16 `yaml:"keep_alive" toml:"keep_alive"`
		ClientID  string `yaml:"client_id" toml:"client_id"`

		Username     string `yaml:"username" toml:"username"`
		PasswordFile string `yaml:"password_file" toml:"password_file"`

		UseTLS   bool   `yaml:"use_tls" toml:"use_tls"`
		CAFile   string `yaml:"ca_file" toml:"ca_file"`
		CertFile string `yaml:"cert_file" toml:"cert_file"`
		KeyFile  string `yaml:"key_file" toml:"key_file"`
		Insecure bool   `yaml:"insecure" toml:"insecure"`

		ConnectAttempts  uint64       `yaml:"connect_attempts" toml:"connect_attempts"`
		ConnectTimeout   iso.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
		PublishQueueSize int          `yaml:"publish_queue_size" toml:"publish_queue_size"`
		ShutdownTimeout  iso.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	}

	// SchedulerConfig holds the sampling cadence.
	SchedulerConfig struct {
		SamplePeriod   iso.Duration `yaml:"sample_period" toml:"sample_period"`
		ResyncPeriod   iso.Duration `yaml:"resync_period" toml:"resync_period"`
		Warmup         iso.Duration `yaml:"warmup" toml:"warmup"`
		WarmupInterval iso.Duration `yaml:"warmup_interval" toml:"warmup_interval"`
		Tick           iso.Duration `yaml:"tick" toml:"tick"`
		ResyncMap      bool         `yaml:"resync_map" toml:"resync_map"`
	}

	// StorageConfig places the log files.
	StorageConfig struct {
		Root        string `yaml:"root" toml:"root"`
		Rotation    string `yaml:"rotation" toml:"rotation"`
		SingleName  string `yaml:"single_name" toml:"single_name"`
		FilePrefix  string `yaml:"file_prefix" toml:"file_prefix"`
		PartitionBy string `yaml:"partition_by" toml:"partition_by"`
	}

	// IngressConfig tunes validation of node readings.
	IngressConfig struct {
		StampReceivedAt bool `yaml:"stamp_received_at" toml:"stamp_received_at"`
		StrictTimestamp bool `yaml:"strict_timestamp" toml:"strict_timestamp"`
		Concurrency     uint `yaml:"concurrency" toml:"concurrency"`
	}

	// BridgeConfig enables the raw uplink.
	BridgeConfig struct {
		Topic        string `yaml:"topic" toml:"topic"`
		Node         string `yaml:"node" toml:"node"`
		TempDeviceID string `yaml:"temp_device_id" toml:"temp_device_id"`
		HumDeviceID  string `yaml:"hum_device_id" toml:"hum_device_id"`
	}

	// DedupConfig sizes the duplicate filter.
	DedupConfig struct {
		Enabled       bool    `yaml:"enabled" toml:"enabled"`
		Capacity      uint    `yaml:"capacity" toml:"capacity"`
		FalsePositive float64 `yaml:"false_positive" toml:"false_positive"`
		MaxFill       float64 `yaml:"max_fill" toml:"max_fill"`
	}

	// LogConfig sets the log level: debug, info, warn or error.
	LogConfig struct {
		Level string `yaml:"level" toml:"level"`
	}

	// MetricsConfig sets the metrics listen address; empty disables it.
	MetricsConfig struct {
		Addr string `yaml:"addr" toml:"addr"`
	}
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEWAY_"

// Load reads the file, choosing TOML for .toml files and YAML otherwise,
// then applies defaults, the process environment and validation.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.Error{
			Message:      "cannot read configuration: " + err.Error(),
			Kind:         errors.ConfigurationInvalid,
			NestedError:  err,
			PropertyName: "path",
		}
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(raw, &cfg)
	} else {
		err = yaml.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return nil, &errors.Error{
			Message:     "cannot parse configuration: " + err.Error(),
			Kind:        errors.ConfigurationInvalid,
			NestedError: err,
		}
	}

	cfg.applyDefaults()
	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.Hostname == "" {
		c.Broker.Hostname = "localhost"
	}
	if c.Broker.KeepAlive == 0 {
		c.Broker.KeepAlive = 60
	}
	if c.Broker.ConnectAttempts == 0 {
		c.Broker.ConnectAttempts = 5
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = iso.Duration(10 * time.Second)
	}
	if c.Broker.PublishQueueSize == 0 {
		c.Broker.PublishQueueSize = 1024
	}
	if c.Broker.ShutdownTimeout == 0 {
		c.Broker.ShutdownTimeout = iso.Duration(5 * time.Second)
	}

	if c.Scheduler.SamplePeriod == 0 {
		c.Scheduler.SamplePeriod = iso.Duration(10 * time.Second)
	}
	if c.Scheduler.ResyncPeriod == 0 {
		c.Scheduler.ResyncPeriod = iso.Duration(5 * time.Minute)
	}
	if c.Scheduler.Warmup == 0 {
		c.Scheduler.Warmup = iso.Duration(30 * time.Second)
	}
	if c.Scheduler.WarmupInterval == 0 {
		c.Scheduler.WarmupInterval = iso.Duration(5 * time.Second)
	}
	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = iso.Duration(100 * time.Millisecond)
	}

	if c.Storage.Root == "" {
		c.Storage.Root = "./data"
	}
	if c.Storage.Rotation == "" {
		c.Storage.Rotation = string(storage.Daily)
	}
	if c.Storage.PartitionBy == "" {
		c.Storage.PartitionBy = string(storage.PartitionReceived)
	}

	if c.Bridge.Topic != "" && c.Bridge.Node == "" && len(c.Nodes) == 1 {
		c.Bridge.Node = c.Nodes[0].ID
	}
	if c.Bridge.TempDeviceID == "" {
		c.Bridge.TempDeviceID = bridge.DefaultTempDeviceID
	}
	if c.Bridge.HumDeviceID == "" {
		c.Bridge.HumDeviceID = bridge.DefaultHumDeviceID
	}

	if c.Dedup.Capacity == 0 {
		c.Dedup.Capacity = 100_000
	}
	if c.Dedup.FalsePositive == 0 {
		c.Dedup.FalsePositive = 0.001
	}
	if c.Dedup.MaxFill == 0 {
		c.Dedup.MaxFill = 90
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ApplyEnv overrides fields from GATEWAY_* entries of environ, given in
// os.Environ form.
func (c *Config) ApplyEnv(environ []string) error {
	for _, env := range environ {
		key, val, _ := strings.Cut(env, "=")
		name, ok := strings.CutPrefix(key, EnvPrefix)
		if !ok {
			continue
		}

		var err error
		switch name {
		case "BROKER_HOSTNAME":
			c.Broker.Hostname = val
		case "BROKER_PORT":
			err = parseUint(val, 16, func(v uint64) { c.Broker.Port = uint16(v) })
		case "BROKER_KEEP_ALIVE":
			err = parseUint(val, 16, func(v uint64) { c.Broker.KeepAlive = uint16(v) })
		case "BROKER_CLIENT_ID":
			c.Broker.ClientID = val
		case "BROKER_USERNAME":
			c.Broker.Username = val
		case "BROKER_PASSWORD_FILE":
			c.Broker.PasswordFile = val
		case "BROKER_USE_TLS":
			c.Broker.UseTLS, err = strconv.ParseBool(val)
		case "BROKER_CA_FILE":
			c.Broker.CAFile = val
		case "STORAGE_ROOT":
			c.Storage.Root = val
		case "LOG_LEVEL":
			c.Log.Level = val
		case "METRICS_ADDR":
			c.Metrics.Addr = val
		default:
			continue
		}
		if err != nil {
			return &errors.Error{
				Message:       "invalid environment override",
				Kind:          errors.ConfigurationInvalid,
				NestedError:   err,
				PropertyName:  key,
				PropertyValue: val,
			}
		}
	}
	return nil
}

func parseUint(val string, bits int, set func(uint64)) error {
	v, err := strconv.ParseUint(val, 10, bits)
	if err == nil {
		set(v)
	}
	return err
}

func (c *Config) validate() error {
	if _, err := c.Registry(); err != nil {
		return err
	}
	if _, err := scheduler.New(c.SchedulerConfig(), nil, nil); err != nil {
		return err
	}
	if _, err := storage.New(c.StorageConfig()); err != nil {
		return err
	}
	if _, err := c.Connection(); err != nil {
		return &errors.Error{
			Message:      err.Error(),
			Kind:         errors.ConfigurationInvalid,
			NestedError:  err,
			PropertyName: "broker",
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Dedup.Enabled {
		if _, err := c.DedupFilter(); err != nil {
			return err
		}
	}
	if c.Bridge.Topic != "" {
		reg, _ := c.Registry()
		if _, ok := reg.Node(c.Bridge.Node); !ok {
			return &errors.Error{
				Message:       "bridge node is not registered",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "bridge.node",
				PropertyValue: c.Bridge.Node,
			}
		}
	}
	return nil
}

// Registry builds the node registry.
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.Load(c.Nodes)
}

// SchedulerConfig converts the scheduler section.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		SamplePeriod:   c.Scheduler.SamplePeriod.D(),
		ResyncPeriod:   c.Scheduler.ResyncPeriod.D(),
		Warmup:         c.Scheduler.Warmup.D(),
		WarmupInterval: c.Scheduler.WarmupInterval.D(),
		Tick:           c.Scheduler.Tick.D(),
		ResyncMap:      c.Scheduler.ResyncMap,
	}
}

// StorageConfig converts the storage section.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Root: c.Storage.Root,
		Layout: storage.Layout{
			Rotation:   storage.Rotation(c.Storage.Rotation),
			Prefix:     c.Storage.FilePrefix,
			SingleName: c.Storage.SingleName,
		},
		PartitionBy: storage.PartitionBy(c.Storage.PartitionBy),
	}
}

// PipelineConfig converts the ingress and bridge sections.
func (c *Config) PipelineConfig(filter *dedup.Filter) pipeline.Config {
	return pipeline.Config{
		Decoder: ingress.Decoder{
			StampReceivedAt: c.Ingress.StampReceivedAt,
			StrictTimestamp: c.Ingress.StrictTimestamp,
		},
		Converter: bridge.Converter{
			TempDeviceID: c.Bridge.TempDeviceID,
			HumDeviceID:  c.Bridge.HumDeviceID,
		},
		BridgeTopic: c.Bridge.Topic,
		BridgeNode:  c.Bridge.Node,
		Concurrency: c.Ingress.Concurrency,
		Dedup:       filter,
	}
}

// DedupFilter creates the duplicate filter, or nil when it is disabled.
func (c *Config) DedupFilter() (*dedup.Filter, error) {
	if !c.Dedup.Enabled {
		return nil, nil
	}
	return dedup.New(c.Dedup.Capacity, c.Dedup.FalsePositive, c.Dedup.MaxFill)
}

// Connection builds the broker connection provider.
func (c *Config) Connection() (mqtt.ConnectionProvider, error) {
	b := c.Broker
	return mqtt.BrokerConnection(b.Hostname, b.Port, b.UseTLS,
		b.CAFile, b.CertFile, b.KeyFile, b.Insecure)
}

// SessionOptions converts the broker section into session client options.
func (c *Config) SessionOptions(logger *slog.Logger) []mqtt.SessionClientOption {
	b := c.Broker
	opts := []mqtt.SessionClientOption{
		mqtt.WithKeepAlive(b.KeepAlive),
		mqtt.WithConnectionTimeout(b.ConnectTimeout.D()),
		mqtt.WithPublishQueueSize(b.PublishQueueSize),
		mqtt.WithShutdownTimeout(b.ShutdownTimeout.D()),
		mqtt.WithInitialConnectRetry(&retry.ExponentialBackoff{
			MaxAttempts: b.ConnectAttempts,
			Logger:      logger,
		}),
		mqtt.WithLogger(logger),
	}
	if b.ClientID != "" {
		opts = append(opts, mqtt.WithClientID(b.ClientID))
	}
	if b.Username != "" {
		opts = append(opts, mqtt.WithUsername(b.Username))
	}
	if b.PasswordFile != "" {
		opts = append(opts, mqtt.WithPassword(mqtt.FilePassword(b.PasswordFile)))
	}
	return opts
}

// LogLevel parses the log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, &errors.Error{
			Message:       "invalid log level",
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "log.level",
			PropertyValue: c.Log.Level,
		}
	}
	return level, nil
}
