// Command sensornode simulates a field node: it follows the gateway's
// commands and answers sample requests with jittered readings. Broker
// settings come from the MQTT_* environment variables when
// MQTT_BROKER_HOSTNAME is set, and from the flags otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eva00212/jetson/gateway/node"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/mqtt"
	"github.com/eva00212/jetson/mqtt/retry"
	"github.com/lmittmann/tint"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sensornode: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("sensornode", flag.ExitOnError)
	host := fs.String("host", "localhost", "Broker hostname")
	port := fs.Uint("port", 1883, "Broker port")
	id := fs.String("id", "temp001", "Node ID")
	device := fs.String("device", "", "Device ID carried by readings (defaults to the node ID)")
	temp := fs.Float64("temp", 23.5, "Base temperature in C")
	hum := fs.Float64("hum", 45, "Base relative humidity in %")
	jitter := fs.Float64("jitter", 0.5, "Maximum deviation from the base values")
	report := fs.Duration("report", 0, "Publish unsolicited readings at this interval (0 disables)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port > 0xFFFF {
		return fmt.Errorf("invalid port %d", *port)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	reg, err := registry.Load([]registry.NodeSpec{{ID: *id}})
	if err != nil {
		return err
	}
	cfg, _ := reg.Node(*id)

	client, err := newClient(*host, uint16(*port), logger)
	if err != nil {
		return err
	}

	n, err := node.New(client, cfg, node.Noisy{
		Base: map[telemetry.Kind]float64{
			telemetry.Temperature: *temp,
			telemetry.Humidity:    *hum,
		},
		Jitter: *jitter,
	}, *device, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Stop(); err != nil {
			logger.Warn("disconnect", slog.Any("error", err))
		}
	}()

	done, err := n.Listen(ctx)
	if err != nil {
		return err
	}
	defer done()

	logger.Info("node running",
		slog.String("node", cfg.ID),
		slog.String("cmd_topic", cfg.CmdTopic),
	)

	if *report <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(*report)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := n.Report(ctx); err != nil {
				logger.Warn("report failed", slog.Any("error", err))
			}
		}
	}
}

func newClient(host string, port uint16, logger *slog.Logger) (*mqtt.SessionClient, error) {
	opts := []mqtt.SessionClientOption{
		mqtt.WithLogger(logger),
		mqtt.WithInitialConnectRetry(&retry.ExponentialBackoff{
			MaxAttempts: 5,
			Logger:      logger,
		}),
	}

	if os.Getenv("MQTT_BROKER_HOSTNAME") != "" {
		return mqtt.NewSessionClientFromEnv(opts...)
	}
	return mqtt.NewSessionClient(mqtt.TCPConnection(host, port), opts...), nil
}
