// Command gateway runs the sensor gateway against an MQTT broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eva00212/jetson/gateway"
	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/config"
	"github.com/eva00212/jetson/gateway/metrics"
	"github.com/lmittmann/tint"
)

const defaultConfig = "./gateway.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: gateway <command> [flags]

commands:
  run       connect to the broker and run until interrupted
  validate  load and check a configuration file`)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "Path to gateway configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(ctx, logger, cfg.Metrics.Addr, m)
		defer shutdown()
	}

	gw, err := gateway.New(cfg,
		component.WithLogger(logger),
		component.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	logger.Info("starting gateway",
		slog.String("config", *cfgPath),
		slog.String("broker", fmt.Sprintf("%s:%d", cfg.Broker.Hostname, cfg.Broker.Port)),
		slog.Int("nodes", len(cfg.Nodes)),
	)
	if err := gw.Run(ctx); err != nil {
		if ctx.Err() != nil {
			// Interrupted while still connecting.
			return nil
		}
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if _, err := gateway.New(cfg); err != nil {
		return err
	}
	fmt.Printf("config %s looks good (%d nodes)\n", *cfgPath, len(cfg.Nodes))
	return nil
}

func serveMetrics(
	ctx context.Context,
	logger *slog.Logger,
	addr string,
	m *metrics.Metrics,
) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
}
