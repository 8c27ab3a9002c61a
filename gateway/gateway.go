// Package gateway assembles the sensor gateway: it connects to the broker,
// listens on every inbound topic, and drives the sampling scheduler until
// its context ends.
package gateway

import (
	"context"
	"log/slog"

	"github.com/eva00212/jetson/gateway/command"
	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/config"
	"github.com/eva00212/jetson/gateway/distributor"
	"github.com/eva00212/jetson/gateway/pipeline"
	"github.com/eva00212/jetson/gateway/republish"
	"github.com/eva00212/jetson/gateway/sampler"
	"github.com/eva00212/jetson/gateway/scheduler"
	"github.com/eva00212/jetson/gateway/storage"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/mqtt"
)

// Gateway is a configured, not yet connected gateway.
type Gateway struct {
	client    *mqtt.SessionClient
	scheduler *scheduler.Scheduler
	pipeline  *pipeline.Pipeline
	log       log.Logger
}

// New builds every component from the configuration. It does not touch the
// network or the filesystem.
func New(cfg *config.Config, opt ...component.Option) (*Gateway, error) {
	var opts component.Options
	opts.Apply(opt)

	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	conn, err := cfg.Connection()
	if err != nil {
		return nil, err
	}
	client := mqtt.NewSessionClient(conn, cfg.SessionOptions(opts.Logger)...)

	sender, err := command.NewSender(client, reg, &opts)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(
		cfg.SchedulerConfig(),
		distributor.New(sender, reg, &opts),
		sampler.New(sender, reg, &opts),
		&opts,
	)
	if err != nil {
		return nil, err
	}

	rep, err := republish.New(client, reg, &opts)
	if err != nil {
		return nil, err
	}
	writer, err := storage.New(cfg.StorageConfig(), &opts)
	if err != nil {
		return nil, err
	}
	filter, err := cfg.DedupFilter()
	if err != nil {
		return nil, err
	}
	pipe, err := pipeline.New(client, reg, rep, writer,
		cfg.PipelineConfig(filter), &opts)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		client:    client,
		scheduler: sched,
		pipeline:  pipe,
		log:       opts.Log("gateway"),
	}
	client.RegisterConnectEventHandler(func(e *mqtt.ConnectEvent) {
		g.log.Info(context.Background(), "connected to broker",
			slog.Bool("session_present", e.SessionPresent))
	})
	client.RegisterDisconnectEventHandler(func(e *mqtt.DisconnectEvent) {
		g.log.Warn(context.Background(), e.Error)
	})
	return g, nil
}

// State reports the scheduler state.
func (g *Gateway) State() scheduler.State {
	return g.scheduler.State()
}

// Run connects, subscribes and schedules until ctx ends. Failing to connect
// within the initial attempts is returned; once connected, Run only returns
// after a graceful shutdown, letting queued publishes drain before the
// disconnect.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := g.client.Stop(); err != nil {
			g.log.Err(ctx, err)
		}
	}()

	stop, err := g.pipeline.Listen(ctx)
	if err != nil {
		return err
	}
	defer stop()

	g.log.Info(ctx, "gateway running")
	return g.scheduler.Run(ctx)
}
