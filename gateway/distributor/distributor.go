// Package distributor publishes the retained configuration commands that
// every node picks up on (re)connect.
package distributor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eva00212/jetson/gateway/command"
	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/wallclock"
)

// Distributor publishes SetMap and SetTime to every node, retained.
type Distributor struct {
	reg    *registry.Registry
	sender *command.Sender
	log    log.Logger
}

// New creates a distributor for the nodes of the registry.
func New(
	sender *command.Sender,
	reg *registry.Registry,
	opt ...component.Option,
) *Distributor {
	var opts component.Options
	opts.Apply(opt)
	return &Distributor{reg, sender, opts.Log("distributor")}
}

// PublishMap tells each node which data topics to publish to. The command
// only depends on the registry, so repeating it is a no-op for the node.
func (d *Distributor) PublishMap(ctx context.Context) error {
	var errs []error
	for _, node := range d.reg.Nodes() {
		cmd := command.SetMap{
			TempTopic: node.TempTopic,
			HumTopic:  node.HumidityTopic,
		}
		if err := d.sender.Send(ctx, node, cmd, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishTime sends each node the current Unix time, read at the moment of
// each publish.
func (d *Distributor) PublishTime(ctx context.Context) error {
	var errs []error
	for _, node := range d.reg.Nodes() {
		cmd := command.SetTime{EpochUTC: wallclock.Instance.Now().Unix()}
		if err := d.sender.Send(ctx, node, cmd, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Distribute publishes the map, then the time. A failure for one node never
// stops the others.
func (d *Distributor) Distribute(ctx context.Context) error {
	err := errors.Join(d.PublishMap(ctx), d.PublishTime(ctx))
	if err == nil {
		d.log.Info(ctx, "configuration distributed",
			slog.Int("nodes", len(d.reg.Nodes())))
	}
	return err
}
