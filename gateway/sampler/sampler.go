// Package sampler issues fire-and-forget sample requests to every node.
package sampler

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/eva00212/jetson/gateway/command"
	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/internal/log"
)

// Sampler issues Sample commands. Replies are never awaited; the request ID
// only lets an operator match a status reply to its request.
type Sampler struct {
	reg    *registry.Registry
	sender *command.Sender
	log    log.Logger
}

// New creates a sampler for the nodes of the registry.
func New(
	sender *command.Sender,
	reg *registry.Registry,
	opt ...component.Option,
) *Sampler {
	var opts component.Options
	opts.Apply(opt)
	return &Sampler{reg, sender, opts.Log("sampler")}
}

// IssueAll sends one non-retained Sample to each node, naming the node's own
// data topics as the destinations.
func (s *Sampler) IssueAll(ctx context.Context) error {
	var errs []error
	for _, node := range s.reg.Nodes() {
		cmd, err := Request(node)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.sender.Send(ctx, node, cmd, false); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Debug(ctx, "sample requested",
			slog.String("node", node.ID),
			slog.String("request_id", cmd.RequestID))
	}
	return errors.Join(errs...)
}

// Request builds a Sample for the node with a fresh UUIDv7 request ID.
func Request(node registry.NodeConfig) (command.Sample, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return command.Sample{}, err
	}

	publishTo := make([]string, len(telemetry.Kinds))
	for i, k := range telemetry.Kinds {
		publishTo[i] = node.DataTopic(k)
	}

	return command.Sample{
		Types:     slices.Clone(telemetry.Kinds),
		PublishTo: publishTo,
		ReplyTo:   node.RspTopic,
		RequestID: id.String(),
	}, nil
}
