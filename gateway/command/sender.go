package command

import (
	"context"
	"log/slog"

	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/metrics"
	"github.com/eva00212/jetson/gateway/registry"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/mqtt"
)

// Sender publishes commands to each node's command topic at QoS 1.
type Sender struct {
	senders map[string]*protocol.TelemetrySender[Command]
	log     log.Logger
	metrics *metrics.Metrics
}

// NewSender creates a sender for every node in the registry.
func NewSender(
	client mqtt.Client,
	reg *registry.Registry,
	opt ...component.Option,
) (*Sender, error) {
	var opts component.Options
	opts.Apply(opt)

	s := &Sender{
		senders: map[string]*protocol.TelemetrySender[Command]{},
		log:     opts.Log("command"),
		metrics: opts.Metrics,
	}
	for _, node := range reg.Nodes() {
		ts, err := protocol.NewTelemetrySender(client, Encoding{}, node.CmdTopic,
			protocol.WithLogger(opts.Logger))
		if err != nil {
			return nil, err
		}
		s.senders[node.ID] = ts
	}
	return s, nil
}

// Send publishes the command to the node. The error is logged and counted
// before being returned.
func (s *Sender) Send(
	ctx context.Context,
	node registry.NodeConfig,
	cmd Command,
	retain bool,
) error {
	ts, ok := s.senders[node.ID]
	if !ok {
		return unknownNode(node.ID)
	}

	err := ts.Send(ctx, cmd, protocol.WithRetain(retain))
	if err != nil {
		s.metrics.CommandFailed(cmd.Action())
		s.log.Warn(ctx, err,
			slog.String("node", node.ID),
			slog.String("action", cmd.Action()))
		return err
	}

	s.metrics.CommandPublished(cmd.Action())
	s.log.Debug(ctx, "command published",
		slog.String("node", node.ID),
		slog.String("topic", node.CmdTopic),
		slog.String("action", cmd.Action()),
		slog.Bool("retain", retain))
	return nil
}
