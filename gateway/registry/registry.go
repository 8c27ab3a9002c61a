// Package registry holds the static table of sensor nodes and their topics.
package registry

import (
	"slices"

	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/errors"
)

type (
	// NodeSpec is the configured form of a node. Any topic may use the
	// {nodeId} token; empty topics take the defaults.
	NodeSpec struct {
		ID            string `yaml:"id" toml:"id"`
		CmdTopic      string `yaml:"cmd_topic" toml:"cmd_topic"`
		RspTopic      string `yaml:"rsp_topic" toml:"rsp_topic"`
		TempTopic     string `yaml:"temp_topic" toml:"temp_topic"`
		HumidityTopic string `yaml:"humidity_topic" toml:"humidity_topic"`

		// Where validated readings are republished.
		CanonicalTempTopic     string `yaml:"canonical_temp_topic" toml:"canonical_temp_topic"`
		CanonicalHumidityTopic string `yaml:"canonical_humidity_topic" toml:"canonical_humidity_topic"`
	}

	// NodeConfig is a resolved, immutable node.
	NodeConfig struct {
		ID            string
		CmdTopic      string
		RspTopic      string
		TempTopic     string
		HumidityTopic string

		CanonicalTempTopic     string
		CanonicalHumidityTopic string
	}

	// Registry is the immutable node table. It is safe for concurrent use.
	Registry struct {
		nodes  []NodeConfig
		byID   map[string]int
		byData map[string]dataRoute
	}

	dataRoute struct {
		node int
		kind telemetry.Kind
	}
)

// Default topic patterns.
const (
	DefaultCmdTopic               = "{nodeId}/cmd"
	DefaultRspTopic               = "{nodeId}/rsp"
	DefaultTempTopic              = "{nodeId}/data/temperature"
	DefaultHumidityTopic          = "{nodeId}/data/humidity"
	DefaultCanonicalTempTopic     = "canonical/{nodeId}/temperature"
	DefaultCanonicalHumidityTopic = "canonical/{nodeId}/humidity"
)

// Load resolves and validates the node specs. Every topic must be unique
// across nodes and roles; in particular a data topic may never double as a
// canonical topic, which would feed republished readings back into ingress.
func Load(specs []NodeSpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, &errors.Error{
			Message:      "no nodes configured",
			Kind:         errors.ConfigurationInvalid,
			PropertyName: "nodes",
		}
	}

	r := &Registry{
		byID:   make(map[string]int, len(specs)),
		byData: make(map[string]dataRoute, 2*len(specs)),
	}
	used := map[string]string{}

	for i, spec := range specs {
		if spec.ID == "" {
			return nil, &errors.Error{
				Message:       "node id is empty",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "id",
				PropertyValue: i,
			}
		}
		if _, ok := r.byID[spec.ID]; ok {
			return nil, &errors.Error{
				Message:       "duplicate node id",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "id",
				PropertyValue: spec.ID,
			}
		}

		node, err := resolve(spec)
		if err != nil {
			return nil, err
		}

		for _, role := range node.roles() {
			if prev, ok := used[role.topic]; ok {
				return nil, &errors.Error{
					Message:       "topic used by both " + prev + " and " + role.name,
					Kind:          errors.ConfigurationInvalid,
					PropertyName:  role.name,
					PropertyValue: role.topic,
				}
			}
			used[role.topic] = role.name
		}

		r.byID[node.ID] = len(r.nodes)
		r.byData[node.TempTopic] = dataRoute{i, telemetry.Temperature}
		r.byData[node.HumidityTopic] = dataRoute{i, telemetry.Humidity}
		r.nodes = append(r.nodes, node)
	}

	return r, nil
}

func resolve(spec NodeSpec) (NodeConfig, error) {
	tokens := map[string]string{"nodeId": spec.ID}
	node := NodeConfig{ID: spec.ID}

	for _, f := range []struct {
		name, pattern, def string
		dst                *string
	}{
		{"cmd_topic", spec.CmdTopic, DefaultCmdTopic, &node.CmdTopic},
		{"rsp_topic", spec.RspTopic, DefaultRspTopic, &node.RspTopic},
		{"temp_topic", spec.TempTopic, DefaultTempTopic, &node.TempTopic},
		{"humidity_topic", spec.HumidityTopic, DefaultHumidityTopic, &node.HumidityTopic},
		{"canonical_temp_topic", spec.CanonicalTempTopic, DefaultCanonicalTempTopic, &node.CanonicalTempTopic},
		{"canonical_humidity_topic", spec.CanonicalHumidityTopic, DefaultCanonicalHumidityTopic, &node.CanonicalHumidityTopic},
	} {
		pattern := f.pattern
		if pattern == "" {
			pattern = f.def
		}
		topic, err := protocol.ResolveTopic(f.name, pattern, tokens)
		if err != nil {
			return NodeConfig{}, err
		}
		*f.dst = topic
	}
	return node, nil
}

type role struct{ name, topic string }

// roles lists the node's topics in declaration order.
func (n NodeConfig) roles() []role {
	return []role{
		{n.ID + ".cmd_topic", n.CmdTopic},
		{n.ID + ".rsp_topic", n.RspTopic},
		{n.ID + ".temp_topic", n.TempTopic},
		{n.ID + ".humidity_topic", n.HumidityTopic},
		{n.ID + ".canonical_temp_topic", n.CanonicalTempTopic},
		{n.ID + ".canonical_humidity_topic", n.CanonicalHumidityTopic},
	}
}

// DataTopic returns the topic the node publishes readings of the kind to.
func (n NodeConfig) DataTopic(kind telemetry.Kind) string {
	switch kind {
	case telemetry.Temperature:
		return n.TempTopic
	case telemetry.Humidity:
		return n.HumidityTopic
	default:
		return ""
	}
}

// CanonicalTopic returns the topic readings of the kind are republished to.
func (n NodeConfig) CanonicalTopic(kind telemetry.Kind) string {
	switch kind {
	case telemetry.Temperature:
		return n.CanonicalTempTopic
	case telemetry.Humidity:
		return n.CanonicalHumidityTopic
	default:
		return ""
	}
}

// Nodes returns the nodes in registration order.
func (r *Registry) Nodes() []NodeConfig {
	return slices.Clone(r.nodes)
}

// Node looks a node up by ID.
func (r *Registry) Node(id string) (NodeConfig, bool) {
	i, ok := r.byID[id]
	if !ok {
		return NodeConfig{}, false
	}
	return r.nodes[i], true
}

// ByDataTopic maps an inbound data topic to its node and reading kind.
func (r *Registry) ByDataTopic(topic string) (NodeConfig, telemetry.Kind, bool) {
	route, ok := r.byData[topic]
	if !ok {
		return NodeConfig{}, "", false
	}
	return r.nodes[route.node], route.kind, true
}

// DataTopics lists every node data topic in registration order.
func (r *Registry) DataTopics() []string {
	topics := make([]string, 0, 2*len(r.nodes))
	for _, n := range r.nodes {
		topics = append(topics, n.TempTopic, n.HumidityTopic)
	}
	return topics
}
