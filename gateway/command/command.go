// Package command implements the node command wire format: a JSON object
// discriminated by its "action" field.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/errors"
)

type (
	// Command is one of SetMap, SetTime or Sample.
	Command interface {
		Action() string
		isCommand()
	}

	// SetMap tells a node where to publish its readings.
	SetMap struct {
		TempTopic string
		HumTopic  string
	}

	// SetTime sets the node clock, in Unix seconds.
	SetTime struct {
		EpochUTC int64
	}

	// Sample asks a node to read its sensors once.
	Sample struct {
		Types     []telemetry.Kind
		PublishTo []string
		ReplyTo   string
		RequestID string
	}

	// Encoding adapts Parse and Marshal to the protocol layer. It ignores
	// the content type, since nodes do not always set one.
	Encoding struct{}
)

// Actions.
const (
	ActionSetMap  = "setmap"
	ActionSetTime = "settime"
	ActionSample  = "sample"
)

type (
	envelope struct {
		Action *string `json:"action"`
	}

	setMapWire struct {
		Action string      `json:"action"`
		Map    *topicsWire `json:"map"`
	}

	topicsWire struct {
		Temp *string `json:"temp"`
		Hum  *string `json:"hum"`
	}

	setTimeWire struct {
		Action string `json:"action"`
		Epoch  *int64 `json:"epoch"`
	}

	sampleWire struct {
		Action    string           `json:"action"`
		Types     []telemetry.Kind `json:"types"`
		PublishTo []string         `json:"publish_to"`
		ReplyTo   *string          `json:"reply_to"`
		RequestID *string          `json:"request_id"`
	}
)

func (SetMap) Action() string  { return ActionSetMap }
func (SetTime) Action() string { return ActionSetTime }
func (Sample) Action() string  { return ActionSample }

func (SetMap) isCommand()  {}
func (SetTime) isCommand() {}
func (Sample) isCommand()  {}

// Parse reads the action discriminator, then decodes the matching variant
// strictly: unknown fields, missing fields and unknown actions are all
// rejected.
func Parse(payload []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, invalid("malformed command", "", err)
	}
	if env.Action == nil {
		return nil, invalid("missing command action", "action", nil)
	}

	switch *env.Action {
	case ActionSetMap:
		var w setMapWire
		if err := strict(payload, &w); err != nil {
			return nil, err
		}
		switch {
		case w.Map == nil:
			return nil, invalid("missing field", "map", nil)
		case w.Map.Temp == nil || *w.Map.Temp == "":
			return nil, invalid("missing field", "map.temp", nil)
		case w.Map.Hum == nil || *w.Map.Hum == "":
			return nil, invalid("missing field", "map.hum", nil)
		}
		return SetMap{TempTopic: *w.Map.Temp, HumTopic: *w.Map.Hum}, nil

	case ActionSetTime:
		var w setTimeWire
		if err := strict(payload, &w); err != nil {
			return nil, err
		}
		if w.Epoch == nil {
			return nil, invalid("missing field", "epoch", nil)
		}
		return SetTime{EpochUTC: *w.Epoch}, nil

	case ActionSample:
		var w sampleWire
		if err := strict(payload, &w); err != nil {
			return nil, err
		}
		switch {
		case len(w.Types) == 0:
			return nil, invalid("missing field", "types", nil)
		case len(w.PublishTo) != len(w.Types):
			return nil, invalid("publish_to must name one topic per type",
				"publish_to", nil)
		case w.ReplyTo == nil:
			return nil, invalid("missing field", "reply_to", nil)
		case w.RequestID == nil:
			return nil, invalid("missing field", "request_id", nil)
		}
		for _, k := range w.Types {
			if !k.Valid() {
				return nil, &errors.Error{
					Message:       "unsupported reading type",
					Kind:          errors.PayloadInvalid,
					PropertyName:  "types",
					PropertyValue: string(k),
				}
			}
		}
		return Sample{
			Types:     w.Types,
			PublishTo: w.PublishTo,
			ReplyTo:   *w.ReplyTo,
			RequestID: *w.RequestID,
		}, nil

	default:
		return nil, &errors.Error{
			Message:       "unknown command action",
			Kind:          errors.PayloadInvalid,
			PropertyName:  "action",
			PropertyValue: *env.Action,
		}
	}
}

// Marshal renders the command in its wire form. Equal commands always
// marshal to equal bytes.
func Marshal(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case SetMap:
		return json.Marshal(setMapWire{
			Action: ActionSetMap,
			Map:    &topicsWire{Temp: &c.TempTopic, Hum: &c.HumTopic},
		})
	case SetTime:
		return json.Marshal(setTimeWire{
			Action: ActionSetTime,
			Epoch:  &c.EpochUTC,
		})
	case Sample:
		return json.Marshal(sampleWire{
			Action:    ActionSample,
			Types:     c.Types,
			PublishTo: c.PublishTo,
			ReplyTo:   &c.ReplyTo,
			RequestID: &c.RequestID,
		})
	default:
		return nil, &errors.Error{
			Message:       "unknown command type",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "command",
			PropertyValue: fmt.Sprintf("%T", cmd),
		}
	}
}

// Serialize marshals the command as JSON.
func (Encoding) Serialize(cmd Command) (*protocol.Data, error) {
	payload, err := Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return &protocol.Data{
		Payload:       payload,
		ContentType:   "application/json",
		PayloadFormat: 1,
	}, nil
}

// Deserialize parses the command.
func (Encoding) Deserialize(data *protocol.Data) (Command, error) {
	return Parse(data.Payload)
}

func unknownNode(id string) error {
	return &errors.Error{
		Message:       "unknown node",
		Kind:          errors.ArgumentInvalid,
		PropertyName:  "node",
		PropertyValue: id,
	}
}

func strict(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("malformed command", "", err)
	}
	if dec.More() {
		return invalid("trailing data after command", "", nil)
	}
	return nil
}

func invalid(msg, field string, err error) error {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &errors.Error{
		Message:      msg,
		Kind:         errors.PayloadInvalid,
		PropertyName: field,
		NestedError:  err,
	}
}
