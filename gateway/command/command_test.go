package command_test

import (
	"testing"

	"github.com/eva00212/jetson/gateway/command"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/protocol"
	"github.com/eva00212/jetson/protocol/errors"
	"github.com/stretchr/testify/require"
)

func TestMarshalWireShapes(t *testing.T) {
	b, err := command.Marshal(command.SetMap{TempTopic: "n/t", HumTopic: "n/h"})
	require.NoError(t, err)
	require.Equal(t, `{"action":"setmap","map":{"temp":"n/t","hum":"n/h"}}`, string(b))

	b, err = command.Marshal(command.SetTime{EpochUTC: 1704067200})
	require.NoError(t, err)
	require.Equal(t, `{"action":"settime","epoch":1704067200}`, string(b))

	b, err = command.Marshal(command.Sample{
		Types:     []telemetry.Kind{telemetry.Temperature, telemetry.Humidity},
		PublishTo: []string{"n/t", "n/h"},
		ReplyTo:   "n/rsp",
		RequestID: "r1",
	})
	require.NoError(t, err)
	require.Equal(t,
		`{"action":"sample","types":["temperature","humidity"],`+
			`"publish_to":["n/t","n/h"],"reply_to":"n/rsp","request_id":"r1"}`,
		string(b))
}

func TestParseRoundTrip(t *testing.T) {
	for _, cmd := range []command.Command{
		command.SetMap{TempTopic: "a/t", HumTopic: "a/h"},
		command.SetTime{EpochUTC: 42},
		command.Sample{
			Types:     []telemetry.Kind{telemetry.Humidity},
			PublishTo: []string{"a/h"},
			ReplyTo:   "a/rsp",
			RequestID: "x",
		},
	} {
		b, err := command.Marshal(cmd)
		require.NoError(t, err)
		got, err := command.Parse(b)
		require.NoError(t, err)
		require.Equal(t, cmd, got)
		require.Equal(t, cmd.Action(), got.Action())
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]struct {
		payload string
		field   string
	}{
		"not json":        {`{`, ""},
		"no action":       {`{"epoch":1}`, "action"},
		"unknown action":  {`{"action":"reboot"}`, "action"},
		"unknown field":   {`{"action":"settime","epoch":1,"tz":"x"}`, ""},
		"nested unknown":  {`{"action":"setmap","map":{"temp":"t","hum":"h","p":"p"}}`, ""},
		"missing epoch":   {`{"action":"settime"}`, "epoch"},
		"string epoch":    {`{"action":"settime","epoch":"1"}`, ""},
		"missing map":     {`{"action":"setmap"}`, "map"},
		"missing hum":     {`{"action":"setmap","map":{"temp":"t"}}`, "map.hum"},
		"missing types":   {`{"action":"sample","publish_to":[],"reply_to":"r","request_id":"i"}`, "types"},
		"bad type":        {`{"action":"sample","types":["pressure"],"publish_to":["p"],"reply_to":"r","request_id":"i"}`, "types"},
		"unpaired topics": {`{"action":"sample","types":["humidity"],"publish_to":[],"reply_to":"r","request_id":"i"}`, "publish_to"},
		"no reply_to":     {`{"action":"sample","types":["humidity"],"publish_to":["h"],"request_id":"i"}`, "reply_to"},
		"no request_id":   {`{"action":"sample","types":["humidity"],"publish_to":["h"],"reply_to":"r"}`, "request_id"},
		"trailing":        {`{"action":"settime","epoch":1}{}`, ""},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := command.Parse([]byte(c.payload))
			require.Error(t, err)
			require.True(t, errors.Is(err, errors.PayloadInvalid))
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			require.Equal(t, c.field, e.PropertyName)
		})
	}
}

func TestEncoding(t *testing.T) {
	var enc protocol.Encoding[command.Command] = command.Encoding{}

	data, err := enc.Serialize(command.SetTime{EpochUTC: 7})
	require.NoError(t, err)
	require.Equal(t, "application/json", data.ContentType)

	data.ContentType = "text/plain"
	cmd, err := enc.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, command.SetTime{EpochUTC: 7}, cmd)

	_, err = command.Marshal(nil)
	require.True(t, errors.Is(err, errors.ArgumentInvalid))
}
