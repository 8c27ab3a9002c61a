// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eva00212/jetson/internal/log"
	"github.com/iancoleman/strcase"
)

// Logger adds MQTT packet logging to the shared logger.
type Logger struct{ log.Logger }

// Packet logs the exported fields of a paho packet at debug level, with
// snake_case attribute names.
func (l Logger) Packet(ctx context.Context, name string, packet any) {
	// Reflection is expensive; skip it unless the record will be emitted.
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}

	val := realValue(reflect.ValueOf(packet))
	if missingValue(val) || val.Kind() != reflect.Struct {
		l.Debug(ctx, name)
		return
	}
	l.Debug(ctx, name, reflectAttrs(val)...)
}

func reflectAttrs(val reflect.Value) []slog.Attr {
	typ := val.Type()
	var attrs []slog.Attr
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		attrs = append(attrs, reflectAttr(
			strcase.ToSnake(f.Name),
			realValue(val.Field(i)),
		)...)
	}
	return attrs
}

func reflectAttr(name string, val reflect.Value) []slog.Attr {
	if missingValue(val) {
		return nil
	}

	switch name {
	case "properties":
		if val.Kind() == reflect.Struct {
			return reflectAttrs(val)
		}
	case "subscriptions":
		if subs, ok := val.Interface().([]paho.SubscribeOptions); ok {
			attrs := make([]slog.Attr, 0, len(subs))
			for _, s := range subs {
				attrs = append(attrs, slog.Group("subscription",
					slog.String("topic", s.Topic),
					slog.Int("qos", int(s.QoS)),
					slog.Bool("no_local", s.NoLocal),
				))
			}
			return attrs
		}
	case "qo_s":
		return []slog.Attr{slog.Any("qos", val.Interface())}
	case "payload":
		// Payloads can be large and are logged by the components that
		// understand them.
		return []slog.Attr{slog.Int("payload_size", val.Len())}
	case "password":
		return nil
	}

	switch v := val.Interface().(type) {
	case []byte:
		return []slog.Attr{slog.String(name, string(v))}
	case paho.UserProperties:
		attrs := make([]any, len(v))
		for i, p := range v {
			attrs[i] = slog.String(p.Key, p.Value)
		}
		return []slog.Attr{slog.Group(name, attrs...)}
	}

	if val.Kind() == reflect.Struct {
		as := reflectAttrs(val)
		if len(as) == 0 {
			return nil
		}
		group := make([]any, len(as))
		for i, a := range as {
			group[i] = a
		}
		return []slog.Attr{slog.Group(name, group...)}
	}
	if val.Kind() == reflect.Func || val.Kind() == reflect.Chan {
		return nil
	}
	return []slog.Attr{slog.Any(name, val.Interface())}
}

func realValue(val reflect.Value) reflect.Value {
	for val.Kind() == reflect.Pointer || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return reflect.Value{}
		}
		val = val.Elem()
	}
	return val
}

func missingValue(val reflect.Value) bool {
	return val.Kind() == reflect.Invalid || val.IsZero()
}
