// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package log

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/eva00212/jetson/internal/wallclock"
)

type (
	// Logger wraps an optional slog.Logger. The zero value discards
	// everything, so components can log unconditionally.
	Logger struct{ logger *slog.Logger }

	// Attrs is implemented by values (usually errors) that carry their own
	// structured attributes.
	Attrs interface {
		Attrs() []slog.Attr
	}
)

// Wrap the first non-nil slog logger.
func Wrap(loggers ...*slog.Logger) Logger {
	for _, l := range loggers {
		if l != nil {
			return Logger{l}
		}
	}
	return Logger{}
}

// With returns a logger with the given attributes attached.
func (l Logger) With(attrs ...any) Logger {
	if l.logger == nil {
		return l
	}
	return Logger{l.logger.With(attrs...)}
}

// Enabled reports whether the level would be emitted.
func (l Logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.logger != nil && l.logger.Enabled(ctx, level)
}

// Log emits a record at an arbitrary level. All helpers attribute the record
// to their caller.
func (l Logger) Log(
	ctx context.Context,
	level slog.Level,
	msg string,
	attrs ...slog.Attr,
) {
	l.log(ctx, 3, level, msg, attrs...)
}

// Debug logs at debug level.
func (l Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, 3, slog.LevelDebug, msg, attrs...)
}

// Info logs at info level.
func (l Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, 3, slog.LevelInfo, msg, attrs...)
}

// Warn logs an error at warning level, expanding its attributes if present.
func (l Logger) Warn(ctx context.Context, err error, attrs ...slog.Attr) {
	l.logErr(ctx, slog.LevelWarn, err, attrs...)
}

// Err logs an error at error level, expanding its attributes if present.
func (l Logger) Err(ctx context.Context, err error, attrs ...slog.Attr) {
	l.logErr(ctx, slog.LevelError, err, attrs...)
}

func (l Logger) logErr(
	ctx context.Context,
	level slog.Level,
	err error,
	attrs ...slog.Attr,
) {
	if err == nil {
		return
	}
	if a, ok := err.(Attrs); ok {
		attrs = append(a.Attrs(), attrs...)
	}
	l.log(ctx, 4, level, err.Error(), attrs...)
}

func (l Logger) log(
	ctx context.Context,
	skip int,
	level slog.Level,
	msg string,
	attrs ...slog.Attr,
) {
	if !l.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])

	r := slog.NewRecord(wallclock.Instance.Now(), level, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.logger.Handler().Handle(ctx, r)
}
