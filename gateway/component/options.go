// Package component holds the options shared by every gateway component.
package component

import (
	"log/slog"

	"github.com/eva00212/jetson/gateway/metrics"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/options"
)

type (
	// Option represents a single component option.
	Option interface{ component(*Options) }

	// Options are the resolved component options.
	Options struct {
		Logger  *slog.Logger
		Metrics *metrics.Metrics
	}

	withLogger  struct{ *slog.Logger }
	withMetrics struct{ *metrics.Metrics }
)

// WithLogger sets the logger of the component.
func WithLogger(l *slog.Logger) Option {
	return withLogger{l}
}

// WithMetrics sets the metrics the component records to.
func WithMetrics(m *metrics.Metrics) Option {
	return withMetrics{m}
}

func (o withLogger) component(opt *Options) {
	opt.Logger = o.Logger
}

func (o withMetrics) component(opt *Options) {
	opt.Metrics = o.Metrics
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.component(o)
	}
}

func (o *Options) component(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

// Log returns the wrapped logger tagged with the component name.
func (o *Options) Log(name string) log.Logger {
	return log.Wrap(o.Logger).With(slog.String("component", name))
}
