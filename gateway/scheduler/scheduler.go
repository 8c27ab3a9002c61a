// Package scheduler drives configuration distribution and sampling through
// the Init, Warmup and Steady phases.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/metrics"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/protocol/errors"
)

type (
	// State is the scheduler phase.
	State int32

	// Config holds the scheduler periods.
	Config struct {
		// SamplePeriod is the interval between sample rounds in Steady.
		SamplePeriod time.Duration
		// ResyncPeriod is the interval between time resyncs in Steady.
		ResyncPeriod time.Duration
		// Warmup is how long the Warmup phase lasts.
		Warmup time.Duration
		// WarmupInterval is the time resync interval during Warmup.
		WarmupInterval time.Duration
		// Tick is the deadline polling granularity; it bounds timer jitter.
		Tick time.Duration
		// ResyncMap republishes the topic map along with each Steady resync,
		// since SetTime replaces it as the retained command.
		ResyncMap bool
	}

	// Distributor publishes the retained configuration commands.
	Distributor interface {
		Distribute(context.Context) error
		PublishTime(context.Context) error
	}

	// Sampler issues sample requests to all nodes.
	Sampler interface {
		IssueAll(context.Context) error
	}

	// Scheduler runs the sampling state machine. Stopped is terminal: a
	// stopped scheduler cannot be run again.
	Scheduler struct {
		cfg     Config
		dist    Distributor
		sampler Sampler

		state   atomic.Int32
		running atomic.Bool

		onTransition   func(from, to State)
		onTransitionMu sync.Mutex

		log     log.Logger
		metrics *metrics.Metrics
	}
)

const (
	Init State = iota
	Warmup
	Steady
	Stopped
)

var stateNames = [...]string{
	Init:    "init",
	Warmup:  "warmup",
	Steady:  "steady",
	Stopped: "stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// New validates the configuration and creates a scheduler in Init.
func New(
	cfg Config,
	dist Distributor,
	sampler Sampler,
	opt ...component.Option,
) (*Scheduler, error) {
	for name, d := range map[string]time.Duration{
		"SamplePeriod": cfg.SamplePeriod,
		"ResyncPeriod": cfg.ResyncPeriod,
		"Tick":         cfg.Tick,
	} {
		if d <= 0 {
			return nil, invalidPeriod(name, d)
		}
	}
	if cfg.Warmup < 0 {
		return nil, invalidPeriod("Warmup", cfg.Warmup)
	}
	if cfg.Warmup > 0 && cfg.WarmupInterval <= 0 {
		return nil, invalidPeriod("WarmupInterval", cfg.WarmupInterval)
	}

	var opts component.Options
	opts.Apply(opt)

	s := &Scheduler{
		cfg:     cfg,
		dist:    dist,
		sampler: sampler,
		log:     opts.Log("scheduler"),
		metrics: opts.Metrics,
	}
	s.metrics.State(int(Init))
	return s, nil
}

// OnTransition registers a callback for every state change.
func (s *Scheduler) OnTransition(fn func(from, to State)) {
	s.onTransitionMu.Lock()
	defer s.onTransitionMu.Unlock()
	s.onTransition = fn
}

// State returns the current phase.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run distributes the configuration, then polls its deadlines every tick
// until the context ends, at which point the scheduler is Stopped and Run
// returns nil. Publish failures are logged by the components and never end
// the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.State() == Stopped {
		return &errors.Error{
			Message: "scheduler has stopped",
			Kind:    errors.StateInvalid,
		}
	}
	if !s.running.CompareAndSwap(false, true) {
		return &errors.Error{
			Message: "scheduler is already running",
			Kind:    errors.StateInvalid,
		}
	}

	start := wallclock.Instance.Now()
	s.log.Info(ctx, "distributing configuration")
	_ = s.dist.Distribute(ctx)

	s.transition(ctx, Warmup)
	nextWarmupTime := start.Add(s.cfg.WarmupInterval)
	var nextSample, nextResync time.Time

	for {
		select {
		case <-ctx.Done():
			s.transition(context.WithoutCancel(ctx), Stopped)
			return nil
		case <-wallclock.Instance.After(s.cfg.Tick):
		}
		now := wallclock.Instance.Now()

		if s.State() == Warmup {
			if now.Sub(start) < s.cfg.Warmup {
				if !now.Before(nextWarmupTime) {
					_ = s.dist.PublishTime(ctx)
					nextWarmupTime = advance(nextWarmupTime, s.cfg.WarmupInterval, now)
				}
				continue
			}
			s.transition(ctx, Steady)
			nextSample = now
			nextResync = now.Add(s.cfg.ResyncPeriod)
		}

		if !now.Before(nextSample) {
			_ = s.sampler.IssueAll(ctx)
			nextSample = advance(nextSample, s.cfg.SamplePeriod, now)
		}
		if !now.Before(nextResync) {
			if s.cfg.ResyncMap {
				_ = s.dist.Distribute(ctx)
			} else {
				_ = s.dist.PublishTime(ctx)
			}
			nextResync = advance(nextResync, s.cfg.ResyncPeriod, now)
		}
	}
}

func (s *Scheduler) transition(ctx context.Context, to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.metrics.State(int(to))
	s.log.Info(ctx, "scheduler state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	s.onTransitionMu.Lock()
	fn := s.onTransition
	s.onTransitionMu.Unlock()
	if fn != nil {
		fn(from, to)
	}
}

// The next deadline after one fires. A loop that fell behind skips the missed
// deadlines instead of firing them in a burst.
func advance(deadline time.Time, period time.Duration, now time.Time) time.Time {
	next := deadline.Add(period)
	if !next.After(now) {
		next = now.Add(period)
	}
	return next
}

func invalidPeriod(name string, d time.Duration) error {
	return &errors.Error{
		Message:       "invalid scheduler period",
		Kind:          errors.ConfigurationInvalid,
		PropertyName:  name,
		PropertyValue: d,
	}
}
