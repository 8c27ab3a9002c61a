// Package metrics holds the gateway's Prometheus instruments. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Reading sources.
const (
	SourceDirect = "direct"
	SourceBridge = "bridge"
)

// Metrics contains every gateway instrument and the registry serving them.
type Metrics struct {
	CommandsPublished *prometheus.CounterVec
	CommandErrors     *prometheus.CounterVec

	ReadingsReceived    *prometheus.CounterVec
	ReadingsRejected    *prometheus.CounterVec
	ReadingsPersisted   prometheus.Counter
	PersistErrors       prometheus.Counter
	ReadingsRepublished prometheus.Counter
	RepublishErrors     prometheus.Counter
	DuplicatesDropped   prometheus.Counter

	SchedulerState prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the instruments and registers them, along with the Go runtime
// and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		CommandsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "published_total",
			Help:      "Commands handed to the MQTT client, by action.",
		}, []string{"action"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "errors_total",
			Help:      "Commands that could not be published, by action.",
		}, []string{"action"}),

		ReadingsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readings",
			Name:      "received_total",
			Help:      "Validated readings, by source (direct or bridge).",
		}, []string{"source"}),
		ReadingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readings",
			Name:      "rejected_total",
			Help:      "Inbound messages dropped before persistence, by reason.",
		}, []string{"reason"}),
		ReadingsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readings",
			Name:      "persisted_total",
			Help:      "Readings appended to the daily log.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readings",
			Name:      "persist_errors_total",
			Help:      "Readings lost to filesystem errors.",
		}),
		ReadingsRepublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readings",
			Name:      "republished_total",
			Help:      "Readings republished on canonical topics.",
		}),
		RepublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readings",
			Name:      "republish_errors_total",
			Help:      "Readings that could not be republished.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readings",
			Name:      "duplicates_dropped_total",
			Help:      "Redelivered readings suppressed by the duplicate filter.",
		}),

		SchedulerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "state",
			Help:      "Scheduler state (0=init, 1=warmup, 2=steady, 3=stopped).",
		}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CommandsPublished,
		m.CommandErrors,
		m.ReadingsReceived,
		m.ReadingsRejected,
		m.ReadingsPersisted,
		m.PersistErrors,
		m.ReadingsRepublished,
		m.RepublishErrors,
		m.DuplicatesDropped,
		m.SchedulerState,
	)
	return m
}

// Handler serves the registry at /metrics and a liveness check at /health.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// CommandPublished counts a command handed to the client.
func (m *Metrics) CommandPublished(action string) {
	if m != nil {
		m.CommandsPublished.WithLabelValues(action).Inc()
	}
}

// CommandFailed counts a command the client refused.
func (m *Metrics) CommandFailed(action string) {
	if m != nil {
		m.CommandErrors.WithLabelValues(action).Inc()
	}
}

// Received counts a validated reading.
func (m *Metrics) Received(source string) {
	if m != nil {
		m.ReadingsReceived.WithLabelValues(source).Inc()
	}
}

// Rejected counts a dropped inbound message.
func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.ReadingsRejected.WithLabelValues(reason).Inc()
	}
}

// Persisted counts a persistence outcome.
func (m *Metrics) Persisted(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistErrors.Inc()
		return
	}
	m.ReadingsPersisted.Inc()
}

// Republished counts a republish outcome.
func (m *Metrics) Republished(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RepublishErrors.Inc()
		return
	}
	m.ReadingsRepublished.Inc()
}

// Duplicate counts a suppressed redelivery.
func (m *Metrics) Duplicate() {
	if m != nil {
		m.DuplicatesDropped.Inc()
	}
}

// State records the scheduler state ordinal.
func (m *Metrics) State(state int) {
	if m != nil {
		m.SchedulerState.Set(float64(state))
	}
}
