// Package metrics exposes Prometheus counters for mask, unmask and proxy
// traffic. Each Metrics owns its registry so tests and embedded uses do not
// collide on the global one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

const namespace = "ragguard"

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Entities        *prometheus.CounterVec
	Restored        prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Operations handled, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Operation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		Entities: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_masked_total",
				Help:      "Entities replaced with tokens, by label",
			},
			[]string{"label"},
		),
		Restored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmask_calls_total",
			Help:      "Unmask calls that restored at least one token",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records one operation that started at start and ended with err.
// A nil Metrics records nothing.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, Outcome(err)).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// CountEntities adds the applied entities to the per-label counter.
func (m *Metrics) CountEntities(entities []sanitize.Entity) {
	if m == nil {
		return
	}
	for _, e := range entities {
		m.Entities.WithLabelValues(e.Label).Inc()
	}
}

// CountRestore records an unmask call that changed its input.
func (m *Metrics) CountRestore() {
	if m == nil {
		return
	}
	m.Restored.Inc()
}

// Outcome maps err to the outcome label value.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := sanitize.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
