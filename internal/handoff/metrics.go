package handoff

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records handoff outcomes. The service accepts any implementation;
// deployments use the prometheus recorder, tests usually the nop.
type Metrics interface {
	ObserveHandoff(outcome string, d time.Duration)
	Conflict(kind string)
	RubrosSeeded(n int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ObserveHandoff(string, time.Duration) {}
func (NopMetrics) Conflict(string)                      {}
func (NopMetrics) RubrosSeeded(int)                     {}

// PrometheusMetrics implements Metrics on a prometheus registry.
type PrometheusMetrics struct {
	handoffs  *prometheus.CounterVec
	duration  prometheus.Histogram
	conflicts *prometheus.CounterVec
	rubros    prometheus.Counter
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the handoff metrics with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finzcore_handoffs_total",
			Help: "Handoff invocations by terminal outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "finzcore_handoff_duration_seconds",
			Help:    "End-to-end handoff duration.",
			Buckets: prometheus.DefBuckets,
		}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finzcore_handoff_conflicts_total",
			Help: "Handoff conflicts by kind.",
		}, []string{"kind"}),
		rubros: factory.NewCounter(prometheus.CounterOpts{
			Name: "finzcore_rubros_seeded_total",
			Help: "Line items seeded by the materializer.",
		}),
	}
}

func (m *PrometheusMetrics) ObserveHandoff(outcome string, d time.Duration) {
	m.handoffs.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *PrometheusMetrics) Conflict(kind string) {
	m.conflicts.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) RubrosSeeded(n int) {
	m.rubros.Add(float64(n))
}
