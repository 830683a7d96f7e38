package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pagewarden/pagewarden/internal/shared/types"
)

// Metrics holds the Prometheus view of the mediator. Construct once per
// process; promauto registers against the default registry.
type Metrics struct {
	AssessmentsTotal   *prometheus.CounterVec
	AssessmentDuration prometheus.Histogram
	LayerDuration      *prometheus.HistogramVec
	SignalsTotal       *prometheus.CounterVec
	LLMInvocations     *prometheus.CounterVec

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates and registers the metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		AssessmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewarden_assessments_total",
				Help: "Total page assessments by verdict",
			},
			[]string{"verdict"},
		),
		AssessmentDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagewarden_assessment_duration_seconds",
				Help:    "End-to-end assessment duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		LayerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagewarden_layer_duration_seconds",
				Help:    "Per-layer analysis duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"layer", "status"},
		),
		SignalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewarden_signals_total",
				Help: "Threat signals emitted by layer and kind",
			},
			[]string{"layer", "kind"},
		),
		LLMInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewarden_llm_invocations_total",
				Help: "Reasoner invocations by outcome status",
			},
			[]string{"status"},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewarden_http_requests_total",
				Help: "Total HTTP requests to the facade",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagewarden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagewarden_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}

	go m.updateUptime()
	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// ObserveAssessment records an assessment's verdict, timings, and signals.
func (m *Metrics) ObserveAssessment(a types.RiskAssessment) {
	m.AssessmentsTotal.WithLabelValues(string(a.Verdict)).Inc()
	m.AssessmentDuration.Observe(float64(a.TotalElapsedMS) / 1000)
	for _, r := range a.LayerReports {
		m.LayerDuration.WithLabelValues(string(r.LayerName), string(r.Status)).
			Observe(float64(r.ElapsedMS) / 1000)
		if r.LayerName == types.LayerLLM {
			m.LLMInvocations.WithLabelValues(string(r.Status)).Inc()
		}
		for _, s := range r.Signals {
			m.SignalsTotal.WithLabelValues(string(r.LayerName), string(s.Kind)).Inc()
		}
	}
}

// RecordHTTPRequest records one facade request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
