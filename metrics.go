package jsbridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK              = "ok"
	resultScriptException = "script_exception"
	resultEngineError     = "engine_error"
	resultMarshalError    = "marshal_error"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Evals             *prometheus.CounterVec
	EvalDuration      prometheus.Histogram
	ContextsCreated   prometheus.Counter
	ContextRotations  prometheus.Counter
	PreambleFragments prometheus.Gauge
	LiveHandles       prometheus.GaugeFunc
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_evals_total",
				Help: "Total number of evaluations by result",
			},
			[]string{"result"},
		),
		EvalDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsbridge_eval_duration_seconds",
				Help:    "Evaluation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		ContextsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jsbridge_contexts_created_total",
				Help: "Total number of execution contexts created",
			},
		),
		ContextRotations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jsbridge_context_rotations_total",
				Help: "Total number of context rotations",
			},
		),
		PreambleFragments: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbridge_preamble_fragments",
				Help: "Number of preamble fragments of the most recently changed runtime",
			},
		),
		LiveHandles: f.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "jsbridge_live_handles",
				Help: "Number of engine handles initialized and not yet disposed",
			},
			func() float64 { return float64(LiveHandles()) },
		),
	}
}

func (m *Metrics) evalDone(result string, start time.Time) {
	if m == nil {
		return
	}
	m.Evals.WithLabelValues(result).Inc()
	m.EvalDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) contextCreated() {
	if m == nil {
		return
	}
	m.ContextsCreated.Inc()
}

func (m *Metrics) contextRotated() {
	if m == nil {
		return
	}
	m.ContextRotations.Inc()
}

func (m *Metrics) preambleChanged(n int) {
	if m == nil {
		return
	}
	m.PreambleFragments.Set(float64(n))
}
