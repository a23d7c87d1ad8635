package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	readingsTotal  *prometheus.CounterVec
	decisionsTotal *prometheus.CounterVec
	verdictsTotal  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	windowKeys     prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		readingsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorpull_readings_total",
				Help: "Total number of readings accepted by the engine",
			},
			[]string{"metric"},
		),
		decisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorpull_decisions_total",
				Help: "Total number of decisions by metric and outcome",
			},
			[]string{"metric", "anomaly"},
		),
		verdictsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorpull_detector_verdicts_total",
				Help: "Detector verdicts by detector and state",
			},
			[]string{"detector", "state"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		windowKeys: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sensorpull_window_keys",
				Help: "Number of live rolling windows",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sensorpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordReading counts a reading accepted for a metric.
func (r *Recorder) RecordReading(metric string) {
	r.readingsTotal.WithLabelValues(metric).Inc()
}

// RecordDecision counts a decision outcome.
func (r *Recorder) RecordDecision(metric string, anomaly bool) {
	r.decisionsTotal.WithLabelValues(metric, strconv.FormatBool(anomaly)).Inc()
}

// RecordVerdict counts one detector verdict.
func (r *Recorder) RecordVerdict(detector, state string) {
	r.verdictsTotal.WithLabelValues(detector, state).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordWindowKeys sets the live window gauge.
func (r *Recorder) RecordWindowKeys(n int) {
	r.windowKeys.Set(float64(n))
}
