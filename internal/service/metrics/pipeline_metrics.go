package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sensorpull",
			Subsystem: "pipeline",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of real-time collection cycles and batch partitions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"mode"},
	)

	CycleRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensorpull",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Records handled per mode and outcome (clean, anomaly, invalid)",
		},
		[]string{"mode", "outcome"},
	)

	SinkFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensorpull",
			Subsystem: "pipeline",
			Name:      "sink_flushes_total",
			Help:      "Clean sink flushes by result",
		},
		[]string{"result"},
	)
)

// Register adds the pipeline collectors to reg once per process. A nil reg
// uses the default registerer.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(CycleDuration, CycleRecords, SinkFlushes)
	})
}

// CycleSummary is what one collection cycle or batch partition produced.
type CycleSummary struct {
	Mode      string
	Processed int
	Clean     int
	Anomalies int
	Invalid   int
	Duration  time.Duration
}

// Observe records a finished cycle.
func Observe(s CycleSummary) {
	CycleDuration.WithLabelValues(s.Mode).Observe(s.Duration.Seconds())
	CycleRecords.WithLabelValues(s.Mode, "clean").Add(float64(s.Clean))
	CycleRecords.WithLabelValues(s.Mode, "anomaly").Add(float64(s.Anomalies))
	CycleRecords.WithLabelValues(s.Mode, "invalid").Add(float64(s.Invalid))
}

// ObserveFlush records the outcome of a clean sink flush.
func ObserveFlush(err error) {
	if err != nil {
		SinkFlushes.WithLabelValues("error").Inc()
		return
	}
	SinkFlushes.WithLabelValues("ok").Inc()
}
