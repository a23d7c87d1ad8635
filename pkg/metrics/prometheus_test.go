package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordReading("temperature")
	r.RecordReading("temperature")
	r.RecordDecision("temperature", true)
	r.RecordVerdict("zscore", "anomaly")
	r.RecordError("sink_clean")
	r.RecordWindowKeys(7)
	r.RecordLatency("decide", 0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.readingsTotal.WithLabelValues("temperature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisionsTotal.WithLabelValues("temperature", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.verdictsTotal.WithLabelValues("zscore", "anomaly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("sink_clean")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.windowKeys))

	n, err := testutil.GatherAndCount(reg, "sensorpull_operation_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
