package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"SensorPull/internal/domain/models"
	"SensorPull/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifier struct {
	calls atomic.Int32
	err   error
	last  models.AlertPayload
}

func (s *stubNotifier) Notify(_ context.Context, p models.AlertPayload) error {
	s.calls.Add(1)
	s.last = p
	return s.err
}

func samplePayload() models.AlertPayload {
	return models.AlertPayload{
		DecisionID: "d-1",
		SensorID:   "boiler-1",
		Metric:     models.MetricTemperature,
		Value:      140,
		Unit:       "celsius",
		Timestamp:  1700000000,
		Detectors:  []string{"threshold"},
		Severity:   models.SeverityCritical,
	}
}

func newMemCache(t *testing.T) *cache.MemoryCache {
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestJob_SuppressesWithinCooldown(t *testing.T) {
	n := &stubNotifier{}
	job := NewJob(newMemCache(t), n, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, samplePayload()))
	require.NoError(t, job.Handle(ctx, samplePayload()))

	assert.Equal(t, int32(1), n.calls.Load())
	assert.Equal(t, "boiler-1", n.last.SensorID)
}

func TestJob_DifferentMetricsAreIndependent(t *testing.T) {
	n := &stubNotifier{}
	job := NewJob(newMemCache(t), n, time.Minute, nil)
	ctx := context.Background()

	p := samplePayload()
	require.NoError(t, job.Handle(ctx, p))
	p.Metric = models.MetricPressure
	require.NoError(t, job.Handle(ctx, p))

	assert.Equal(t, int32(2), n.calls.Load())
}

func TestJob_FailureReleasesCooldown(t *testing.T) {
	n := &stubNotifier{err: errors.New("webhook down")}
	job := NewJob(newMemCache(t), n, time.Minute, nil)
	ctx := context.Background()

	assert.Error(t, job.Handle(ctx, samplePayload()))

	n.err = nil
	require.NoError(t, job.Handle(ctx, samplePayload()))
	assert.Equal(t, int32(2), n.calls.Load())
}

func TestJob_AcceptsQueuePayloadShapes(t *testing.T) {
	n := &stubNotifier{}
	job := NewJob(nil, n, 0, nil)

	raw, err := json.Marshal(samplePayload())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), json.RawMessage(raw)))
	assert.Equal(t, "d-1", n.last.DecisionID)

	assert.Error(t, job.Handle(context.Background(), 17))
	assert.Equal(t, models.AlertJobType, job.Type())
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got models.AlertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, 1)
	require.NoError(t, n.Notify(context.Background(), samplePayload()))
	assert.Equal(t, "boiler-1", got.SensorID)
	assert.Equal(t, models.SeverityCritical, got.Severity)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, 3)
	require.NoError(t, n.Notify(context.Background(), samplePayload()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhookNotifier_RequiresURL(t *testing.T) {
	n := NewWebhookNotifier("", time.Second, 1)
	assert.Error(t, n.Notify(context.Background(), samplePayload()))
}
