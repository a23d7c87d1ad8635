package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"SensorPull/internal/domain/models"
	mid "SensorPull/internal/middleware"
	"SensorPull/internal/services/engine"
	"SensorPull/internal/services/ingest"
	"SensorPull/internal/usecase"
	"SensorPull/pkg/config"
	"SensorPull/pkg/logger"
	"SensorPull/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSink struct{}

func (nopSink) Accept(context.Context, models.Reading) error { return nil }

type nopAnomalies struct{}

func (nopAnomalies) Accept(context.Context, models.Decision) error { return nil }

type countingCloser struct{ n *int32 }

func (c countingCloser) Close() error {
	atomic.AddInt32(c.n, 1)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Server.ShutdownTimeout = time.Second
	return cfg
}

func newCollector(t *testing.T) *usecase.RealtimeCollector {
	t.Helper()
	e, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	proc := usecase.NewDecisionProcessor(e, m)
	router := usecase.NewDecisionRouter(nopSink{}, nopAnomalies{}, m, nil)
	pipe := mid.NewRealtimePipeline(proc, router, m)
	in := usecase.NewIngestor(ingest.NewValidator(logger.NewNop()), pipe, nil)
	return usecase.NewRealtimeCollector(in, pipe, nil, nil, usecase.WithIntervals(time.Hour, time.Hour))
}

func TestRunRealtime_StopsOnCancelAndClosesResources(t *testing.T) {
	var closed int32
	app := New(testConfig(t), nil,
		WithCollector(newCollector(t)),
		WithCloser("a", countingCloser{&closed}),
		WithCloser("b", countingCloser{&closed}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.RunRealtime(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunRealtime did not return after cancel")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&closed))
}

func TestRunModesRequireTheirComponent(t *testing.T) {
	app := New(testConfig(t), nil)
	assert.Error(t, app.RunRealtime(context.Background()))
	assert.Error(t, app.RunBatch(context.Background(), time.Now(), 1))
}

func TestWithKafkaConsumerIgnoresNil(t *testing.T) {
	app := New(testConfig(t), nil, WithKafkaConsumer(nil, nil), WithCloser("nil", nil))
	assert.Nil(t, app.consumer)
	assert.Empty(t, app.closers)
}
