package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"SensorPull/internal/domain/models"
	mid "SensorPull/internal/middleware"
	repo "SensorPull/internal/repository"
	"SensorPull/internal/services/engine"
	"SensorPull/internal/services/ingest"
	pkgkafka "SensorPull/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeMetrics struct {
	mu        sync.Mutex
	readings  int
	anomalies int
	errors    map[string]int
}

func (m *fakeMetrics) RecordReading(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings++
}

func (m *fakeMetrics) RecordDecision(_ string, anomaly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if anomaly {
		m.anomalies++
	}
}

func (m *fakeMetrics) RecordVerdict(string, string)  {}
func (m *fakeMetrics) RecordLatency(string, float64) {}
func (m *fakeMetrics) RecordWindowKeys(int)          {}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[kind]++
}

type cleanRecorder struct {
	mu       sync.Mutex
	err      error
	readings []models.Reading
	flushes  []time.Time
}

func (c *cleanRecorder) Accept(_ context.Context, r models.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.readings = append(c.readings, r)
	return nil
}

func (c *cleanRecorder) Flush(_ context.Context, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes = append(c.flushes, at)
	return nil
}

type anomalyRecorder struct {
	mu        sync.Mutex
	decisions []models.Decision
}

func (a *anomalyRecorder) Accept(_ context.Context, d models.Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisions = append(a.decisions, d)
	return nil
}

type memStore struct {
	byDay map[time.Time][]models.Reading
	err   error
}

func (s *memStore) StoreReadings(context.Context, []models.Reading) error { return nil }
func (s *memStore) StoreDecision(context.Context, models.Decision) error  { return nil }
func (s *memStore) Health(context.Context) error                          { return nil }
func (s *memStore) Close() error                                          { return nil }

func (s *memStore) LoadPartition(_ context.Context, day time.Time) ([]models.Reading, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byDay[day], nil
}

type staticSource struct {
	records []models.RawRecord
	err     error
}

func (s *staticSource) Fetch(context.Context) ([]models.RawRecord, error) {
	return s.records, s.err
}

func newProcessor(t *testing.T, m *fakeMetrics) *DecisionProcessor {
	t.Helper()
	e, err := engine.New(engine.DefaultConfig(), engine.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return NewDecisionProcessor(e, m)
}

// syntheticDay produces smooth per-key signals with a few injected faults,
// sorted by timestamp like a stored partition.
func syntheticDay(day time.Time) []models.Reading {
	var out []models.Reading
	sensors := []string{"boiler-1", "boiler-2", "pump-7"}
	for si, s := range sensors {
		for i := 0; i < 240; i++ {
			ts := day.Add(time.Duration(i) * time.Minute)
			temp := 40 + 2*math.Sin(float64(i)/12+float64(si)) + 0.1*float64((i*7+si)%5)
			hum := 55 + math.Cos(float64(i)/20) + 0.2*float64((i*3+si)%4)
			if i == 120+si*10 {
				temp = 95
			}
			if i == 200 {
				hum = 90
			}
			out = append(out,
				models.Reading{SensorID: s, Metric: models.MetricTemperature, Value: temp, Timestamp: ts, Unit: "celsius"},
				models.Reading{SensorID: s, Metric: models.MetricHumidity, Value: hum, Timestamp: ts, Unit: "percent"},
			)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func f64(v float64) *float64 { return &v }

func TestDecisionRouter_RoutesEachDecisionOnce(t *testing.T) {
	clean := &cleanRecorder{}
	anom := &anomalyRecorder{}
	r := NewDecisionRouter(clean, anom, &fakeMetrics{}, nil)

	ctx := context.Background()
	normal := models.Decision{ID: "n", Reading: models.Reading{SensorID: "a", Metric: models.MetricTemperature, Value: 20}}
	bad := models.Decision{ID: "x", IsAnomaly: true, Reading: models.Reading{SensorID: "a", Metric: models.MetricTemperature, Value: 200}}

	require.NoError(t, r.Route(ctx, normal))
	require.NoError(t, r.Route(ctx, bad))

	require.Len(t, clean.readings, 1)
	assert.Equal(t, 20.0, clean.readings[0].Value)
	require.Len(t, anom.decisions, 1)
	assert.Equal(t, "x", anom.decisions[0].ID)
}

func TestDecisionRouter_WrapsSinkErrors(t *testing.T) {
	m := &fakeMetrics{}
	r := NewDecisionRouter(&cleanRecorder{err: errors.New("disk full")}, &anomalyRecorder{}, m, nil)

	err := r.Route(context.Background(), models.Decision{ID: "n"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clean sink")
	assert.Equal(t, 1, m.errors["clean_sink"])
}

func TestDecisionProcessor_InvalidReadingCountsError(t *testing.T) {
	m := &fakeMetrics{}
	p := newProcessor(t, m)

	_, err := p.Decide(models.Reading{SensorID: "", Metric: models.MetricTemperature, Value: 1, Timestamp: fixedNow})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	assert.Equal(t, 1, m.errors["invalid_reading"])

	_, ok := p.Stats("", models.MetricTemperature)
	assert.False(t, ok)
}

func TestBatchRunner_ProcessesPartitionsAndFlushesAtDay(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{byDay: map[time.Time][]models.Reading{day: syntheticDay(day)}}
	clean := &cleanRecorder{}
	anom := &anomalyRecorder{}
	m := &fakeMetrics{}
	proc := newProcessor(t, m)
	router := NewDecisionRouter(clean, anom, m, nil)

	runner := NewBatchRunner(store, proc, router, clean, true, nil)
	sums, err := runner.Run(context.Background(), day, 2)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	first := sums[0]
	assert.Equal(t, 1440, first.Loaded)
	assert.Equal(t, first.Loaded, first.Clean+first.Anomalies)
	assert.GreaterOrEqual(t, first.Anomalies, 4)
	assert.Len(t, anom.decisions, first.Anomalies)
	assert.Len(t, clean.readings, first.Clean)

	assert.Zero(t, sums[1].Loaded)
	assert.Equal(t, []time.Time{day, day.AddDate(0, 0, 1)}, clean.flushes)

	flagged := map[string]bool{}
	for _, d := range anom.decisions {
		flagged[d.Reading.SensorID+"@"+d.Reading.Timestamp.Format("15:04")] = true
	}
	assert.True(t, flagged["boiler-1@02:00"], "temperature fault at minute 120")
	assert.True(t, flagged["pump-7@02:20"], "temperature fault at minute 140")
}

func TestBatchRunner_LoadErrorStops(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	runner := NewBatchRunner(&memStore{err: errors.New("ch down")}, newProcessor(t, &fakeMetrics{}),
		NewDecisionRouter(&cleanRecorder{}, &anomalyRecorder{}, &fakeMetrics{}, nil), nil, true, nil)

	sums, err := runner.Run(context.Background(), day, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-03-01")
	assert.Len(t, sums, 1)
}

func TestModeEquivalence_BatchMatchesRealtime(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	readings := syntheticDay(day)

	batchProc := newProcessor(t, &fakeMetrics{})
	batchAnom := &anomalyRecorder{}
	batchClean := &cleanRecorder{}
	runner := NewBatchRunner(
		&memStore{byDay: map[time.Time][]models.Reading{day: readings}},
		batchProc,
		NewDecisionRouter(batchClean, batchAnom, &fakeMetrics{}, nil),
		batchClean, true, nil,
	)
	_, err := runner.Run(context.Background(), day, 1)
	require.NoError(t, err)

	rtProc := newProcessor(t, &fakeMetrics{})
	rtAnom := &anomalyRecorder{}
	rtClean := &cleanRecorder{}
	pipe := mid.NewRealtimePipeline(rtProc, NewDecisionRouter(rtClean, rtAnom, &fakeMetrics{}, nil), &fakeMetrics{}, mid.WithMaxRPS(0))
	for _, r := range readings {
		_, err := pipe.Process(context.Background(), r)
		require.NoError(t, err)
	}

	assert.Equal(t, batchAnom.decisions, rtAnom.decisions)
	assert.Equal(t, batchClean.readings, rtClean.readings)

	ref, err := DecideAll(newProcessor(t, &fakeMetrics{}), readings)
	require.NoError(t, err)
	var refAnomalies []models.Decision
	for _, d := range ref {
		if d.IsAnomaly {
			refAnomalies = append(refAnomalies, d)
		}
	}
	assert.Equal(t, refAnomalies, batchAnom.decisions)
}

func TestRealtimeCollector_RunCycle(t *testing.T) {
	src := &staticSource{records: []models.RawRecord{
		{SensorID: "s-1", Timestamp: "2024-03-02T11:59:00Z", Temperature: f64(21), Humidity: f64(45)},
		{SensorID: "s-2", Timestamp: "2024-03-02T11:59:00Z", Temperature: f64(120)},
		{SensorID: " ", Timestamp: "yesterday", Temperature: f64(20)},
	}}
	clean := &cleanRecorder{}
	anom := &anomalyRecorder{}
	m := &fakeMetrics{}
	pipe := mid.NewRealtimePipeline(newProcessor(t, m), NewDecisionRouter(clean, anom, m, nil), m, mid.WithMaxRPS(0))
	ing := NewIngestor(ingest.NewValidator(nil), pipe, nil)

	c := NewRealtimeCollector(ing, pipe, clean, nil, WithSource(src), WithCollectorClock(func() time.Time { return fixedNow }))
	sum, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "realtime", sum.Mode)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Invalid)
	assert.Equal(t, 2, sum.Clean)
	assert.Equal(t, 1, sum.Anomalies)
	assert.Equal(t, []time.Time{fixedNow}, clean.flushes)
	require.Len(t, anom.decisions, 1)
	assert.Equal(t, "s-2", anom.decisions[0].Reading.SensorID)
}

func TestRealtimeCollector_FetchError(t *testing.T) {
	clean := &cleanRecorder{}
	m := &fakeMetrics{}
	pipe := mid.NewRealtimePipeline(newProcessor(t, m), NewDecisionRouter(clean, &anomalyRecorder{}, m, nil), m)
	c := NewRealtimeCollector(NewIngestor(ingest.NewValidator(nil), pipe, nil), pipe, clean, nil,
		WithSource(&staticSource{err: errors.New("gateway down")}))

	_, err := c.RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, clean.flushes)
}

func TestRealtimeCollector_RunStopsOnCancel(t *testing.T) {
	clean := &cleanRecorder{}
	m := &fakeMetrics{}
	pipe := mid.NewRealtimePipeline(newProcessor(t, m), NewDecisionRouter(clean, &anomalyRecorder{}, m, nil), m)
	c := NewRealtimeCollector(NewIngestor(ingest.NewValidator(nil), pipe, nil), pipe, clean, nil,
		WithSource(&staticSource{}), WithIntervals(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		clean.mu.Lock()
		defer clean.mu.Unlock()
		return len(clean.flushes) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
	clean.mu.Lock()
	defer clean.mu.Unlock()
	assert.GreaterOrEqual(t, len(clean.flushes), 2, "final flush on shutdown")
}

func TestReadingsHandler_DecodesObjectAndArray(t *testing.T) {
	clean := &cleanRecorder{}
	m := &fakeMetrics{}
	pipe := mid.NewRealtimePipeline(newProcessor(t, m), NewDecisionRouter(clean, &anomalyRecorder{}, m, nil), m, mid.WithMaxRPS(0))
	h := NewReadingsHandler("sensor.readings", NewIngestor(ingest.NewValidator(nil), pipe, nil), m, nil)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"sensor_id":"s-1","timestamp":"2024-03-02T10:00:00Z","temperature":20}`)))
	require.NoError(t, h.Handle(context.Background(), []byte(` [{"sensor_id":"s-2","timestamp":"2024-03-02T10:00:00Z","temperature":21,"pressure":1000}]`)))
	require.NoError(t, h.Handle(context.Background(), []byte(`{"sensor_id":"s-3"}`)))

	err := h.Handle(context.Background(), []byte(`{"sensor_id":`))
	require.Error(t, err)
	assert.True(t, pkgkafka.IsPermanent(err))
	assert.Equal(t, 1, m.errors["consumer_unmarshal"])
	assert.Len(t, clean.readings, 3)
	assert.Equal(t, "sensor.readings", h.Topic())
}

type failOnceAnomalies struct {
	mu    sync.Mutex
	calls int
	got   []models.Decision
}

func (f *failOnceAnomalies) Accept(_ context.Context, d models.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return errors.New("broker unavailable")
	}
	f.got = append(f.got, d)
	return nil
}

func (f *failOnceAnomalies) delivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestPipeline_FanoutRedeliveryDoesNotDuplicate(t *testing.T) {
	healthy := &anomalyRecorder{}
	flaky := &failOnceAnomalies{}
	m := &fakeMetrics{}
	router := NewDecisionRouter(&cleanRecorder{}, repo.NewAnomalyFanout(healthy, flaky), m, nil)
	pipe := mid.NewRealtimePipeline(newProcessor(t, m), router, m, mid.WithMaxRPS(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipe.Start(ctx)
	defer pipe.Stop()

	res := NewIngestor(ingest.NewValidator(nil), pipe, nil).Ingest(ctx, []models.RawRecord{
		{SensorID: "s-9", Timestamp: "2024-03-02T11:00:00Z", Temperature: f64(500)},
	})
	require.Equal(t, 1, res.Anomalies())
	assert.Equal(t, 1, res.Undelivered)

	assert.Eventually(t, func() bool { return flaky.delivered() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, pipe.Pending())

	healthy.mu.Lock()
	defer healthy.mu.Unlock()
	flaky.mu.Lock()
	defer flaky.mu.Unlock()
	require.Len(t, healthy.decisions, 1, "healthy sink receives the decision once")
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, healthy.decisions[0].ID, flaky.got[0].ID)
}

func multiMetricRecords(sensor string, n int) []models.RawRecord {
	recs := make([]models.RawRecord, n)
	for i := range recs {
		recs[i] = models.RawRecord{
			SensorID:    sensor,
			Timestamp:   fmt.Sprintf("2024-03-02T10:%02d:00Z", i),
			Temperature: f64(20),
			Humidity:    f64(45),
			Pressure:    f64(1000),
		}
	}
	return recs
}

func TestIngestor_AdmitsWholeRecords(t *testing.T) {
	clean := &cleanRecorder{}
	m := &fakeMetrics{}
	pipe := mid.NewRealtimePipeline(newProcessor(t, m), NewDecisionRouter(clean, &anomalyRecorder{}, m, nil), m,
		mid.WithMaxRPS(1), mid.WithBurst(2))

	res := NewIngestor(ingest.NewValidator(nil), pipe, nil).Ingest(context.Background(), multiMetricRecords("s-1", 5))

	assert.GreaterOrEqual(t, len(res.Decisions), 6)
	assert.Equal(t, 15, len(res.Decisions)+res.Throttled)
	assert.Zero(t, res.Throttled%3)

	perRecord := map[time.Time]int{}
	for _, d := range res.Decisions {
		perRecord[d.Reading.Timestamp]++
	}
	for ts, n := range perRecord {
		assert.Equal(t, 3, n, "record %s decided in part", ts)
	}
}

func TestReadingsHandler_DoesNotThrottle(t *testing.T) {
	clean := &cleanRecorder{}
	m := &fakeMetrics{}
	pipe := mid.NewRealtimePipeline(newProcessor(t, m), NewDecisionRouter(clean, &anomalyRecorder{}, m, nil), m,
		mid.WithMaxRPS(1), mid.WithBurst(1))
	in := NewIngestor(ingest.NewValidator(nil), pipe, nil)
	h := NewReadingsHandler("sensor.readings", in, m, nil)

	body, err := json.Marshal(multiMetricRecords("s-1", 5))
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), body))
	assert.Len(t, clean.readings, 15)

	// The shared ingestor keeps throttling for other sources.
	res := in.Ingest(context.Background(), multiMetricRecords("s-1", 2))
	assert.Equal(t, 6, res.Throttled)
}
