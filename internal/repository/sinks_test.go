package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SensorPull/internal/domain/models"
)

type fakeUploader struct {
	mu   sync.Mutex
	err  error
	keys []string
	body [][]byte
	meta []map[string]string
}

func (f *fakeUploader) PutJSON(_ context.Context, key string, body []byte, meta map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.body = append(f.body, body)
	f.meta = append(f.meta, meta)
	return nil
}

type fakeStore struct {
	err       error
	readings  []models.Reading
	decisions []models.Decision
}

func (f *fakeStore) StoreReadings(_ context.Context, rs []models.Reading) error {
	if f.err != nil {
		return f.err
	}
	f.readings = append(f.readings, rs...)
	return nil
}

func (f *fakeStore) StoreDecision(_ context.Context, d models.Decision) error {
	if f.err != nil {
		return f.err
	}
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeStore) LoadPartition(context.Context, time.Time) ([]models.Reading, error) {
	return nil, nil
}
func (f *fakeStore) Health(context.Context) error { return nil }
func (f *fakeStore) Close() error                 { return nil }

type fakePublisher struct {
	topic string
	key   string
	value interface{}
	msgs  int
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.topic, f.key, f.value = topic, string(key), value
	f.msgs++
	return f.err
}

func (f *fakePublisher) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return f.Publish(ctx, msgType, nil, payload)
}

func sampleReading(v float64) models.Reading {
	return models.Reading{
		SensorID:  "s1",
		Metric:    models.MetricTemperature,
		Value:     v,
		Timestamp: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		Unit:      "celsius",
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "clean-data/year=2024/month=03/day=04/05-06-07-readings.json", ObjectKey("clean-data", at))
}

func TestObjectStoreSink_Flush(t *testing.T) {
	up := &fakeUploader{}
	s := NewObjectStoreSink(up, "", nil)
	s.now = func() time.Time { return time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, s.Flush(ctx, time.Now()))
	assert.Empty(t, up.keys, "empty buffer uploads nothing")

	require.NoError(t, s.Accept(ctx, sampleReading(20)))
	require.NoError(t, s.Accept(ctx, sampleReading(21)))
	at := time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC)
	require.NoError(t, s.Flush(ctx, at))

	require.Len(t, up.keys, 1)
	assert.Equal(t, "clean-data/year=2024/month=03/day=04/05-00-00-readings.json", up.keys[0])
	assert.Equal(t, "2", up.meta[0]["record-count"])

	var env CleanEnvelope
	require.NoError(t, json.Unmarshal(up.body[0], &env))
	assert.Equal(t, "1.0", env.PipelineVersion)
	assert.Equal(t, 2, env.RecordCount)
	assert.Equal(t, "2024-03-04T06:00:00Z", env.UploadTimestamp)
	assert.Equal(t, 0, s.Pending())
}

func TestObjectStoreSink_FailedUploadKeepsBuffer(t *testing.T) {
	up := &fakeUploader{err: errors.New("s3 down")}
	s := NewObjectStoreSink(up, "p", nil)
	ctx := context.Background()

	require.NoError(t, s.Accept(ctx, sampleReading(1)))
	assert.Error(t, s.Flush(ctx, time.Now()))
	assert.Equal(t, 1, s.Pending())

	up.err = nil
	require.NoError(t, s.Flush(ctx, time.Now()))
	assert.Equal(t, 0, s.Pending())
	assert.Len(t, up.keys, 1)
}

func TestStoreCleanSink(t *testing.T) {
	st := &fakeStore{err: errors.New("ch down")}
	s := NewStoreCleanSink(st)
	ctx := context.Background()

	require.NoError(t, s.Accept(ctx, sampleReading(1)))
	assert.Error(t, s.Flush(ctx, time.Now()))
	assert.Equal(t, 1, s.Pending())

	st.err = nil
	require.NoError(t, s.Accept(ctx, sampleReading(2)))
	require.NoError(t, s.Flush(ctx, time.Now()))
	require.Len(t, st.readings, 2)
	assert.Equal(t, 1.0, st.readings[0].Value)
}

func TestKafkaAnomalySink(t *testing.T) {
	pub := &fakePublisher{}
	s := NewKafkaAnomalySink(pub, "sensor.anomalies")
	d := models.Decision{ID: "x", Reading: sampleReading(99), IsAnomaly: true}

	require.NoError(t, s.Accept(context.Background(), d))
	assert.Equal(t, "sensor.anomalies", pub.topic)
	assert.Equal(t, "s1:temperature", pub.key)
	assert.Equal(t, d, pub.value)

	pub.err = errors.New("broker gone")
	assert.ErrorContains(t, s.Accept(context.Background(), d), "publish anomaly")
}

func TestAlertQueueSink(t *testing.T) {
	pub := &fakePublisher{}
	s := NewAlertQueueSink(pub)
	d := models.Decision{
		ID:      "x",
		Reading: sampleReading(99),
		Verdicts: []models.DetectionVerdict{
			{Detector: "threshold", State: models.VerdictAnomaly, IsAnomaly: true, Score: 14},
		},
	}

	require.NoError(t, s.Accept(context.Background(), d))
	assert.Equal(t, models.AlertJobType, pub.topic)
	p, ok := pub.value.(models.AlertPayload)
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, p.Severity)
	assert.Equal(t, []string{"threshold"}, p.Detectors)
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	good := &fakeStore{}
	bad := &fakeStore{err: errors.New("nope")}

	af := NewAnomalyFanout(NewStoreAnomalySink(bad), NewStoreAnomalySink(good))
	err := af.Accept(ctx, models.Decision{ID: "d"})
	assert.Error(t, err)
	assert.Len(t, good.decisions, 1, "later sinks still receive the decision")

	up := &fakeUploader{}
	obj := NewObjectStoreSink(up, "p", nil)
	cf := NewCleanFanout(obj, DiscardSink{})
	require.NoError(t, cf.Accept(ctx, sampleReading(1)))
	require.NoError(t, cf.Flush(ctx, time.Now()))
	assert.Len(t, up.keys, 1)

	assert.NoError(t, DiscardAnomalies.Accept(ctx, models.Decision{}))
}

func TestFanout_RedeliversToFailedSinksOnly(t *testing.T) {
	ctx := context.Background()
	good := &fakeStore{}
	flaky := &fakeStore{err: errors.New("clickhouse down")}
	af := NewAnomalyFanout(NewStoreAnomalySink(good), NewStoreAnomalySink(flaky))

	err := af.Accept(ctx, models.Decision{ID: "d-1"})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 1, de.Failed())
	assert.ErrorContains(t, err, "clickhouse down")

	err = de.Redeliver(ctx)
	require.ErrorAs(t, err, &de, "still failing")
	assert.Equal(t, 1, de.Failed())

	flaky.err = nil
	require.NoError(t, de.Redeliver(ctx))
	assert.Len(t, good.decisions, 1)
	assert.Len(t, flaky.decisions, 1)
}

type flakyClean struct {
	err      error
	readings []models.Reading
}

func (f *flakyClean) Accept(_ context.Context, r models.Reading) error {
	if f.err != nil {
		return f.err
	}
	f.readings = append(f.readings, r)
	return nil
}

func TestCleanFanout_PartialFailure(t *testing.T) {
	ctx := context.Background()
	good := &flakyClean{}
	flaky := &flakyClean{err: errors.New("nope")}
	cf := NewCleanFanout(good, flaky)

	err := cf.Accept(ctx, sampleReading(1))
	var de *DeliveryError
	require.ErrorAs(t, err, &de)

	flaky.err = nil
	require.NoError(t, de.Redeliver(ctx))
	assert.Len(t, good.readings, 1)
	assert.Len(t, flaky.readings, 1)
}
