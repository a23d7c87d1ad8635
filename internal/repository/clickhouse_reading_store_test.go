package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SensorPull/internal/domain/models"
)

func newMockStore(t *testing.T) (*CHReadingStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newCHReadingStore(db, nil), mock
}

func TestCHReadingStore_StoreReadings(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO sensor_readings \(ts, sensor_id, metric, value, unit\) VALUES \(\?, \?, \?, \?, \?\),\(\?, \?, \?, \?, \?\)`).
		WithArgs(ts, "s1", "temperature", 21.5, "celsius", ts, "s1", "humidity", 40.0, "percent").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.StoreReadings(context.Background(), []models.Reading{
		{SensorID: "s1", Metric: models.MetricTemperature, Value: 21.5, Timestamp: ts, Unit: "celsius"},
		{SensorID: "s1", Metric: models.MetricHumidity, Value: 40, Timestamp: ts, Unit: "percent"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHReadingStore_StoreReadingsError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO sensor_readings`).WillReturnError(errors.New("boom"))

	err := s.StoreReadings(context.Background(), []models.Reading{
		{SensorID: "s1", Metric: models.MetricTemperature, Value: 1, Timestamp: time.Now()},
	})
	assert.ErrorContains(t, err, "insert readings")
}

func TestCHReadingStore_StoreDecision(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	d := models.Decision{
		ID:        "abc",
		Reading:   models.Reading{SensorID: "s1", Metric: models.MetricVibration, Value: 70, Timestamp: ts, Unit: "mm/s"},
		IsAnomaly: true,
		Policy:    models.PolicyAny,
		Verdicts: []models.DetectionVerdict{
			{Detector: "threshold", State: models.VerdictAnomaly, IsAnomaly: true, Score: 20},
		},
		DecidedAt: ts,
	}

	mock.ExpectExec(`INSERT INTO sensor_anomalies`).
		WithArgs("abc", ts, "s1", "vibration", 70.0, "mm/s", "ANY", "threshold", sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.StoreDecision(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHReadingStore_LoadPartition(t *testing.T) {
	s, mock := newMockStore(t)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ts := day.Add(3 * time.Hour)

	rows := sqlmock.NewRows([]string{"sensor_id", "metric", "value", "ts", "unit"}).
		AddRow("s1", "temperature", 20.0, ts, "celsius").
		AddRow("s2", "pressure", 1013.0, ts.Add(time.Minute), "hPa")
	mock.ExpectQuery(`SELECT sensor_id, metric, value, ts, unit\s+FROM sensor_readings`).
		WithArgs(day, day.AddDate(0, 0, 1)).
		WillReturnRows(rows)

	got, err := s.LoadPartition(context.Background(), day.Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.MetricTemperature, got[0].Metric)
	assert.Equal(t, "s2", got[1].SensorID)
	assert.Equal(t, 1013.0, got[1].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadingSchema(t *testing.T) {
	stmts := ReadingSchema()
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS sensor_readings")
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS sensor_anomalies")
}

func TestCHReadingStore_LatestAnomalies(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"decision_id", "ts", "sensor_id", "metric", "value", "unit", "policy", "detectors", "decided_at"}).
		AddRow("d2", ts.Add(time.Minute), "s1", "vibration", 71.0, "mm/s", "ANY", "threshold,zscore", ts.Add(time.Minute)).
		AddRow("d1", ts, "s1", "vibration", 70.0, "mm/s", "ANY", "threshold", ts)
	mock.ExpectQuery(`SELECT decision_id, ts, sensor_id, metric, value, unit, policy, detectors, decided_at\s+FROM sensor_anomalies FINAL`).
		WithArgs("s1", 2).
		WillReturnRows(rows)

	got, err := s.LatestAnomalies(context.Background(), "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].DecisionID)
	assert.Equal(t, "d2", got[1].DecisionID)
	assert.Equal(t, []string{"threshold", "zscore"}, got[1].Detectors)
	assert.Equal(t, models.PolicyAny, got[1].Policy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
