package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SensorPull/internal/domain/models"
	applogger "SensorPull/pkg/logger"
)

// LatestAnomalies returns the n most recent stored anomalies of a sensor,
// oldest first.
func (s *CHReadingStore) LatestAnomalies(ctx context.Context, sensorID string, n int) ([]models.AnomalyRecord, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT decision_id, ts, sensor_id, metric, value, unit, policy, detectors, decided_at
        FROM %s FINAL
        WHERE sensor_id = ?
        ORDER BY ts DESC
        LIMIT ?
    `, anomaliesTable)
	rows, err := s.db.QueryContext(ctx, q, sensorID, n)
	if err != nil {
		s.l.Error("clickhouse latest_anomalies query error",
			applogger.String("sensor_id", sensorID),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("latest anomalies: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.AnomalyRecord, 0, n)
	for rows.Next() {
		var (
			a         models.AnomalyRecord
			metric    string
			policy    string
			detectors string
		)
		if err := rows.Scan(&a.DecisionID, &a.Timestamp, &a.SensorID, &metric, &a.Value, &a.Unit, &policy, &detectors, &a.DecidedAt); err != nil {
			s.l.Error("clickhouse latest_anomalies scan error",
				applogger.String("sensor_id", sensorID),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		a.Metric = models.Metric(metric)
		a.Policy = models.Policy(policy)
		if detectors != "" {
			a.Detectors = strings.Split(detectors, ",")
		}
		a.Timestamp = a.Timestamp.UTC()
		a.DecidedAt = a.DecidedAt.UTC()
		tmp = append(tmp, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	s.l.Debug("clickhouse latest_anomalies ok",
		applogger.String("sensor_id", sensorID),
		applogger.Int("limit", n),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return tmp, nil
}
