package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SensorPull/internal/domain/models"
	domrepo "SensorPull/internal/domain/repository"
	pkgch "SensorPull/pkg/clickhouse"
	applogger "SensorPull/pkg/logger"
)

const (
	readingsTable  = "sensor_readings"
	anomaliesTable = "sensor_anomalies"
	insertChunk    = 2000
)

// ReadingSchema returns the idempotent DDL for the reading and anomaly tables.
func ReadingSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + readingsTable + ` (
            ts        DateTime64(3, 'UTC'),
            sensor_id String,
            metric    LowCardinality(String),
            value     Float64,
            unit      LowCardinality(String)
        ) ENGINE = ReplacingMergeTree
        PARTITION BY toDate(ts)
        ORDER BY (sensor_id, metric, ts)`,
		`CREATE TABLE IF NOT EXISTS ` + anomaliesTable + ` (
            decision_id String,
            ts          DateTime64(3, 'UTC'),
            sensor_id   String,
            metric      LowCardinality(String),
            value       Float64,
            unit        LowCardinality(String),
            policy      LowCardinality(String),
            detectors   String,
            verdicts    String,
            decided_at  DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree
        PARTITION BY toDate(ts)
        ORDER BY (sensor_id, metric, ts, decision_id)`,
	}
}

// CHReadingStore implements ReadingStore backed by ClickHouse.
type CHReadingStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHReadingStore(ch *pkgch.Client, l *applogger.Logger) *CHReadingStore {
	return newCHReadingStore(ch.DB(), l)
}

func newCHReadingStore(db *sql.DB, l *applogger.Logger) *CHReadingStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHReadingStore{db: db, l: l}
}

// StoreReadings inserts readings using multi-row VALUES in chunks.
func (s *CHReadingStore) StoreReadings(ctx context.Context, rs []models.Reading) error {
	for start := 0; start < len(rs); start += insertChunk {
		end := start + insertChunk
		if end > len(rs) {
			end = len(rs)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*5)
		for _, r := range rs[start:end] {
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args, r.Timestamp.UTC(), r.SensorID, string(r.Metric), r.Value, r.Unit)
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, sensor_id, metric, value, unit) VALUES %s", readingsTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse store_readings error",
				applogger.Int("rows", end-start),
				applogger.Error(err),
			)
			return fmt.Errorf("insert readings: %w", err)
		}
	}
	return nil
}

// StoreDecision inserts one anomalous decision with its verdicts as JSON.
func (s *CHReadingStore) StoreDecision(ctx context.Context, d models.Decision) error {
	verdicts, err := json.Marshal(d.Verdicts)
	if err != nil {
		return fmt.Errorf("marshal verdicts: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (decision_id, ts, sensor_id, metric, value, unit, policy, detectors, verdicts, decided_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, anomaliesTable)
	_, err = s.db.ExecContext(ctx, q,
		d.ID,
		d.Reading.Timestamp.UTC(),
		d.Reading.SensorID,
		string(d.Reading.Metric),
		d.Reading.Value,
		d.Reading.Unit,
		string(d.Policy),
		strings.Join(d.FlaggedBy(), ","),
		string(verdicts),
		d.DecidedAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse store_decision error",
			applogger.String("decision_id", d.ID),
			applogger.Error(err),
		)
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// LoadPartition returns every reading of the UTC day containing day,
// ordered by timestamp so replay matches arrival order.
func (s *CHReadingStore) LoadPartition(ctx context.Context, day time.Time) ([]models.Reading, error) {
	from := domrepo.PartitionDay(day)
	to := from.AddDate(0, 0, 1)

	q := fmt.Sprintf(`SELECT sensor_id, metric, value, ts, unit
        FROM %s
        WHERE ts >= ? AND ts < ?
        ORDER BY ts ASC, sensor_id ASC, metric ASC`, readingsTable)
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		s.l.Error("clickhouse load_partition query error",
			applogger.String("partition", from.Format(domrepo.PartitionLayout)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("load partition: %w", err)
	}
	defer rows.Close()

	out := make([]models.Reading, 0, 1024)
	for rows.Next() {
		var (
			r      models.Reading
			metric string
		)
		if err := rows.Scan(&r.SensorID, &metric, &r.Value, &r.Timestamp, &r.Unit); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Metric = models.Metric(metric)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHReadingStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHReadingStore) Close() error {
	return nil // Managed by pkg
}

var _ domrepo.ReadingStore = (*CHReadingStore)(nil)
