package repository

import (
	"context"
	"time"

	"SensorPull/internal/domain/models"
)

// ReadingSource is a pull-based source polled once per real-time cycle.
type ReadingSource interface {
	Fetch(ctx context.Context) ([]models.RawRecord, error)
}

// ReadingStream is a push-based source (WebSocket).
type ReadingStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.RawRecord, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// CleanSink receives readings the engine judged normal.
type CleanSink interface {
	Accept(ctx context.Context, r models.Reading) error
}

// AnomalySink receives decisions flagged as anomalous.
type AnomalySink interface {
	Accept(ctx context.Context, d models.Decision) error
}

// PartialDelivery is returned by a fan-out when some of its sinks failed.
// Redeliver sends the item again to the failed sinks only.
type PartialDelivery interface {
	error
	Redeliver(ctx context.Context) error
}

// Flusher is implemented by sinks that buffer; at is the partition time of the flush.
type Flusher interface {
	Flush(ctx context.Context, at time.Time) error
}

// ReadingStore persists readings and decisions and serves batch partitions.
type ReadingStore interface {
	StoreReadings(ctx context.Context, rs []models.Reading) error
	StoreDecision(ctx context.Context, d models.Decision) error
	// LoadPartition returns the readings of one UTC day ordered by timestamp.
	LoadPartition(ctx context.Context, day time.Time) ([]models.Reading, error)
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordReading(metric string)
	RecordDecision(metric string, anomaly bool)
	RecordVerdict(detector, state string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordWindowKeys(n int)
}
