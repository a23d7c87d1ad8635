package usecase

import (
	"context"

	"SensorPull/internal/domain/models"
	mid "SensorPull/internal/middleware"
	"SensorPull/internal/services/ingest"
	"SensorPull/pkg/logger"
)

// IngestResult summarizes one batch of raw records.
type IngestResult struct {
	Decisions []models.Decision
	Invalid   []models.InvalidRecord
	// Throttled counts readings of records refused admission.
	Throttled int
	// Undelivered counts decisions whose sink failed; they wait in the pipeline buffer.
	Undelivered int
	Rejected    int
}

// Clean counts decisions routed to the clean sink.
func (r IngestResult) Clean() int {
	n := 0
	for _, d := range r.Decisions {
		if !d.IsAnomaly {
			n++
		}
	}
	return n
}

// Anomalies counts decisions routed to the anomaly sink.
func (r IngestResult) Anomalies() int {
	return len(r.Decisions) - r.Clean()
}

// Ingestor validates raw records and pushes the resulting readings through
// the real-time pipeline. Shared by the poller, the stream and Kafka and HTTP
// entry points.
type Ingestor struct {
	validator *ingest.Validator
	pipe      *mid.RealtimePipeline
	l         *logger.Logger
	throttle  bool
}

func NewIngestor(v *ingest.Validator, pipe *mid.RealtimePipeline, l *logger.Logger) *Ingestor {
	if l == nil {
		l = logger.NewNop()
	}
	return &Ingestor{validator: v, pipe: pipe, l: l, throttle: true}
}

// Unthrottled returns a copy that skips per-sensor admission. Used for
// sources that keep their own backlog, like Kafka, where a dropped record
// would be gone once the offset is committed.
func (in *Ingestor) Unthrottled() *Ingestor {
	cp := *in
	cp.throttle = false
	return &cp
}

// Ingest admits each valid record as a unit: all of its metric readings are
// decided, or the whole record is counted as throttled.
func (in *Ingestor) Ingest(ctx context.Context, records []models.RawRecord) IngestResult {
	var res IngestResult
	readings := 0
	for _, rec := range records {
		rs, errs := in.validator.ValidateRecord(rec)
		if len(errs) > 0 {
			res.Invalid = append(res.Invalid, models.InvalidRecord{Record: rec, Errors: errs})
			continue
		}
		if len(rs) == 0 {
			continue
		}
		if in.throttle && !in.pipe.Admit(rs[0].SensorID) {
			res.Throttled += len(rs)
			continue
		}
		readings += len(rs)
		for _, r := range rs {
			in.process(ctx, r, &res)
		}
	}
	in.l.Debug("ingest completed",
		logger.Int("records", len(records)),
		logger.Int("readings", readings),
		logger.Int("invalid", len(res.Invalid)),
		logger.Int("throttled", res.Throttled))
	return res
}

func (in *Ingestor) process(ctx context.Context, r models.Reading, res *IngestResult) {
	d, err := in.pipe.Process(ctx, r)
	switch {
	case err == nil:
		res.Decisions = append(res.Decisions, d)
	case d.ID != "":
		res.Decisions = append(res.Decisions, d)
		res.Undelivered++
	default:
		res.Rejected++
		in.l.Warn("reading rejected",
			logger.String("key", r.Key()),
			logger.Error(err))
	}
}
