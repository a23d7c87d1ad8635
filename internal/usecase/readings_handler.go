package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"SensorPull/internal/domain/models"
	drepo "SensorPull/internal/domain/repository"
	pkgkafka "SensorPull/pkg/kafka"
	"SensorPull/pkg/logger"
)

// ReadingsHandler consumes raw sensor records from Kafka. A message holds
// one record object or an array of them.
type ReadingsHandler struct {
	topic    string
	ingestor *Ingestor
	metrics  drepo.Metrics
	l        *logger.Logger
}

func NewReadingsHandler(topic string, ingestor *Ingestor, metrics drepo.Metrics, l *logger.Logger) *ReadingsHandler {
	if l == nil {
		l = logger.NewNop()
	}
	return &ReadingsHandler{topic: topic, ingestor: ingestor.Unthrottled(), metrics: metrics, l: l}
}

func (h *ReadingsHandler) Topic() string { return h.topic }

// Handle fails only on undecodable payloads, and permanently. Decided
// readings are never retried so windows do not see them twice. Records are
// not throttled: the topic is the backlog, and a committed offset cannot be
// replayed.
func (h *ReadingsHandler) Handle(ctx context.Context, b []byte) error {
	records, err := decodeRecords(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}

	res := h.ingestor.Ingest(ctx, records)
	for _, inv := range res.Invalid {
		h.l.Warn("invalid record",
			logger.String("sensor_id", inv.Record.SensorID),
			logger.Strings("errors", inv.Errors))
	}
	return nil
}

func decodeRecords(b []byte) ([]models.RawRecord, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []models.RawRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return recs, nil
	}
	var rec models.RawRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return []models.RawRecord{rec}, nil
}

var _ pkgkafka.MessageHandler = (*ReadingsHandler)(nil)
