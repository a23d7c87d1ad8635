package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"SensorPull/internal/domain/models"
	applogger "SensorPull/pkg/logger"
)

const pipelineVersion = "1.0"

// Uploader puts a JSON object into a bucket. Satisfied by *objectstore.Client.
type Uploader interface {
	PutJSON(ctx context.Context, key string, body []byte, meta map[string]string) error
}

// CleanEnvelope is the uploaded JSON document.
type CleanEnvelope struct {
	PipelineVersion string           `json:"pipeline_version"`
	UploadTimestamp string           `json:"upload_timestamp"`
	RecordCount     int              `json:"record_count"`
	Records         []models.Reading `json:"records"`
}

// ObjectStoreSink buffers clean readings and uploads them as one
// date-partitioned JSON object per flush.
type ObjectStoreSink struct {
	up     Uploader
	prefix string
	now    func() time.Time
	l      *applogger.Logger

	mu  sync.Mutex
	buf []models.Reading
}

func NewObjectStoreSink(up Uploader, prefix string, l *applogger.Logger) *ObjectStoreSink {
	if prefix == "" {
		prefix = "clean-data"
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &ObjectStoreSink{
		up:     up,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
		l:      l,
	}
}

// ObjectKey returns the partitioned key for a flush at t.
func ObjectKey(prefix string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%02d-%02d-%02d-readings.json",
		prefix, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

func (s *ObjectStoreSink) Accept(_ context.Context, r models.Reading) error {
	s.mu.Lock()
	s.buf = append(s.buf, r)
	s.mu.Unlock()
	return nil
}

// Flush uploads everything buffered under the partition of at. A failed
// upload keeps the readings for the next flush.
func (s *ObjectStoreSink) Flush(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	uploaded := s.now()
	env := CleanEnvelope{
		PipelineVersion: pipelineVersion,
		UploadTimestamp: uploaded.Format(time.RFC3339),
		RecordCount:     len(batch),
		Records:         batch,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	key := ObjectKey(s.prefix, at)
	meta := map[string]string{
		"record-count":     strconv.Itoa(len(batch)),
		"upload-timestamp": env.UploadTimestamp,
		"pipeline":         "sensorpull",
	}
	if err := s.up.PutJSON(ctx, key, body, meta); err != nil {
		s.mu.Lock()
		s.buf = append(batch, s.buf...)
		s.mu.Unlock()
		s.l.Error("clean data upload failed",
			applogger.String("key", key),
			applogger.Int("records", len(batch)),
			applogger.Error(err),
		)
		return fmt.Errorf("upload clean data: %w", err)
	}

	s.l.Info("clean data uploaded",
		applogger.String("key", key),
		applogger.Int("records", len(batch)),
	)
	return nil
}

// Pending returns the number of buffered readings.
func (s *ObjectStoreSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
