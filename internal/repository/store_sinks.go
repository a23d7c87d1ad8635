package repository

import (
	"context"
	"sync"
	"time"

	"SensorPull/internal/domain/models"
	domrepo "SensorPull/internal/domain/repository"
)

// StoreCleanSink buffers clean readings and writes them to a ReadingStore on Flush.
type StoreCleanSink struct {
	store domrepo.ReadingStore
	mu    sync.Mutex
	buf   []models.Reading
}

func NewStoreCleanSink(store domrepo.ReadingStore) *StoreCleanSink {
	return &StoreCleanSink{store: store}
}

func (s *StoreCleanSink) Accept(_ context.Context, r models.Reading) error {
	s.mu.Lock()
	s.buf = append(s.buf, r)
	s.mu.Unlock()
	return nil
}

// Flush writes buffered readings. On failure the batch is kept for the next flush.
func (s *StoreCleanSink) Flush(ctx context.Context, _ time.Time) error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := s.store.StoreReadings(ctx, batch); err != nil {
		s.mu.Lock()
		s.buf = append(batch, s.buf...)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Pending returns the number of buffered readings.
func (s *StoreCleanSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// StoreAnomalySink records anomalous decisions in a ReadingStore.
type StoreAnomalySink struct {
	store domrepo.ReadingStore
}

func NewStoreAnomalySink(store domrepo.ReadingStore) *StoreAnomalySink {
	return &StoreAnomalySink{store: store}
}

func (s *StoreAnomalySink) Accept(ctx context.Context, d models.Decision) error {
	return s.store.StoreDecision(ctx, d)
}
