package repository

import (
	"context"
	"fmt"

	"SensorPull/internal/domain/models"
	"SensorPull/pkg/queue"
)

// AlertQueueSink turns anomalous decisions into alert jobs on the Redis queue.
type AlertQueueSink struct {
	q queue.QueueService
}

func NewAlertQueueSink(q queue.QueueService) *AlertQueueSink {
	return &AlertQueueSink{q: q}
}

func (s *AlertQueueSink) Accept(ctx context.Context, d models.Decision) error {
	if err := s.q.PublishMessage(ctx, models.AlertJobType, models.NewAlertPayload(d)); err != nil {
		return fmt.Errorf("enqueue alert: %w", err)
	}
	return nil
}
