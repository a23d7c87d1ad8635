package repository

import (
	"context"
	"fmt"

	"SensorPull/internal/domain/models"
)

// Publisher is the producer surface the sink needs. Satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaAnomalySink publishes anomalous decisions keyed by sensor:metric so
// one key's decisions stay ordered within a partition.
type KafkaAnomalySink struct {
	pub   Publisher
	topic string
}

func NewKafkaAnomalySink(pub Publisher, topic string) *KafkaAnomalySink {
	return &KafkaAnomalySink{pub: pub, topic: topic}
}

func (s *KafkaAnomalySink) Accept(ctx context.Context, d models.Decision) error {
	if err := s.pub.Publish(ctx, s.topic, []byte(d.Reading.Key()), d); err != nil {
		return fmt.Errorf("publish anomaly: %w", err)
	}
	return nil
}
