package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SensorPull/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

const (
	headerContentType = "content-type"
	headerTraceID     = "trace_id"
)

// Producer publishes JSON payloads to Kafka.
type Producer struct {
	writer  *kafka.Writer
	codec   string
	l       *logger.Logger
	metrics *producerMetrics
}

// Message is one keyed value for PublishBatch.
type Message struct {
	Key   []byte
	Value interface{}
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka producer: brokers are required")
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}

	p := &Producer{codec: cfg.Compression, l: l, metrics: newProducerMetrics(cfg.Registerer)}

	var bal kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}
	if cfg.Async {
		p.writer.Completion = p.onAsyncCompletion
	}
	return p, nil
}

// Publish writes one message. Values other than []byte and string are JSON
// encoded. A trace id on ctx travels as a header.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	msg, err := buildMessage(ctx, topic, key, value)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	p.metrics.observe(topic, p.codec, len(msg.Value), 1, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(messages))
	size := 0
	for _, m := range messages {
		km, err := buildMessage(ctx, topic, m.Key, m.Value)
		if err != nil {
			return err
		}
		msgs = append(msgs, km)
		size += len(km.Value)
	}
	start := time.Now()
	err := p.writer.WriteMessages(ctx, msgs...)
	p.metrics.observe(topic, p.codec, size, len(msgs), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish batch to %s: %w", topic, err)
	}
	return nil
}

// PublishMessage publishes with no key; used by the log collector.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *Producer) onAsyncCompletion(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	topic := ""
	if len(msgs) > 0 {
		topic = msgs[0].Topic
	}
	p.metrics.asyncFailures.WithLabelValues(topic).Add(float64(len(msgs)))
	p.l.Error("async kafka delivery failed",
		logger.String("topic", topic),
		logger.Int("messages", len(msgs)),
		logger.Error(err))
}

func buildMessage(ctx context.Context, topic string, key []byte, value interface{}) (kafka.Message, error) {
	v, isJSON, err := encodeValue(value)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{Topic: topic, Key: key, Value: v, Time: time.Now().UTC()}
	if isJSON {
		msg.Headers = append(msg.Headers, kafka.Header{Key: headerContentType, Value: []byte("application/json")})
	}
	if id, ok := ctx.Value(CtxTraceID).(string); ok && id != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: headerTraceID, Value: []byte(id)})
	}
	return msg, nil
}

func encodeValue(value interface{}) ([]byte, bool, error) {
	switch v := value.(type) {
	case []byte:
		return v, false, nil
	case string:
		return []byte(v), false, nil
	case json.RawMessage:
		return v, true, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("marshal value: %w", err)
	}
	return b, true, nil
}

type producerMetrics struct {
	messages      *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	asyncFailures *prometheus.CounterVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	return &producerMetrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorpull_kafka_producer_messages_total",
			Help: "Messages handed to the Kafka writer by result.",
		}, []string{"topic", "compression", "result"})),
		bytes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorpull_kafka_producer_bytes_total",
			Help: "Uncompressed payload bytes published.",
		}, []string{"topic"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensorpull_kafka_producer_publish_seconds",
			Help:    "WriteMessages latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"topic"})),
		asyncFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorpull_kafka_producer_async_failures_total",
			Help: "Messages whose asynchronous delivery failed.",
		}, []string{"topic"})),
	}
}

func (m *producerMetrics) observe(topic, codec string, size, count int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, codec, result).Add(float64(count))
	if err == nil {
		m.bytes.WithLabelValues(topic).Add(float64(size))
	}
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}
