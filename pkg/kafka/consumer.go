package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"SensorPull/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles every message of one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, data []byte) error
}

var ErrConsumerRunning = errors.New("kafka consumer already running")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying cannot fix, such as an
// undecodable payload. The message goes to the DLQ without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	var he *HookError
	return errors.As(err, &pe) || errors.As(err, &he)
}

// Consumer reads topics as one consumer group. Messages of a partition are
// handled by a single worker in offset order and committed after handling.
type Consumer struct {
	cfg      *ConsumerConfig
	offset   int64
	l        *logger.Logger
	metrics  *consumerMetrics
	hook     ConsumerHook
	handlers map[string]MessageHandler
	dlq      *kafka.Writer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	readers []*kafka.Reader
	lanes   []chan delivery
	fetchWg sync.WaitGroup
	workWg  sync.WaitGroup
}

type delivery struct {
	reader *kafka.Reader
	msg    kafka.Message
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}
	offset, err := parseStartOffset(cfg.StartOffset)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}

	c := &Consumer{
		cfg:      cfg,
		offset:   offset,
		l:        l.Component("kafka-consumer"),
		metrics:  newConsumerMetrics(cfg.Registerer),
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return c, nil
}

// WithConsumerHook installs h around every handler call. Set before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h == nil {
		h = NoopHook{}
	}
	c.hook = h
}

// RegisterHandler routes h.Topic() to h. A later handler for the same topic
// replaces the earlier one.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	c.mu.Lock()
	c.handlers[h.Topic()] = h
	c.mu.Unlock()
}

func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrConsumerRunning
	}
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.lanes = make([]chan delivery, c.cfg.Workers)
	for i := range c.lanes {
		c.lanes[i] = make(chan delivery, c.cfg.BufferSize)
		c.workWg.Add(1)
		go c.work(ctx, c.lanes[i])
	}

	c.readers = c.readers[:0]
	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        c.cfg.Brokers,
			GroupID:        c.cfg.GroupID,
			Topic:          topic,
			MinBytes:       c.cfg.MinBytes,
			MaxBytes:       c.cfg.MaxBytes,
			StartOffset:    c.offset,
			CommitInterval: 0,
		})
		c.readers = append(c.readers, r)
		c.fetchWg.Add(1)
		go c.fetch(ctx, r)
	}
	c.running = true
	c.l.Info("kafka consumer started",
		logger.String("group", c.cfg.GroupID),
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.Workers))
	return nil
}

// Stop halts fetching, lets workers drain what was already fetched and
// closes the readers. It returns ctx.Err() if draining outlasts ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.fetchWg.Wait()
	for _, lane := range c.lanes {
		close(lane)
	}

	done := make(chan struct{})
	go func() {
		c.workWg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	for _, r := range c.readers {
		if cerr := r.Close(); cerr != nil {
			c.l.Warn("close reader", logger.String("topic", r.Config().Topic), logger.Error(cerr))
		}
	}
	if c.dlq != nil {
		if cerr := c.dlq.Close(); cerr != nil {
			c.l.Warn("close dlq writer", logger.Error(cerr))
		}
	}
	c.l.Info("kafka consumer stopped")
	return err
}

func (c *Consumer) fetch(ctx context.Context, r *kafka.Reader) {
	defer c.fetchWg.Done()
	topic := r.Config().Topic
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.metrics.fetchErrors.WithLabelValues(topic).Inc()
			c.l.Warn("fetch failed", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		c.metrics.lag.WithLabelValues(topic).Set(float64(r.Stats().Lag))
		select {
		case c.lanes[laneFor(msg.Topic, msg.Partition, len(c.lanes))] <- delivery{reader: r, msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, lane <-chan delivery) {
	defer c.workWg.Done()
	for d := range lane {
		c.process(ctx, d)
	}
}

func (c *Consumer) process(ctx context.Context, d delivery) {
	topic := d.msg.Topic
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()

	start := time.Now()
	var err error
	if h == nil {
		err = Permanent(fmt.Errorf("no handler for topic %s", topic))
	} else {
		err = c.handleWithRetry(ctx, h, d.msg)
	}
	c.metrics.duration.WithLabelValues(topic).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "failed"
		if c.toDLQ(ctx, d.msg, err) {
			outcome = "dead_lettered"
		}
	}
	c.metrics.messages.WithLabelValues(topic, outcome).Inc()

	// A message that could not be handled or dead-lettered is still
	// committed; its failure is logged and counted above.
	if err := c.commit(d.reader, d.msg); err != nil {
		c.l.Error("commit failed",
			logger.String("topic", topic),
			logger.Int("partition", d.msg.Partition),
			logger.Int64("offset", d.msg.Offset),
			logger.Error(err))
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 0; attempt <= c.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			c.metrics.retries.WithLabelValues(msg.Topic).Inc()
			// Workers keep draining after Stop cancels ctx, so retries
			// sleep on a plain timer.
			time.Sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt))
		}
		err = c.handleOnce(ctx, h, msg, attempt)
		if err == nil || IsPermanent(err) {
			return err
		}
	}
	return err
}

func (c *Consumer) handleOnce(ctx context.Context, h MessageHandler, msg kafka.Message, attempt int) (err error) {
	// Handlers run detached from the consumer's lifetime so an in-flight
	// message finishes during shutdown.
	hctx := context.WithoutCancel(ctx)
	d := &Delivery{Message: msg, Attempt: attempt}
	nctx, err := c.hook.BeforeHandle(hctx, d)
	if nctx != nil {
		hctx = nctx
	}
	if err != nil {
		c.hook.AfterHandle(hctx, d, err)
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.AfterHandle(hctx, d, err)
	}()
	return h.Handle(hctx, d.Message.Value)
}

func (c *Consumer) toDLQ(ctx context.Context, msg kafka.Message, cause error) bool {
	c.l.Error("message failed",
		logger.String("topic", msg.Topic),
		logger.Int("partition", msg.Partition),
		logger.Int64("offset", msg.Offset),
		logger.Bool("permanent", IsPermanent(cause)),
		logger.Error(cause))
	if c.dlq == nil {
		return false
	}
	out := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: "dlq_source_topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "dlq_partition", Value: []byte(strconv.Itoa(msg.Partition))},
			kafka.Header{Key: "dlq_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			kafka.Header{Key: "dlq_error", Value: []byte(cause.Error())},
		),
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.dlq.WriteMessages(wctx, out); err != nil {
		c.l.Error("dlq publish failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(r *kafka.Reader, msg kafka.Message) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = r.CommitMessages(ctx, msg)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt+1))
	}
	return err
}

// laneFor pins a partition to one worker so its messages stay ordered.
func laneFor(topic string, partition, lanes int) int {
	if lanes <= 1 {
		return 0
	}
	h := uint32(2166136261)
	for i := 0; i < len(topic); i++ {
		h = (h ^ uint32(topic[i])) * 16777619
	}
	h = (h ^ uint32(partition)) * 16777619
	return int(h % uint32(lanes))
}

// backoffWithJitter doubles min per attempt up to max and adds up to 20%.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 10 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d + time.Duration(rand.Int63n(int64(d)/5+1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

type consumerMetrics struct {
	messages    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lag         *prometheus.GaugeVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	return &consumerMetrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorpull_kafka_consumer_messages_total",
			Help: "Consumed messages by outcome.",
		}, []string{"topic", "outcome"})),
		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorpull_kafka_consumer_retries_total",
			Help: "Handler retries.",
		}, []string{"topic"})),
		fetchErrors: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorpull_kafka_consumer_fetch_errors_total",
			Help: "FetchMessage failures.",
		}, []string{"topic"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensorpull_kafka_consumer_handle_seconds",
			Help:    "Time to handle one message including retries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"topic"})),
		lag: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensorpull_kafka_consumer_lag",
			Help: "Reader lag reported at the last fetch.",
		}, []string{"topic"})),
	}
}
