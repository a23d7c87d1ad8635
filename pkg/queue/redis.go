package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"SensorPull/pkg/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces queue keys in a shared Redis.
const DefaultKeyPrefix = "sensorpull:queue"

// QueueMode selects which half of the queue an instance runs.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	default:
		return "producer-consumer"
	}
}

// promoteDue moves retries whose score is due back onto the message list.
// Each member is removed before it is pushed so that concurrent promoters
// never enqueue the same retry twice.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for _, m in ipairs(due) do
  if redis.call('ZREM', KEYS[1], m) == 1 then
    redis.call('LPUSH', KEYS[2], m)
    moved = moved + 1
  end
end
return moved
`)

const promoteBatch = 100

// RedisQueue is a list-backed job queue with a sorted-set retry schedule
// and a dead-letter list.
type RedisQueue struct {
	logger  *logger.Logger
	config  *QueueConfig
	client  *redis.Client
	mode    QueueMode
	prefix  string
	metrics *queueMetrics

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.prefix = prefix }
}

// WithMetrics registers per-type job outcome counters on reg.
func WithMetrics(reg prometheus.Registerer) RedisQueueOption {
	return func(r *RedisQueue) { r.metrics = newQueueMetrics(reg) }
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	rq := &RedisQueue{
		logger: lgr,
		config: config.withDefaults(),
		client: client,
		mode:   mode,
		prefix: DefaultKeyPrefix,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// NewRedisPublisher creates a producer-only queue. Call Start before publishing.
func NewRedisPublisher(lgr *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	return NewRedisQueue(lgr, nil, client, ModeProducerOnly, opts...)
}

// NewRedisConsumer creates a consumer-only queue with jobs registered.
func NewRedisConsumer(lgr *logger.Logger, config *QueueConfig, client *redis.Client, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	q := NewRedisQueue(lgr, config, client, ModeConsumerOnly, opts...)
	q.RegisterJobs(jobs)
	return q
}

func (r *RedisQueue) RegisterJobs(jobs []Job) {
	for _, job := range jobs {
		r.RegisterJob(job)
	}
}

func (r *RedisQueue) RegisterJob(job Job) {
	if r.mode == ModeProducerOnly {
		r.logger.Warn("job registration ignored in producer-only mode", logger.String("job", job.Name()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis and, unless producer-only, launches workers and the
// retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	if err := r.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	if r.mode != ModeProducerOnly {
		for i := 0; i < r.config.Workers; i++ {
			r.wg.Add(1)
			go r.worker(ctx, i)
		}
		r.wg.Add(1)
		go r.retryLoop(ctx)
	}
	r.logger.Info("redis queue started",
		logger.String("mode", r.mode.String()),
		logger.String("prefix", r.prefix),
		logger.Int("workers", r.config.Workers))
	return nil
}

// Stop cancels workers and waits for in-flight jobs until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("stop redis queue: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped", logger.String("prefix", r.prefix))
		return nil
	}
}

// Enqueue stores payload as a new message of msgType.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return ErrNotRunning
	}
	if r.mode == ModeProducerConsumer && !known {
		return fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.messagesKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	r.metrics.observe(msgType, "enqueued")
	return nil
}

// PublishMessage implements QueueService.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started", logger.Int("worker_id", id))
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, time.Second, r.messagesKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Error("brpop error", logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("drop undecodable message", logger.Error(err))
			continue
		}
		r.process(ctx, msg)
	}
}

func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.deadLetter(msg, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type))
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		r.metrics.observe(msg.Type, "done")
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Interrupted by Stop; requeue without spending an attempt.
		r.schedule(msg, time.Now())
		return
	}

	r.logger.Warn("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Duration("elapsed", time.Since(start)),
		logger.Error(err))

	msg.LastError = err.Error()
	if IsPermanent(err) || msg.Attempts >= r.config.RetryLimit {
		r.deadLetter(msg, err)
		return
	}
	msg.Attempts++
	r.schedule(msg, time.Now().Add(r.config.backoff(msg.Attempts)))
	r.metrics.observe(msg.Type, "retried")
}

func (r *RedisQueue) schedule(msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(at.Unix()), Member: data}).Err(); err != nil {
		r.logger.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message, cause error) {
	r.logger.Error("message dead-lettered",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts+1),
		logger.Error(cause))
	data, err := json.Marshal(DeadLetter{Message: msg, FailedAt: time.Now().UTC()})
	if err != nil {
		r.logger.Error("marshal dead letter", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.deadKey(), data).Err(); err != nil {
		r.logger.Error("lpush dead letter", logger.Error(err))
	}
	r.metrics.observe(msg.Type, "dead")
}

func (r *RedisQueue) retryLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.RetryPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.promote(ctx, time.Now()); err != nil && ctx.Err() == nil {
				r.logger.Error("promote retries", logger.Error(err))
			}
		}
	}
}

// promote moves retries due at or before now back to the message list.
func (r *RedisQueue) promote(ctx context.Context, now time.Time) (int64, error) {
	return promoteDue.Run(ctx, r.client,
		[]string{r.retryKey(), r.messagesKey()},
		strconv.FormatInt(now.Unix(), 10), promoteBatch).Int64()
}

// Depth reports pending, scheduled-retry and dead-lettered message counts.
func (r *RedisQueue) Depth(ctx context.Context) (pending, retrying, dead int64, err error) {
	pipe := r.client.Pipeline()
	p := pipe.LLen(ctx, r.messagesKey())
	rt := pipe.ZCard(ctx, r.retryKey())
	d := pipe.LLen(ctx, r.deadKey())
	if _, err = pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	return p.Val(), rt.Val(), d.Val(), nil
}

// DeadLetters returns up to n most recent dead-lettered messages.
func (r *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]DeadLetter, error) {
	raw, err := r.client.LRange(ctx, r.deadKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, s := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(s), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

func (r *RedisQueue) messagesKey() string { return r.prefix + ":messages" }
func (r *RedisQueue) retryKey() string    { return r.prefix + ":retry" }
func (r *RedisQueue) deadKey() string     { return r.prefix + ":dlq" }

type queueMetrics struct {
	jobs *prometheus.CounterVec
}

func newQueueMetrics(reg prometheus.Registerer) *queueMetrics {
	m := &queueMetrics{jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorpull_queue_jobs_total",
		Help: "Queue messages by type and outcome (enqueued, done, retried, dead).",
	}, []string{"type", "outcome"})}
	if err := reg.Register(m.jobs); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			m.jobs = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return m
}

func (m *queueMetrics) observe(msgType, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(msgType, outcome).Inc()
}
