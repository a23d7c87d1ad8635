package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SensorPull/internal/domain/models"
	domrepo "SensorPull/internal/domain/repository"
	"SensorPull/internal/service/ratelimit"
	"SensorPull/pkg/logger"
)

// Decider turns a reading into a decision. Implemented by usecase.DecisionProcessor.
type Decider interface {
	Decide(r models.Reading) (models.Decision, error)
}

// Router delivers a decision to its sink. Implemented by usecase.DecisionRouter.
type Router interface {
	Route(ctx context.Context, d models.Decision) error
}

// RealtimePipeline sits between live sources and the sinks. It admits
// records per sensor, decides synchronously and buffers deliveries that
// failed so a sink outage does not replay readings into the windows.
type RealtimePipeline struct {
	decider Decider
	router  Router
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
	l       *logger.Logger

	maxRPS  float64
	burst   float64
	bufSize int
	bufCh   chan pending

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the sustained records per second admitted per sensor.
// Zero disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = float64(n)
		}
	}
}

// WithBurst sets how many records a sensor may send at once.
func WithBurst(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.burst = float64(n)
		}
	}
}

// WithBufferSize sets the number of undelivered decisions kept for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *RealtimePipeline) {
		if l != nil {
			p.l = l
		}
	}
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(decider Decider, router Router, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		decider: decider,
		router:  router,
		metrics: metrics,
		limiter: ratelimit.New(),
		l:       logger.NewNop(),
		maxRPS:  20,
		bufSize: 1000,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.burst < p.maxRPS {
		p.burst = p.maxRPS
	}
	p.bufCh = make(chan pending, p.bufSize)
	return p
}

// pending is a decision whose delivery failed. send retries only what is
// still owed: the failed sinks of a fan-out, or the whole route.
type pending struct {
	d    models.Decision
	send func(ctx context.Context) error
}

// Start launches redelivery of buffered decisions. A stopped pipeline can be
// started again.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	stop, done := make(chan struct{}), make(chan struct{})
	p.stopCh, p.doneCh = stop, done
	p.mu.Unlock()

	go p.redeliver(ctx, stop, done)
}

func (p *RealtimePipeline) redeliver(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case item := <-p.bufCh:
			err := item.send(ctx)
			if err == nil {
				backoff = 50 * time.Millisecond
				continue
			}
			if backoff < 2*time.Second {
				backoff *= 2
			}
			p.metrics.RecordError("pipeline_redeliver")
			p.l.Warn("redelivery failed",
				logger.String("decision_id", item.d.ID),
				logger.Duration("backoff", backoff),
				logger.Error(err))
			p.enqueue(p.retryFor(item.d, err))
			select {
			case <-time.After(backoff):
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop stops redelivery and waits for the loop to exit. Buffered decisions
// stay buffered.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()
	close(stop)
	<-done
}

// Pending reports how many decisions are waiting for redelivery.
func (p *RealtimePipeline) Pending() int {
	return len(p.bufCh)
}

// Admit takes one token from the sensor's bucket. Callers admit a whole
// record before expanding it into readings, so a record is decided in full
// or not at all.
func (p *RealtimePipeline) Admit(sensorID string) bool {
	if p.maxRPS <= 0 || p.limiter.Allow(sensorID, p.burst, p.maxRPS) {
		return true
	}
	p.metrics.RecordError("pipeline_throttle")
	return false
}

// Process decides and routes one reading. Invalid input is returned to the
// caller; delivery failures are buffered and still reported.
func (p *RealtimePipeline) Process(ctx context.Context, r models.Reading) (models.Decision, error) {
	start := time.Now()
	d, err := p.decider.Decide(r)
	if err != nil {
		return models.Decision{}, err
	}

	if err := p.router.Route(ctx, d); err != nil {
		p.metrics.RecordError("pipeline_route")
		p.enqueue(p.retryFor(d, err))
		return d, fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return d, nil
}

func (p *RealtimePipeline) retryFor(d models.Decision, err error) pending {
	var partial domrepo.PartialDelivery
	if errors.As(err, &partial) {
		return pending{d: d, send: partial.Redeliver}
	}
	return pending{d: d, send: func(ctx context.Context) error { return p.router.Route(ctx, d) }}
}

func (p *RealtimePipeline) enqueue(item pending) {
	select {
	case p.bufCh <- item:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.l.Error("dropping undelivered decision",
			logger.String("decision_id", item.d.ID),
			logger.String("key", item.d.Reading.Key()),
			logger.Bool("anomaly", item.d.IsAnomaly))
	}
}
