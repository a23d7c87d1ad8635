package usecase

import (
	"context"
	"fmt"
	"time"

	"SensorPull/internal/domain/models"
	drepo "SensorPull/internal/domain/repository"
	mid "SensorPull/internal/middleware"
	pipemetrics "SensorPull/internal/service/metrics"
	"SensorPull/pkg/logger"
)

const modeRealtime = "realtime"

// RealtimeCollector drives real-time mode. With a pull source it runs one
// fetch, validate, decide, route and flush cycle per poll interval. With a
// push stream it ingests records as they arrive and flushes on a ticker.
// With neither (Kafka source) it only flushes; the consumer feeds the Ingestor.
type RealtimeCollector struct {
	source        drepo.ReadingSource
	stream        drepo.ReadingStream
	ingestor      *Ingestor
	pipe          *mid.RealtimePipeline
	flusher       drepo.Flusher
	pollInterval  time.Duration
	flushInterval time.Duration
	now           func() time.Time
	l             *logger.Logger
}

type CollectorOption func(*RealtimeCollector)

func WithSource(s drepo.ReadingSource) CollectorOption {
	return func(c *RealtimeCollector) { c.source = s }
}

func WithStream(s drepo.ReadingStream) CollectorOption {
	return func(c *RealtimeCollector) { c.stream = s }
}

func WithIntervals(poll, flush time.Duration) CollectorOption {
	return func(c *RealtimeCollector) {
		if poll > 0 {
			c.pollInterval = poll
		}
		if flush > 0 {
			c.flushInterval = flush
		}
	}
}

func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *RealtimeCollector) { c.now = now }
}

func NewRealtimeCollector(ingestor *Ingestor, pipe *mid.RealtimePipeline, flusher drepo.Flusher, l *logger.Logger, opts ...CollectorOption) *RealtimeCollector {
	if l == nil {
		l = logger.NewNop()
	}
	c := &RealtimeCollector{
		ingestor:      ingestor,
		pipe:          pipe,
		flusher:       flusher,
		pollInterval:  30 * time.Second,
		flushInterval: time.Minute,
		now:           func() time.Time { return time.Now().UTC() },
		l:             l,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCycle performs one poll cycle against the pull source.
func (c *RealtimeCollector) RunCycle(ctx context.Context) (pipemetrics.CycleSummary, error) {
	start := time.Now()
	summary := pipemetrics.CycleSummary{Mode: modeRealtime}
	if c.source == nil {
		return summary, fmt.Errorf("no pull source configured")
	}

	records, err := c.source.Fetch(ctx)
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, fmt.Errorf("fetch: %w", err)
	}

	res := c.ingestor.Ingest(ctx, records)
	summary.Processed = len(records)
	summary.Clean = res.Clean()
	summary.Anomalies = res.Anomalies()
	summary.Invalid = len(res.Invalid)

	flushErr := c.flush(ctx)
	summary.Duration = time.Since(start)
	pipemetrics.Observe(summary)

	c.l.Info("cycle complete",
		logger.Int("processed", summary.Processed),
		logger.Int("clean", summary.Clean),
		logger.Int("anomalies", summary.Anomalies),
		logger.Int("invalid", summary.Invalid),
		logger.Int("throttled", res.Throttled),
		logger.Int("undelivered", res.Undelivered),
		logger.Duration("duration", summary.Duration),
	)
	if flushErr != nil {
		return summary, flushErr
	}
	return summary, nil
}

// Run blocks until ctx is cancelled, then flushes whatever is buffered.
func (c *RealtimeCollector) Run(ctx context.Context) error {
	c.pipe.Start(ctx)
	defer c.pipe.Stop()
	defer c.finalFlush()

	switch {
	case c.source != nil:
		c.pollLoop(ctx)
	case c.stream != nil:
		c.streamLoop(ctx)
	default:
		c.flushLoop(ctx)
	}
	return nil
}

func (c *RealtimeCollector) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := c.RunCycle(ctx); err != nil && ctx.Err() == nil {
			c.l.Error("cycle failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *RealtimeCollector) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.flush(ctx); err != nil {
				c.l.Error("flush failed", logger.Error(err))
			}
		}
	}
}

func (c *RealtimeCollector) streamLoop(ctx context.Context) {
	if err := c.stream.Connect(ctx); err != nil {
		c.l.Error("stream connect failed", logger.Error(err))
		if !c.reconnect(ctx) {
			return
		}
	}
	defer c.stream.Close()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	records, errs := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.flush(ctx); err != nil {
				c.l.Error("flush failed", logger.Error(err))
			}
		case rec, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			c.ingestor.Ingest(ctx, []models.RawRecord{rec})
		case err, ok := <-errs:
			if ok && err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.l.Warn("stream interrupted", logger.Error(err))
			if !c.reconnect(ctx) {
				return
			}
			records, errs = c.stream.Read(ctx)
		}
	}
}

// reconnect retries until the stream is back or ctx ends.
func (c *RealtimeCollector) reconnect(ctx context.Context) bool {
	for ctx.Err() == nil {
		if err := c.stream.Reconnect(ctx); err != nil {
			c.l.Error("stream reconnect failed", logger.Error(err))
			continue
		}
		return true
	}
	return false
}

func (c *RealtimeCollector) flush(ctx context.Context) error {
	if c.flusher == nil {
		return nil
	}
	err := c.flusher.Flush(ctx, c.now())
	pipemetrics.ObserveFlush(err)
	if err != nil {
		return fmt.Errorf("flush clean sink: %w", err)
	}
	return nil
}

func (c *RealtimeCollector) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.flush(ctx); err != nil {
		c.l.Error("final flush failed", logger.Error(err))
	}
}
