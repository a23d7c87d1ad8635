package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"SensorPull/internal/usecase"
	"SensorPull/pkg/config"
	xhttp "SensorPull/pkg/http"
	pkgkafka "SensorPull/pkg/kafka"
	applogger "SensorPull/pkg/logger"
	"SensorPull/pkg/queue"
)

// Option attaches a component to the App.
type Option func(*App)

// App owns the start and shutdown order of every long-lived component.
type App struct {
	cfg *config.Config
	l   *applogger.Logger

	collector  *usecase.RealtimeCollector
	batch      *usecase.BatchRunner
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	alerts     *queue.RedisQueue
	httpServer *xhttp.Server
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

func WithCollector(c *usecase.RealtimeCollector) Option {
	return func(a *App) { a.collector = c }
}

func WithBatchRunner(b *usecase.BatchRunner) Option {
	return func(a *App) { a.batch = b }
}

// WithKafkaConsumer runs consumer with kh registered. Ignored when either is nil.
func WithKafkaConsumer(consumer *pkgkafka.Consumer, kh pkgkafka.MessageHandler) Option {
	return func(a *App) {
		if consumer == nil || kh == nil {
			return
		}
		a.consumer = consumer
		a.kh = kh
	}
}

func WithAlertWorker(q *queue.RedisQueue) Option {
	return func(a *App) { a.alerts = q }
}

func WithHTTPServer(s *xhttp.Server) Option {
	return func(a *App) { a.httpServer = s }
}

// WithCloser registers c to be closed on shutdown, in reverse order of registration.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c == nil {
			return
		}
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, opts ...Option) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	a := &App{cfg: cfg, l: l}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunRealtime starts every real-time component and blocks until ctx is done.
func (a *App) RunRealtime(ctx context.Context) error {
	if a.collector == nil {
		return errors.New("realtime mode requires a collector")
	}
	defer a.close()

	if a.alerts != nil {
		if err := a.alerts.Start(); err != nil {
			return fmt.Errorf("start alert worker: %w", err)
		}
		a.l.Info("alert worker started")
	}

	if a.consumer != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.stopAlerts()
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.stopConsumer()
			a.stopAlerts()
			return fmt.Errorf("start http server: %w", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- a.collector.Run(ctx) }()
	a.l.Info("realtime collector started",
		applogger.String("source", a.cfg.Source.Type),
		applogger.String("policy", a.cfg.Detection.Policy))

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
		runErr = <-done
	case runErr = <-done:
	}

	a.shutdown()
	if runErr != nil {
		return fmt.Errorf("collector: %w", runErr)
	}
	return nil
}

// RunBatch processes days partitions starting at start, then releases resources.
func (a *App) RunBatch(ctx context.Context, start time.Time, days int) error {
	if a.batch == nil {
		return errors.New("batch mode requires a batch runner")
	}
	defer a.close()

	if a.alerts != nil {
		if err := a.alerts.Start(); err != nil {
			return fmt.Errorf("start alert publisher: %w", err)
		}
		defer a.stopAlerts()
	}

	began := time.Now()
	summaries, err := a.batch.Run(ctx, start, days)
	total := 0
	for _, s := range summaries {
		total += s.Loaded
	}
	a.l.Info("batch finished",
		applogger.Int("partitions", len(summaries)),
		applogger.Int("readings", total),
		applogger.Duration("duration", time.Since(began)))
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	return nil
}

// shutdown stops the entry points first so nothing new arrives while the
// workers drain.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	a.stopConsumer()
	a.stopAlerts()
	a.l.Info("shutdown complete")
}

func (a *App) stopConsumer() {
	if a.consumer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.consumer.Stop(ctx); err != nil {
		a.l.Warn("kafka consumer stop error", applogger.Error(err))
	}
}

func (a *App) stopAlerts() {
	if a.alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.alerts.Stop(ctx); err != nil {
		a.l.Warn("alert worker stop error", applogger.Error(err))
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("component", nc.name), applogger.Error(err))
		}
	}
	a.closers = nil
}
