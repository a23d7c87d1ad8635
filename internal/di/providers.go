package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SensorPull/internal/domain/models"
	"SensorPull/internal/domain/repository"
	"SensorPull/internal/handler/api"
	mid "SensorPull/internal/middleware"
	internalrepo "SensorPull/internal/repository"
	"SensorPull/internal/service/alert"
	"SensorPull/internal/service/iotapi"
	pipemetrics "SensorPull/internal/service/metrics"
	"SensorPull/internal/service/sensorstream"
	"SensorPull/internal/services/detectors"
	"SensorPull/internal/services/engine"
	"SensorPull/internal/services/ingest"
	"SensorPull/internal/usecase"
	pkgcache "SensorPull/pkg/cache"
	pkgch "SensorPull/pkg/clickhouse"
	"SensorPull/pkg/config"
	xhttp "SensorPull/pkg/http"
	pkgkafka "SensorPull/pkg/kafka"
	"SensorPull/pkg/logger"
	"SensorPull/pkg/metrics"
	"SensorPull/pkg/objectstore"
	"SensorPull/pkg/queue"
	"SensorPull/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const alertQueuePrefix = "sensorpull:queue"

// ProvideLogger builds the application logger from the logging section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: "sensorpull",
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideRegistry creates the registry every collector in the process registers on.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipemetrics.Register(reg)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// EngineConfig converts the YAML detection section into an engine config.
// Bounds not named in YAML keep their defaults.
func EngineConfig(d config.DetectionConfig) (engine.Config, error) {
	ec := engine.DefaultConfig()
	ec.WindowSize = d.WindowSize
	ec.MinSamples = d.MinSamples
	ec.ZScoreThreshold = d.ZScoreThreshold
	ec.IQRMultiplier = d.IQRMultiplier
	ec.PatternLength = d.PatternLength
	ec.StepSigma = d.StepSigma
	ec.Policy = models.Policy(strings.ToUpper(d.Policy))
	ec.Quorum = d.Quorum
	ec.ParallelDetectors = d.Parallel

	if len(d.Detectors) > 0 {
		kinds := make([]detectors.Kind, 0, len(d.Detectors))
		for _, name := range d.Detectors {
			k, err := detectors.ParseKind(name)
			if err != nil {
				return engine.Config{}, err
			}
			kinds = append(kinds, k)
		}
		ec.Detectors = kinds
	}

	bounds := detectors.DefaultBounds()
	for name, b := range d.Bounds {
		m, err := models.ParseMetric(name)
		if err != nil {
			return engine.Config{}, fmt.Errorf("detection.bounds: %w", err)
		}
		bounds[m] = detectors.Bounds{Min: b.Min, Max: b.Max}
	}
	ec.Bounds = bounds
	return ec, nil
}

// ProvideEngine builds the decision engine. Invalid tunables fail startup.
func ProvideEngine(cfg *config.Config) (*engine.Engine, error) {
	ec, err := EngineConfig(cfg.Detection)
	if err != nil {
		return nil, fmt.Errorf("detection config: %w", err)
	}
	e, err := engine.New(ec)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return e, nil
}

func ProvideDecisionProcessor(e *engine.Engine, m repository.Metrics) *usecase.DecisionProcessor {
	return usecase.NewDecisionProcessor(e, m)
}

// ProvideClickHouseClient creates a ClickHouse client. Nil when disabled.
func ProvideClickHouseClient(cfg *config.Config, l *logger.Logger) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(10, 5, 5*time.Minute),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithCompression(cfg.ClickHouse.Compression),
		pkgch.WithLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ReadingSchema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideReadingStore wraps the ClickHouse client. Nil when ClickHouse is disabled.
func ProvideReadingStore(ch *pkgch.Client, l *logger.Logger) repository.ReadingStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHReadingStore(ch, l)
}

// ProvideKafkaProducer creates a Kafka producer and, when configured, ships
// aggregated error logs through it. Nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, l *logger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerLogger(l),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Logging.Collector.Enabled {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.CountThreshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      producer,
			Source:         "sensorpull-" + cfg.Environment,
			IncludeWarn:    cfg.Logging.Collector.IncludeWarn,
			VolatileFields: []string{"value", "ts", "decision_id", "latency_ms", "attempt", "offset", "request_id", "uri", "remote", "bytes_out", "stack"},
		})
	}
	return producer, nil
}

// ProvideObjectStore creates the S3/MinIO client for clean readings. Nil when disabled.
func ProvideObjectStore(cfg *config.Config) (*objectstore.Client, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	c, err := objectstore.NewClient(
		objectstore.WithEndpoint(cfg.Storage.Endpoint),
		objectstore.WithCredentials(cfg.Storage.AccessKey, cfg.Storage.SecretKey),
		objectstore.WithRegion(cfg.Storage.Region),
		objectstore.WithBucket(cfg.Storage.Bucket),
		objectstore.WithSSL(cfg.Storage.UseSSL),
		objectstore.WithCreateBucket(true),
	)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	return c, nil
}

// ProvideRedisCache connects to Redis. Nil when disabled.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	c, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdle),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return c, nil
}

func alertQueueConfig(cfg *config.Config) *queue.QueueConfig {
	return &queue.QueueConfig{
		Workers:    cfg.Alerts.Workers,
		RetryLimit: cfg.Alerts.MaxRetries,
		RetryDelay: cfg.Alerts.RetryDelay,
	}
}

func alertQueueOptions(cfg *config.Config, reg *prometheus.Registry) []queue.RedisQueueOption {
	return []queue.RedisQueueOption{
		queue.WithKeyPrefix(alertQueuePrefix + ":" + cfg.Alerts.QueueName),
		queue.WithMetrics(reg),
	}
}

// ProvideAlertWorker builds the queue consumer that delivers alert webhooks.
// It also publishes, so the anomaly sink shares it. Nil when alerts are disabled.
func ProvideAlertWorker(cfg *config.Config, rc *pkgcache.RedisCache, reg *prometheus.Registry, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Alerts.Enabled || rc == nil {
		return nil
	}
	notifier := alert.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout, cfg.Alerts.MaxRetries)
	job := alert.NewJob(rc, notifier, cfg.Alerts.Cooldown, l)
	return queue.NewRedisConsumer(l, alertQueueConfig(cfg), rc.Client(), []queue.Job{job}, alertQueueOptions(cfg, reg)...)
}

// ProvideAlertPublisher enqueues alerts without consuming them; a real-time
// instance delivers them. Nil when alerts are disabled.
func ProvideAlertPublisher(cfg *config.Config, rc *pkgcache.RedisCache, reg *prometheus.Registry, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Alerts.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisPublisher(l, rc.Client(), alertQueueOptions(cfg, reg)...)
}

// ProvideAnomalySink fans anomalous decisions out to every enabled destination.
func ProvideAnomalySink(
	cfg *config.Config,
	producer *pkgkafka.Producer,
	alerts *queue.RedisQueue,
	store repository.ReadingStore,
) *internalrepo.AnomalyFanout {
	var sinks []repository.AnomalySink
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaAnomalySink(producer, cfg.Kafka.AnomalyTopic))
	}
	if alerts != nil {
		sinks = append(sinks, internalrepo.NewAlertQueueSink(alerts))
	}
	if store != nil {
		sinks = append(sinks, internalrepo.NewStoreAnomalySink(store))
	}
	return internalrepo.NewAnomalyFanout(sinks...)
}

// RealtimeCleanSink uploads clean readings to the bucket and persists them to
// ClickHouse so batch mode can replay the day.
type RealtimeCleanSink struct{ *internalrepo.CleanFanout }

func ProvideRealtimeCleanSink(cfg *config.Config, bucket *objectstore.Client, store repository.ReadingStore, l *logger.Logger) RealtimeCleanSink {
	var sinks []repository.CleanSink
	if bucket != nil {
		sinks = append(sinks, internalrepo.NewObjectStoreSink(bucket, cfg.Storage.Prefix, l))
	}
	if store != nil {
		sinks = append(sinks, internalrepo.NewStoreCleanSink(store))
	}
	return RealtimeCleanSink{internalrepo.NewCleanFanout(sinks...)}
}

// BatchCleanSink only uploads; the readings already live in ClickHouse.
type BatchCleanSink struct{ *internalrepo.CleanFanout }

func ProvideBatchCleanSink(cfg *config.Config, bucket *objectstore.Client, l *logger.Logger) BatchCleanSink {
	var sinks []repository.CleanSink
	if bucket != nil {
		sinks = append(sinks, internalrepo.NewObjectStoreSink(bucket, cfg.Storage.Prefix, l))
	}
	return BatchCleanSink{internalrepo.NewCleanFanout(sinks...)}
}

func ProvideRealtimeRouter(clean RealtimeCleanSink, anomaly *internalrepo.AnomalyFanout, m repository.Metrics, l *logger.Logger) *usecase.DecisionRouter {
	return usecase.NewDecisionRouter(clean, anomaly, m, l)
}

func ProvideBatchRouter(clean BatchCleanSink, anomaly *internalrepo.AnomalyFanout, m repository.Metrics, l *logger.Logger) *usecase.DecisionRouter {
	return usecase.NewDecisionRouter(clean, anomaly, m, l)
}

// ProvidePipeline builds the throttling and redelivery stage in front of the engine.
func ProvidePipeline(cfg *config.Config, proc *usecase.DecisionProcessor, router *usecase.DecisionRouter, m repository.Metrics, l *logger.Logger) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(proc, router, m,
		mid.WithMaxRPS(int(cfg.Pipeline.MaxRPSPerSensor)),
		mid.WithBurst(int(cfg.Pipeline.Burst)),
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithLogger(l),
	)
}

func ProvideIngestor(pipe *mid.RealtimePipeline, l *logger.Logger) *usecase.Ingestor {
	return usecase.NewIngestor(ingest.NewValidator(l), pipe, l)
}

// ProvideCollector attaches the configured pull or push source. A kafka
// source leaves both unset; the consumer feeds the ingestor instead.
func ProvideCollector(cfg *config.Config, in *usecase.Ingestor, pipe *mid.RealtimePipeline, clean RealtimeCleanSink, l *logger.Logger) *usecase.RealtimeCollector {
	opts := []usecase.CollectorOption{
		usecase.WithIntervals(cfg.Source.PollInterval, cfg.Pipeline.FlushInterval),
	}
	switch cfg.Source.Type {
	case "http":
		opts = append(opts, usecase.WithSource(iotapi.NewClient(cfg.Source.APIURL, l,
			iotapi.WithAPIKey(cfg.Source.APIKey),
			iotapi.WithTimeout(cfg.Source.Timeout),
			iotapi.WithRetries(cfg.Source.Retries, time.Second),
		)))
	case "websocket":
		opts = append(opts, usecase.WithStream(sensorstream.New(
			cfg.Source.WebSocketURL,
			cfg.Source.APIKey,
			cfg.Source.ReconnectDelay,
			cfg.Source.PingInterval,
			l,
		)))
	}
	return usecase.NewRealtimeCollector(in, pipe, clean, l, opts...)
}

// ProvideKafkaConsumer creates the readings consumer. Nil unless the source is kafka.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Source.Type != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.Offset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers, cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.JSONPayloadHook(),
		pkgkafka.TracingHook(l, time.Second),
	))
	return consumer, nil
}

// ProvideKafkaReadingsHandler registers handler for the readings topic.
func ProvideKafkaReadingsHandler(cfg *config.Config, in *usecase.Ingestor, m repository.Metrics, l *logger.Logger) *usecase.ReadingsHandler {
	return usecase.NewReadingsHandler(cfg.Kafka.ReadingsTopic, in, m, l)
}

// ProvideHTTPServer builds the Echo server with the ingestion API.
func ProvideHTTPServer(cfg *config.Config, in *usecase.Ingestor, proc *usecase.DecisionProcessor, store repository.ReadingStore, reg *prometheus.Registry, l *logger.Logger) *xhttp.Server {
	handler := api.NewReadingsHandler(l, in, proc)
	if ar, ok := store.(api.AnomalyReader); ok {
		handler.WithAnomalies(ar)
	}

	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithBodyLimit(cfg.Server.BodyLimit),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, reg))
	} else {
		empty := prometheus.NewRegistry()
		opts = append(opts, xhttp.WithMetrics(empty, empty))
	}
	return xhttp.NewServer(handler, opts...)
}

// ProvideRealtimeApp assembles the long-running real-time application.
func ProvideRealtimeApp(
	cfg *config.Config,
	l *logger.Logger,
	collector *usecase.RealtimeCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.ReadingsHandler,
	alerts *queue.RedisQueue,
	httpServer *xhttp.Server,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	rc *pkgcache.RedisCache,
) *server.App {
	opts := []server.Option{
		server.WithCollector(collector),
		server.WithHTTPServer(httpServer),
		closers(l, ch, producer, rc),
	}
	if consumer != nil {
		opts = append(opts, server.WithKafkaConsumer(consumer, kh))
	}
	if alerts != nil {
		opts = append(opts, server.WithAlertWorker(alerts))
	}
	return server.New(cfg, l, opts...)
}

// ProvideBatchApp assembles the batch replay application.
func ProvideBatchApp(
	cfg *config.Config,
	l *logger.Logger,
	store repository.ReadingStore,
	proc *usecase.DecisionProcessor,
	router *usecase.DecisionRouter,
	clean BatchCleanSink,
	alerts *queue.RedisQueue,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	rc *pkgcache.RedisCache,
) (*server.App, error) {
	if store == nil {
		return nil, fmt.Errorf("batch mode requires clickhouse.enabled")
	}
	runner := usecase.NewBatchRunner(store, proc, router, clean, cfg.Batch.ResetWindows, l)
	opts := []server.Option{server.WithBatchRunner(runner), closers(l, ch, producer, rc)}
	if alerts != nil {
		opts = append(opts, server.WithAlertWorker(alerts))
	}
	return server.New(cfg, l, opts...), nil
}

// closers registers infrastructure clients so that, closing in reverse, the
// log collector flushes before the kafka producer it publishes through.
func closers(l *logger.Logger, ch *pkgch.Client, producer *pkgkafka.Producer, rc *pkgcache.RedisCache) server.Option {
	var opts []server.Option
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer))
	}
	opts = append(opts, server.WithCloser("logger", collectorCloser{l}))
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch))
	}
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc))
	}
	return func(a *server.App) {
		for _, opt := range opts {
			opt(a)
		}
	}
}

type collectorCloser struct{ l *logger.Logger }

func (c collectorCloser) Close() error {
	c.l.RemoveCollector()
	return nil
}
