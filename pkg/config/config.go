package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		BodyLimit       string        `yaml:"body_limit" default:"4M"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
	} `yaml:"server"`
	Logging struct {
		Level     string `yaml:"level" default:"info"`
		Format    string `yaml:"format" default:"console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"sensorpull.logs"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
			IncludeWarn    bool          `yaml:"include_warn"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"metrics"`
	Source    SourceConfig    `yaml:"source"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Detection DetectionConfig `yaml:"detection"`
	Batch     struct {
		ResetWindows bool `yaml:"reset_windows" default:"true"`
		Days         int  `yaml:"days" default:"1"`
	} `yaml:"batch"`
	Kafka struct {
		Enabled       bool     `yaml:"enabled"`
		Brokers       []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		ReadingsTopic string   `yaml:"readings_topic" default:"sensor.readings"`
		AnomalyTopic  string   `yaml:"anomaly_topic" default:"sensor.anomalies"`
		RequiredAcks  int      `yaml:"required_acks" default:"-1"`
		Compression   string   `yaml:"compression" default:"snappy"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"sensorpull"`
			Offset     string        `yaml:"auto_offset_reset" default:"latest"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"sensor.readings.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"sensorpull"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		Compression      bool          `yaml:"compression"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Storage StorageConfig `yaml:"storage"`
	Redis   struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		MinIdle  int    `yaml:"min_idle" default:"2"`
		Prefix   string `yaml:"prefix" default:"sensorpull"`
	} `yaml:"redis"`
	Alerts AlertsConfig `yaml:"alerts"`
}

// SourceConfig selects where real-time readings come from.
type SourceConfig struct {
	Type           string        `yaml:"type" default:"http"` // http, kafka or websocket
	APIURL         string        `yaml:"api_url" default:"http://localhost:8000"`
	APIKey         string        `yaml:"api_key"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"30s"`
	Timeout        time.Duration `yaml:"timeout" default:"10s"`
	Retries        int           `yaml:"retries" default:"3"`
	WebSocketURL   string        `yaml:"websocket_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
}

// PipelineConfig tunes the real-time ingestion pipeline.
type PipelineConfig struct {
	MaxRPSPerSensor float64       `yaml:"max_rps_per_sensor" default:"20"`
	Burst           float64       `yaml:"burst" default:"40"`
	BufferSize      int           `yaml:"buffer_size" default:"1000"`
	FlushInterval   time.Duration `yaml:"flush_interval" default:"1m"`
}

// BoundsConfig is a static [min, max] range for one metric.
type BoundsConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DetectionConfig holds the anomaly engine tunables as read from YAML.
type DetectionConfig struct {
	WindowSize      int                     `yaml:"window_size" default:"30"`
	MinSamples      int                     `yaml:"min_samples" default:"5"`
	ZScoreThreshold float64                 `yaml:"zscore_threshold" default:"3.0"`
	IQRMultiplier   float64                 `yaml:"iqr_multiplier" default:"1.5"`
	PatternLength   int                     `yaml:"pattern_length" default:"5"`
	StepSigma       float64                 `yaml:"step_sigma" default:"0.5"`
	Policy          string                  `yaml:"policy" default:"ANY"`
	Quorum          int                     `yaml:"quorum" default:"2"`
	Detectors       []string                `yaml:"detectors" default:"[\"zscore\",\"iqr\",\"threshold\",\"pattern\"]"`
	Parallel        bool                    `yaml:"parallel_detectors"`
	Bounds          map[string]BoundsConfig `yaml:"bounds"`
}

// StorageConfig points at the S3-compatible bucket for clean readings.
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" default:"localhost:9000"`
	Bucket    string `yaml:"bucket" default:"sensor-data"`
	Region    string `yaml:"region" default:"us-east-1"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix" default:"clean-data"`
}

// AlertsConfig configures the anomaly alert queue and webhook.
type AlertsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	WebhookURL string        `yaml:"webhook_url"`
	Cooldown   time.Duration `yaml:"cooldown" default:"5m"`
	Workers    int           `yaml:"workers" default:"2"`
	MaxRetries int           `yaml:"max_retries" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"5s"`
	Timeout    time.Duration `yaml:"timeout" default:"5s"`
	QueueName  string        `yaml:"queue_name" default:"alerts"`
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

func parse(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// defaults first so YAML only overrides what it sets
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("SENSORPULL_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("S3_BUCKET_NAME"); v != "" {
		c.Storage.Bucket = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		c.Storage.Endpoint = v
	}
	if v := getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.Storage.AccessKey = v
	}
	if v := getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.Storage.SecretKey = v
	}
	if v := getenv("IOT_API_URL"); v != "" {
		c.Source.APIURL = v
	}
	if v := getenv("IOT_API_KEY"); v != "" {
		c.Source.APIKey = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("ALERT_WEBHOOK_URL"); v != "" {
		c.Alerts.WebhookURL = v
	}
}

// Validate checks if the configuration is valid. Detection tunables are
// validated again, field by field, when the engine is built.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Source.Type {
	case "http":
		if c.Source.APIURL == "" {
			return fmt.Errorf("source.api_url is required for http source")
		}
		if c.Source.PollInterval <= 0 {
			return fmt.Errorf("source.poll_interval must be positive")
		}
	case "websocket":
		if c.Source.WebSocketURL == "" {
			return fmt.Errorf("source.websocket_url is required for websocket source")
		}
	case "kafka":
		if !c.Kafka.Enabled {
			return fmt.Errorf("kafka.enabled must be true for kafka source")
		}
	default:
		return fmt.Errorf("source.type must be 'http', 'kafka' or 'websocket', got '%s'", c.Source.Type)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Alerts.Enabled {
		if !c.Redis.Enabled {
			return fmt.Errorf("alerts require redis.enabled")
		}
		if c.Alerts.WebhookURL == "" {
			return fmt.Errorf("alerts.webhook_url is required")
		}
	}
	if p := strings.ToUpper(c.Detection.Policy); p != "ANY" && p != "ALL" {
		return fmt.Errorf("detection.policy must be 'ANY' or 'ALL', got '%s'", c.Detection.Policy)
	}
	if c.Batch.Days < 1 {
		return fmt.Errorf("batch.days must be >= 1")
	}
	return nil
}
