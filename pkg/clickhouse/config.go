package clickhouse

import (
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	applogger "SensorPull/pkg/logger"
)

// Option configures Client.
type Option func(*Config)

// Config holds the connection settings handed to clickhouse.OpenDB.
type Config struct {
	Addrs           []string
	Database        string
	User            string
	Password        string
	Protocol        clickhouse.Protocol
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	Compress        bool
	Settings        clickhouse.Settings

	// Ping is retried so that a freshly started server has time to accept connections.
	PingAttempts int
	PingBackoff  time.Duration

	Logger *applogger.Logger
}

func defaultConfig() *Config {
	return &Config{
		Database:        "default",
		User:            "default",
		Protocol:        clickhouse.Native,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		Settings:        clickhouse.Settings{},
		PingAttempts:    3,
		PingBackoff:     time.Second,
	}
}

// WithAddr adds a server address. May be repeated for a cluster.
func WithAddr(host string, port int) Option {
	return func(c *Config) {
		c.Addrs = append(c.Addrs, fmt.Sprintf("%s:%d", host, port))
	}
}

func WithDatabase(database string) Option {
	return func(c *Config) {
		c.Database = database
	}
}

func WithCredentials(user, password string) Option {
	return func(c *Config) {
		c.User = user
		c.Password = password
	}
}

// WithPool sets the database/sql pool limits.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) Option {
	return func(c *Config) {
		c.MaxOpenConns = maxOpen
		c.MaxIdleConns = maxIdle
		c.ConnMaxLifetime = lifetime
	}
}

func WithTimeouts(dial, read time.Duration) Option {
	return func(c *Config) {
		c.DialTimeout = dial
		c.ReadTimeout = read
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(useHTTP bool) Option {
	return func(c *Config) {
		if useHTTP {
			c.Protocol = clickhouse.HTTP
		} else {
			c.Protocol = clickhouse.Native
		}
	}
}

// WithAsyncInsert turns on server-side insert buffering for the session.
func WithAsyncInsert(enabled, wait bool) Option {
	return func(c *Config) {
		if !enabled {
			delete(c.Settings, "async_insert")
			delete(c.Settings, "wait_for_async_insert")
			return
		}
		c.Settings["async_insert"] = 1
		if wait {
			c.Settings["wait_for_async_insert"] = 1
		}
	}
}

// WithMaxExecutionTime caps query time; zero leaves the server default.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(c *Config) {
		if d <= 0 {
			delete(c.Settings, "max_execution_time")
			return
		}
		secs := int(d / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Settings["max_execution_time"] = secs
	}
}

// WithCompression enables LZ4 block compression.
func WithCompression(enabled bool) Option {
	return func(c *Config) {
		c.Compress = enabled
	}
}

func WithPingRetry(attempts int, backoff time.Duration) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.PingAttempts = attempts
		}
		if backoff > 0 {
			c.PingBackoff = backoff
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func (c *Config) options() *clickhouse.Options {
	o := &clickhouse.Options{
		Addr:     c.Addrs,
		Protocol: c.Protocol,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		Settings:        c.Settings,
	}
	if c.Compress {
		o.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	return o
}
