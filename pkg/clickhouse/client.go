package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	applogger "SensorPull/pkg/logger"
)

// Client owns the ClickHouse connection pool shared by the repositories.
type Client struct {
	db  *sql.DB
	cfg *Config
	l   *applogger.Logger
}

// NewClient opens the pool and waits for the server to answer a ping.
func NewClient(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("clickhouse: at least one address is required")
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.NewNop()
	}

	db := clickhouse.OpenDB(cfg.options())
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	c := &Client{db: db, cfg: cfg, l: l}
	if err := c.pingWithRetry(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	l.Info("clickhouse connected",
		applogger.Strings("addrs", cfg.Addrs),
		applogger.String("database", cfg.Database),
		applogger.String("protocol", cfg.Protocol.String()))
	return c, nil
}

func (c *Client) pingWithRetry(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= c.cfg.PingAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		err = c.db.PingContext(pctx)
		cancel()
		if err == nil {
			return nil
		}
		var ex *clickhouse.Exception
		if errors.As(err, &ex) {
			// Auth or unknown-database errors will not fix themselves.
			return fmt.Errorf("clickhouse ping: code %d: %s", ex.Code, ex.Message)
		}
		if attempt < c.cfg.PingAttempts {
			c.l.Warn("clickhouse ping failed, retrying",
				applogger.Int("attempt", attempt),
				applogger.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.PingBackoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("clickhouse ping after %d attempts: %w", c.cfg.PingAttempts, err)
}

// DB returns the pool for repositories.
func (c *Client) DB() *sql.DB {
	return c.db
}

func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// InitSchema runs idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d (%s): %w", i, ddlTarget(stmt), err)
		}
		c.l.Debug("clickhouse schema applied", applogger.String("target", ddlTarget(stmt)))
	}
	return nil
}

// ddlTarget extracts the table name from a CREATE TABLE statement for logs.
func ddlTarget(stmt string) string {
	fields := strings.Fields(stmt)
	for i, f := range fields {
		if strings.EqualFold(f, "EXISTS") && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	if len(fields) > 3 {
		return fields[2]
	}
	return "?"
}
