package iotapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SensorPull/internal/domain/models"
	"SensorPull/internal/domain/repository"
	xhttp "SensorPull/pkg/http"
	"SensorPull/pkg/logger"
)

const (
	latestPath   = "/readings/latest"
	apiKeyHeader = "X-API-Key"
)

// Client polls the IoT gateway REST API for the latest sensor records.
type Client struct {
	baseURL string
	apiKey  string
	retries int
	backoff time.Duration
	http    *xhttp.Client
	l       *logger.Logger
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.backoff = backoff
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = xhttp.NewClient(xhttp.WithTimeout(d)) }
}

func NewClient(baseURL string, l *logger.Logger, opts ...Option) *Client {
	if l == nil {
		l = logger.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		retries: 3,
		backoff: time.Second,
		http:    xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		l:       l,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// latestResponse accepts both a bare array and an object wrapping "readings".
type latestResponse struct {
	Readings []models.RawRecord
}

func (r *latestResponse) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(b, &r.Readings)
	}
	var wrapped struct {
		Readings []models.RawRecord `json:"readings"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	r.Readings = wrapped.Readings
	return nil
}

// Fetch returns the records currently published by the gateway.
func (c *Client) Fetch(ctx context.Context) ([]models.RawRecord, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("iot api: base url not configured")
	}
	headers := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		headers[apiKeyHeader] = c.apiKey
	}

	start := time.Now()
	var resp latestResponse
	err := c.http.DoWithRetry(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.baseURL + latestPath,
		Headers: headers,
	}, &resp, xhttp.RetryPolicy{Attempts: c.retries, Backoff: c.backoff, MaxBackoff: 10 * c.backoff})
	if err != nil {
		return nil, fmt.Errorf("iot api fetch: %w", err)
	}

	c.l.Debug("fetched sensor records",
		logger.Int("count", len(resp.Readings)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return resp.Readings, nil
}

var _ repository.ReadingSource = (*Client)(nil)
