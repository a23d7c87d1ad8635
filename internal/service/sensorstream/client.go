package sensorstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"SensorPull/internal/domain/models"
	drepo "SensorPull/internal/domain/repository"
	"SensorPull/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client implements a ReadingStream backed by a gateway WebSocket feed.
type Client struct {
	url            string
	apiKey         string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	l              *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a WebSocket ReadingStream.
func New(url, apiKey string, reconnectDelay, pingInterval time.Duration, l *logger.Logger) *Client {
	if l == nil {
		l = logger.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		url:            url,
		apiKey:         apiKey,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		l:              l,
	}
}

// Connect dials the feed.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("sensor stream connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.l.Info("sensor stream connected", logger.String("url", c.url))
	return nil
}

// frame is either a batch {"type":"readings","data":[...]} or a single record.
type frame struct {
	Type string             `json:"type"`
	Data []models.RawRecord `json:"data"`
	models.RawRecord
}

func decodeFrame(b []byte) ([]models.RawRecord, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	switch {
	case f.Type == "readings":
		return f.Data, nil
	case f.Type == "" && f.SensorID != "":
		return []models.RawRecord{f.RawRecord}, nil
	default:
		return nil, nil
	}
}

// Read streams records and the terminal error of the connection.
func (c *Client) Read(ctx context.Context) (<-chan models.RawRecord, <-chan error) {
	records := make(chan models.RawRecord, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	go func() {
		if conn == nil {
			return
		}
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(records)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("sensor stream not connected")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				errs <- fmt.Errorf("sensor stream read: %w", err)
				return
			}
			recs, err := decodeFrame(b)
			if err != nil {
				c.l.Debug("skipping undecodable frame", logger.Error(err))
				continue
			}
			for _, r := range recs {
				select {
				case records <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return records, errs
}

// Reconnect closes the current connection, waits and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Connect(ctx)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ drepo.ReadingStream = (*Client)(nil)
