package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotRunning     = errors.New("queue not running")
	ErrAlreadyRunning = errors.New("queue already running")
	ErrUnknownType    = errors.New("no job registered for message type")
)

// QueueService is the producer side used by sinks.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig tunes the consumer side. Zero values take defaults.
type QueueConfig struct {
	Workers       int
	RetryLimit    int           // retries after the first attempt
	RetryDelay    time.Duration // first retry delay, doubled per attempt
	MaxRetryDelay time.Duration
	RetryPoll     time.Duration // how often due retries are moved back
}

func (c *QueueConfig) withDefaults() *QueueConfig {
	out := QueueConfig{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.MaxRetryDelay < out.RetryDelay {
		out.MaxRetryDelay = 32 * out.RetryDelay
	}
	if out.RetryPoll <= 0 {
		out.RetryPoll = time.Second
	}
	return &out
}

// backoff returns the delay before retry number attempt (1-based).
func (c *QueueConfig) backoff(attempt int) time.Duration {
	d := c.RetryDelay
	for i := 1; i < attempt && d < c.MaxRetryDelay; i++ {
		d *= 2
	}
	if d > c.MaxRetryDelay {
		d = c.MaxRetryDelay
	}
	return d
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeadLetter is a message that exhausted its retries.
type DeadLetter struct {
	Message  Message   `json:"message"`
	FailedAt time.Time `json:"failed_at"`
}

// ParsePayload decodes a job payload into T. Workers hand jobs a
// json.RawMessage; in-process callers may pass T or *T directly.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var out T
	var raw []byte
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
