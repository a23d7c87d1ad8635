package alert

import (
	"context"
	"fmt"
	"time"

	"SensorPull/internal/domain/models"
	xhttp "SensorPull/pkg/http"
)

// Notifier delivers one alert to an external system.
type Notifier interface {
	Notify(ctx context.Context, p models.AlertPayload) error
}

// WebhookNotifier posts alerts as JSON to a fixed URL.
type WebhookNotifier struct {
	url      string
	client   *xhttp.Client
	attempts int
}

// NewWebhookNotifier builds a notifier with a per-request timeout and retry attempts.
func NewWebhookNotifier(url string, timeout time.Duration, attempts int) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:      url,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		attempts: attempts,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, p models.AlertPayload) error {
	if n.url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	err := n.client.DoWithRetry(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    n.url,
		Body:   p,
	}, nil, xhttp.RetryPolicy{Attempts: n.attempts, Backoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	return nil
}
