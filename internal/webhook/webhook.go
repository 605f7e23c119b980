// Package webhook posts a notification when a video reaches a terminal
// state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Event is the body POSTed to the webhook URL.
type Event struct {
	VideoID      string    `json:"video_id"`
	Status       string    `json:"status"`
	SnippetCount int       `json:"snippet_count"`
	Message      string    `json:"message,omitempty"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// DeliveryError represents a non-2xx answer from the webhook endpoint.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and 429.
// Other client errors are considered permanent.
func (e *DeliveryError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Notifier delivers events to a single URL. The zero URL disables it.
type Notifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

func New(url string, logger *slog.Logger) *Notifier {
	return &Notifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 30 * time.Second
			return bo
		},
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Notify delivers ev, retrying retryable failures. Failures are logged and
// never returned; a run's outcome does not depend on delivery.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if !n.Enabled() {
		return
	}
	if err := n.Send(ctx, ev); err != nil {
		n.logger.Warn("webhook delivery failed",
			"video_id", ev.VideoID,
			"status", ev.Status,
			"error", err,
		)
	}
}

// Send is Notify with the error returned.
func (n *Notifier) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := n.post(ctx, body)
		var de *DeliveryError
		if errors.As(err, &de) && !de.IsRetryable() {
			return backoff.Permanent(err)
		}
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(n.newBackOff(), ctx)); err != nil {
		return err
	}

	n.logger.Info("webhook delivered",
		"video_id", ev.VideoID,
		"status", ev.Status,
		"attempts", attempt,
	)
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Snuttify-Delivery-Id", uuid.NewString())

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
}
