package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/retry"
	"go.uber.org/zap"
)

// ErrRejected is returned when the webhook answers with a non-2xx status
// below 500. These are not retried.
var ErrRejected = errors.New("webhook rejected the notification")

type webhookPayload struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Success   bool           `json:"success"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details"`
}

// WebhookNotifier posts notifications as JSON to a single URL
type WebhookNotifier struct {
	httpClient *http.Client
	url        string
	policy     retry.Policy
	now        func() time.Time
	logger     *zap.Logger
}

// NewWebhookNotifier creates a notifier on the shared HTTP client
func NewWebhookNotifier(httpClient *http.Client, cfg config.NotifyConfig, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: httpClient,
		url:        cfg.WebhookURL,
		policy:     retry.New(cfg.RetryAttempts, cfg.RetryDelay, logger),
		now:        time.Now,
		logger:     logger,
	}
}

// Send posts the notification. A missing URL is logged and skipped.
func (w *WebhookNotifier) Send(ctx context.Context, n core.Notification) error {
	if w.url == "" {
		w.logger.Warn("Webhook URL not configured, skipping notification", zap.String("title", n.Title))
		return nil
	}

	details := n.Details
	if details == nil {
		details = map[string]any{}
	}
	body, err := json.Marshal(webhookPayload{
		Title:     n.Title,
		Message:   n.Message,
		Success:   n.Success,
		Timestamp: w.now().UTC().Format("2006-01-02T15:04:05.000000Z"),
		Details:   details,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	status, err := retry.Do(ctx, w.policy, "webhook notification", func(ctx context.Context) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := w.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("webhook request failed: %w", err)
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

		if res.StatusCode >= http.StatusInternalServerError {
			return 0, fmt.Errorf("webhook returned status %d", res.StatusCode)
		}
		return res.StatusCode, nil
	})
	if err != nil {
		return err
	}

	if status < 200 || status >= 300 {
		w.logger.Error("Webhook rejected notification",
			zap.String("title", n.Title),
			zap.Int("status", status))
		return fmt.Errorf("%w: status %d", ErrRejected, status)
	}

	w.logger.Info("Notification sent", zap.String("title", n.Title), zap.Int("status", status))
	return nil
}

var _ core.Notifier = (*WebhookNotifier)(nil)
