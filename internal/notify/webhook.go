// Package notify delivers workflow notifications to a webhook or the log.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// WebhookConfig configures a Webhook notifier.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
}

// Webhook POSTs each notification as JSON. Attachments are sent inline,
// base64-encoded by encoding/json.
type Webhook struct {
	client *resty.Client
	url    string
}

var _ core.Notifier = (*Webhook)(nil)

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	return &Webhook{client: client, url: cfg.URL}
}

func (w *Webhook) Notify(ctx context.Context, n core.Notification) error {
	start := time.Now()
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: status %d", resp.StatusCode())
	}
	slog.Info("notification delivered",
		"submission_id", n.SubmissionID,
		"type", n.Type,
		"attachments", len(n.Attachments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Log writes notifications to the structured log. Used when no webhook is
// configured.
type Log struct{}

func (Log) Notify(_ context.Context, n core.Notification) error {
	slog.Info("notification",
		"submission_id", n.SubmissionID,
		"submitter", n.Submitter,
		"type", n.Type,
		"related_id", n.RelatedID,
		"attachments", len(n.Attachments),
	)
	return nil
}
