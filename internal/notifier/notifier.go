// Package notifier defines the outbound alert sink interface and its
// concrete implementations: a webhook notifier and a stdout fallback.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sink is a one-way notification channel. Send may fail (network error,
// non-2xx response); the caller decides how to react.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Webhook posts the message body to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook builds a webhook Sink with the given timeout.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "notifier.webhook"),
	}
}

func (w *Webhook) Send(ctx context.Context, text string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBufferString(text))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Stdout is the dry-run fallback sink used when no webhook is configured.
// It never fails.
type Stdout struct {
	logger *slog.Logger
}

// NewStdout builds the stdout fallback Sink.
func NewStdout(logger *slog.Logger) *Stdout {
	return &Stdout{logger: logger.With("component", "notifier.stdout")}
}

func (s *Stdout) Send(ctx context.Context, text string) error {
	s.logger.Info("alert", "message", text)
	return nil
}

// New picks Webhook when webhookURL is non-empty, else falls back to Stdout
// (the dry-run path, matching the teacher's cfg.DryRun downgrade).
func New(webhookURL string, timeout time.Duration, logger *slog.Logger) Sink {
	if webhookURL == "" {
		logger.Warn("no notifier webhook configured, falling back to stdout")
		return NewStdout(logger)
	}
	return NewWebhook(webhookURL, timeout, logger)
}
