// Package notify delivers out-of-band status messages, currently to a Slack
// incoming webhook. Delivery failures are logged and never surfaced to the
// caller, since a missed ping must not fail the transition that caused it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier sends a human-readable message about an event.
type Notifier interface {
	ProjectReadyForVoting(ctx context.Context, slackID, projectName string)
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) ProjectReadyForVoting(context.Context, string, string) {}

// Slack posts messages to an incoming webhook.
type Slack struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlack builds a webhook notifier. An empty URL yields a notifier that
// only logs.
func NewSlack(webhookURL string, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (s *Slack) ProjectReadyForVoting(ctx context.Context, slackID, projectName string) {
	text := fmt.Sprintf("<@%s> your project %q has been approved and is headed to voting. Good luck!", slackID, projectName)
	s.post(ctx, text)
}

func (s *Slack) post(ctx context.Context, text string) {
	if s.webhookURL == "" {
		s.logger.Info("notification skipped, no webhook configured", slog.String("text", text))
		return
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		s.logger.Warn("notification encode failed", slog.String("error", err.Error()))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("notification request failed", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("notification delivery failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("notification rejected", slog.Int("status", resp.StatusCode))
	}
}

var (
	_ Notifier = (*Slack)(nil)
	_ Notifier = Noop{}
)
