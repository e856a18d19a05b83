// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package notifications provides alerting capabilities via various channels.
//
// This package implements notification delivery for critical daemon events such
// as result-journal connectivity issues and local cache pressure, so operators
// can respond before finalized kernel results are lost.
//
// # Slack Integration
//
// Slack notifications use Incoming Webhooks for message delivery. The webhook URL
// is configured via the SLACK_WEBHOOK_URL environment variable or YAML config.
//
// # Alert Severity Levels
//
//   - danger/error: Red - Critical failures requiring immediate attention
//   - warning/warn: Yellow - Issues that may impact functionality
//   - good/success: Green - Recovery notifications
//
// # Error Handling
//
// Notification failures are logged but never block the daemon: disabled
// notifiers (empty webhook URL) skip sending silently, and all HTTP calls
// respect the caller's context and a 10 second timeout.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/repara/rmeasure/pkg/logger"
)

// SlackNotifier sends notifications to Slack via webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	enabled    bool
	source     string // name of the daemon sending alerts, e.g. "rmeasured"
}

// SlackMessage represents a Slack webhook message payload.
type SlackMessage struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Slack attachment.
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// NewSlackNotifier creates a new Slack notifier. source names the daemon
// ("rmeasured" or "picod") in the attachment footer.
func NewSlackNotifier(webhookURL, source string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		enabled:    webhookURL != "",
		source:     source,
	}
}

// IsEnabled returns whether Slack notifications are enabled.
func (s *SlackNotifier) IsEnabled() bool {
	return s.enabled
}

// SendAlert sends a formatted alert to Slack.
func (s *SlackNotifier) SendAlert(ctx context.Context, severity, title, message string) error {
	if !s.enabled {
		logger.Debug().Msg("Slack notifications disabled, skipping alert")
		return nil
	}

	payload := SlackMessage{
		Attachments: []Attachment{
			{
				Color:  s.severityToColor(severity),
				Title:  title,
				Text:   message,
				Footer: s.source,
				Ts:     time.Now().Unix(),
			},
		},
	}

	return s.sendPayload(ctx, payload)
}

// SendResultSinkFailure sends an alert when the result journal fails to write.
func (s *SlackNotifier) SendResultSinkFailure(ctx context.Context, err error) error {
	return s.SendAlert(ctx, "danger", "Result journal write failure",
		fmt.Sprintf("Failed to write finalized kernel result: %v\nResults will be cached locally until the sink recovers.", err))
}

// SendResultSinkRecovery sends an alert when the result journal recovers.
func (s *SlackNotifier) SendResultSinkRecovery(ctx context.Context) error {
	return s.SendAlert(ctx, "good", "Result journal restored",
		"Connection to the result journal has been restored. Cached results will be replayed.")
}

// SendCacheWarning sends an alert when local cache usage is high.
func (s *SlackNotifier) SendCacheWarning(ctx context.Context, cacheSize, maxSize int64) error {
	percentage := float64(cacheSize) / float64(maxSize) * 100
	return s.SendAlert(ctx, "warning", "Local result cache usage high",
		fmt.Sprintf("Cache size: %d bytes (%.1f%% of max %d bytes)\nThe result journal may be unavailable for an extended period.",
			cacheSize, percentage, maxSize))
}

// SendSourceUnavailable sends an alert when a measurement source's hardware
// is not present or failed its capability probe.
func (s *SlackNotifier) SendSourceUnavailable(ctx context.Context, source string, err error) error {
	return s.SendAlert(ctx, "warning", "Measurement source unavailable",
		fmt.Sprintf("Source %q is unavailable: %v", source, err))
}

func (s *SlackNotifier) sendPayload(ctx context.Context, payload SlackMessage) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	if len(payload.Attachments) > 0 {
		logger.Debug().Str("title", payload.Attachments[0].Title).Msg("Slack notification sent successfully")
	}
	return nil
}

func (s *SlackNotifier) severityToColor(severity string) string {
	switch severity {
	case "danger", "error":
		return "danger"
	case "warning", "warn":
		return "warning"
	case "good", "success":
		return "good"
	default:
		return "#808080"
	}
}
