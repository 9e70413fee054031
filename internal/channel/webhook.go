package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/driftgate/driftgate/internal/event"
)

// Webhook posts JSON payloads to an HTTP endpoint. The format setting picks
// the payload shape: slack, teams, or generic (the default), which wraps the
// message and event in a single JSON object.
type Webhook struct {
	url    string
	format string
	client *http.Client
}

// NewWebhook builds a webhook notifier. The "url" setting is required.
func NewWebhook(settings map[string]string) (Notifier, error) {
	url := settings["url"]
	if url == "" {
		return nil, fmt.Errorf("webhook requires a url")
	}
	format := settings["format"]
	switch format {
	case "", "generic", "slack", "teams":
	default:
		return nil, fmt.Errorf("webhook format %q not supported", format)
	}

	timeout := 10 * time.Second
	if raw := settings["timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("webhook timeout: %w", err)
		}
		timeout = d
	}

	return &Webhook{
		url:    url,
		format: format,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (w *Webhook) ConfigSchema() map[string]string {
	return map[string]string{
		"url":     "destination URL (required)",
		"format":  "payload shape: generic, slack, or teams",
		"timeout": "request timeout, e.g. 10s",
	}
}

func (w *Webhook) Send(ctx context.Context, msg Message, ev *event.NotificationEvent) error {
	var payload any
	switch w.format {
	case "slack":
		payload = map[string]string{
			"text": fmt.Sprintf("*%s* %s", severityLabel(msg.Severity), msg.Text),
		}
	case "teams":
		payload = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(msg.Severity),
			"summary":    msg.Title,
			"title":      msg.Title,
			"text":       msg.Text,
		}
	default:
		payload = map[string]any{
			"message": msg,
			"event":   ev,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case event.SeverityCritical:
		return "[CRITICAL]"
	case event.SeverityHigh:
		return "[HIGH]"
	case event.SeverityMedium:
		return "[MEDIUM]"
	case event.SeverityLow:
		return "[LOW]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case event.SeverityCritical:
		return "FF4F6A"
	case event.SeverityHigh:
		return "FF7A59"
	case event.SeverityMedium:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
