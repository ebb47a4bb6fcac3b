package notification

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"equity-alerts/internal/model"
)

// WebhookNotifier POSTs messages as JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
// url: The HTTP endpoint to POST messages to.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	Level  string        `json:"level"`
	Title  string        `json:"title"`
	Body   string        `json:"body"`
	Alerts []model.Alert `json:"alerts,omitempty"`
	Chart  string        `json:"chart_png_base64,omitempty"`
	TS     string        `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	payload := webhookPayload{
		Level:  string(msg.Level),
		Title:  msg.Title,
		Body:   msg.Body,
		Alerts: msg.Alerts,
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(msg.Chart) > 0 {
		payload.Chart = base64.StdEncoding.EncodeToString(msg.Chart)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: w.Name(), Title: msg.Title, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: w.Name(), Title: msg.Title, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Channel: w.Name(), Title: msg.Title, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}
