package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// webhookTimeout bounds one webhook delivery.
const webhookTimeout = 10000 * time.Millisecond

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event        string  `json:"event"`
	Station      string  `json:"station,omitempty"`
	SessionID    string  `json:"session_id,omitempty"`
	Reconnects   int     `json:"reconnects,omitempty"`
	Error        string  `json:"error,omitempty"`
	SoilMoisture float64 `json:"soil_moisture,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	Message      string  `json:"message,omitempty"`
	Timestamp    string  `json:"timestamp"`
}

// SendWebhook delivers an event to the webhook endpoint. An empty URL is a no-op.
func SendWebhook(ctx context.Context, webhookURL string, e *Event) error {
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:        e.Name,
		Station:      e.Station,
		SessionID:    e.SessionID,
		Reconnects:   e.Reconnects,
		Error:        e.Error,
		SoilMoisture: e.SoilMoisture,
		Threshold:    e.Threshold,
		Message:      e.Message,
		Timestamp:    timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL, stationName string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventTest,
		Station:   stationName,
		Message:   "This is a test notification from " + stationName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", AppName)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
