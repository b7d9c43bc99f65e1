package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"intake/internal/notification/models"
)

// WebhookChannel POSTs notifications as JSON to a fixed URL.
type WebhookChannel struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookChannel returns nil when url is empty.
func NewWebhookChannel(url string, hc *http.Client) *WebhookChannel {
	if url == "" {
		return nil
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, httpClient: hc, now: time.Now}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, n *models.Notification) models.ChannelResult {
	if err := c.post(ctx, n); err != nil {
		return models.ChannelResult{Channel: c.Name(), Error: err.Error()}
	}
	at := c.now().UTC()
	return models.ChannelResult{Channel: c.Name(), Success: true, DeliveredAt: &at}
}

func (c *WebhookChannel) post(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-Type", string(n.Type))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
