package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"channelwatch/internal/model"
)

// HTTPClient is the subset of *http.Client used by Webhook.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Webhook POSTs notifications as {"content": "..."} to the URL held in
// "webhook:<url>" destinations.
// A failed delivery is reported once and never retried.
type Webhook struct {
	client  HTTPClient
	log     *slog.Logger
	timeout time.Duration
}

func NewWebhook(client HTTPClient, log *slog.Logger) *Webhook {
	return &Webhook{
		client:  client,
		log:     log,
		timeout: 10 * time.Second,
	}
}

// SetTimeout bounds each delivery attempt.
func (w *Webhook) SetTimeout(d time.Duration) {
	w.timeout = d
}

// Send delivers text to dest with a single POST. Any non-2xx response is
// an error.
func (w *Webhook) Send(ctx context.Context, dest model.Destination, text string) error {
	if dest.Scheme() != model.SchemeWebhook {
		return fmt.Errorf("webhook sender cannot deliver to %q", dest)
	}
	url := dest.Target()

	body, err := json.Marshal(webhookPayload{Content: text})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "channelwatch/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: HTTP %d", url, resp.StatusCode)
	}
	w.log.Debug("webhook delivered", "url", url, "status", resp.StatusCode)
	return nil
}
