package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civaigentics/widget/backend/internal/model/feedback"
)

// Webhook posts records as JSON to a spreadsheet webhook. Without a URL it
// records nothing.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook sink. A nil client gets a 10s timeout.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client}
}

// Enabled reports whether a webhook URL is configured.
func (w *Webhook) Enabled() bool {
	return w.url != ""
}

func (w *Webhook) RecordFeedback(ctx context.Context, rec feedback.FeedbackRecord) error {
	return w.post(ctx, rec)
}

func (w *Webhook) RecordRating(ctx context.Context, rec feedback.RatingRecord) error {
	return w.post(ctx, rec)
}

func (w *Webhook) post(ctx context.Context, payload any) error {
	if !w.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
