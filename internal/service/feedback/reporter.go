package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	feedbackmodel "github.com/civaigentics/widget/backend/internal/model/feedback"
	"github.com/civaigentics/widget/backend/internal/service/sink"
)

// HTTPReporter posts events to the widget backend's relay endpoints.
type HTTPReporter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReporter creates a reporter against the backend at baseURL.
func NewHTTPReporter(baseURL string, client *http.Client) *HTTPReporter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPReporter{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (r *HTTPReporter) ReportFeedback(ctx context.Context, ev feedbackmodel.FeedbackEvent) error {
	return r.post(ctx, "/api/feedback", ev)
}

func (r *HTTPReporter) ReportRating(ctx context.Context, ev feedbackmodel.RatingEvent) error {
	return r.post(ctx, "/api/rating", ev)
}

func (r *HTTPReporter) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// SinkReporter writes events straight to a sink on behalf of one client.
type SinkReporter struct {
	Sink   sink.Sink
	Client feedbackmodel.Client
}

func (r SinkReporter) ReportFeedback(ctx context.Context, ev feedbackmodel.FeedbackEvent) error {
	return r.Sink.RecordFeedback(ctx, feedbackmodel.NewFeedbackRecord(ev, r.Client))
}

func (r SinkReporter) ReportRating(ctx context.Context, ev feedbackmodel.RatingEvent) error {
	return r.Sink.RecordRating(ctx, feedbackmodel.NewRatingRecord(ev, r.Client))
}
