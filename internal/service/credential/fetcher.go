package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const genericFetchMessage = "Failed to get signed URL from server"

// Credential is the short-lived artifact needed to open a realtime session.
type Credential struct {
	SignedURL string `json:"signedUrl"`
}

// Fetcher obtains a fresh credential from a trusted source.
type Fetcher interface {
	Fetch(ctx context.Context) (Credential, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (Credential, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// AuthError reports that no credential could be obtained. Message is safe to
// show to the visitor.
type AuthError struct {
	Message string
	Status  int
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPFetcher asks the widget backend for a signed URL.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher against the backend at baseURL.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type signedURLResponse struct {
	SignedURL string `json:"signedUrl"`
	Error     string `json:"error"`
}

// Fetch performs GET /api/get-signed-url.
func (f *HTTPFetcher) Fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/api/get-signed-url", nil)
	if err != nil {
		return Credential{}, &AuthError{Message: genericFetchMessage, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Credential{}, &AuthError{Message: genericFetchMessage, Err: fmt.Errorf("signed url request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Credential{}, &AuthError{Message: genericFetchMessage, Status: resp.StatusCode, Err: err}
	}

	var payload signedURLResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := genericFetchMessage
		if decodeErr == nil && strings.TrimSpace(payload.Error) != "" {
			message = strings.TrimSpace(payload.Error)
		}
		return Credential{}, &AuthError{
			Message: message,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("signed url endpoint returned %d", resp.StatusCode),
		}
	}

	if decodeErr != nil {
		return Credential{}, &AuthError{Message: genericFetchMessage, Status: resp.StatusCode, Err: decodeErr}
	}
	if strings.TrimSpace(payload.SignedURL) == "" {
		return Credential{}, &AuthError{Message: genericFetchMessage, Status: resp.StatusCode, Err: fmt.Errorf("signed url missing from response")}
	}

	return Credential{SignedURL: payload.SignedURL}, nil
}
