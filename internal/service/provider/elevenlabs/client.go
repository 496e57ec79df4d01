package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/civaigentics/widget/backend/internal/config"
	"github.com/civaigentics/widget/backend/internal/service/credential"
)

const defaultReply = "I received your message."

// ErrNotConfigured is returned when the API key or agent id is missing.
var ErrNotConfigured = errors.New("elevenlabs: API key not configured")

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs: status %d: %s", e.Status, e.Message)
}

// Reply is the agent's answer to a relayed text message.
type Reply struct {
	Text           string `json:"response"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Client talks to the provider's REST API with the server-held API key.
type Client struct {
	apiKey  string
	agentID string
	baseURL string
	http    *http.Client
}

// NewClient creates a REST client. A nil httpClient gets cfg.Timeout.
func NewClient(cfg config.ProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:  cfg.APIKey,
		agentID: cfg.AgentID,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// AgentID returns the configured agent.
func (c *Client) AgentID() string {
	return c.agentID
}

// SignedURL asks the provider for a short-lived websocket URL.
func (c *Client) SignedURL(ctx context.Context) (string, error) {
	if c.apiKey == "" || c.agentID == "" {
		return "", ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/v1/convai/conversation/get-signed-url?agent_id=%s", c.baseURL, url.QueryEscape(c.agentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build signed url request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	var body struct {
		SignedURL string `json:"signed_url"`
	}
	if err := c.do(req, &body); err != nil {
		return "", err
	}
	if body.SignedURL == "" {
		return "", &APIError{Status: http.StatusBadGateway, Message: "response carried no signed_url"}
	}
	return body.SignedURL, nil
}

// Fetch implements credential.Fetcher for hosts that hold the API key.
func (c *Client) Fetch(ctx context.Context) (credential.Credential, error) {
	signed, err := c.SignedURL(ctx)
	if err != nil {
		return credential.Credential{}, &credential.AuthError{
			Message: "Failed to get signed URL",
			Err:     err,
		}
	}
	return credential.Credential{SignedURL: signed}, nil
}

// SendText relays one text message to the agent and returns its answer.
// An empty agentID uses the configured agent.
func (c *Client) SendText(ctx context.Context, agentID, text string) (Reply, error) {
	if c.apiKey == "" {
		return Reply{}, ErrNotConfigured
	}
	if agentID == "" {
		agentID = c.agentID
	}

	payload, err := json.Marshal(map[string]string{
		"agent_id": agentID,
		"text":     text,
		"mode":     "text",
	})
	if err != nil {
		return Reply{}, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/convai/conversation", bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	var body struct {
		Text           string `json:"text"`
		Response       string `json:"response"`
		Message        string `json:"message"`
		ConversationID string `json:"conversation_id"`
	}
	if err := c.do(req, &body); err != nil {
		return Reply{}, err
	}

	reply := Reply{Text: defaultReply, ConversationID: body.ConversationID}
	for _, candidate := range []string{body.Text, body.Response, body.Message} {
		if strings.TrimSpace(candidate) != "" {
			reply.Text = candidate
			break
		}
	}
	return reply, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read elevenlabs response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode elevenlabs response: %w", err)
	}
	return nil
}
