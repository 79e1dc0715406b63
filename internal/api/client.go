// ABOUTME: HTTP client for the backend's request/response chat endpoint
// ABOUTME: Sends a message with bearer auth and decodes the assistant reply

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/marketoluh/chat/internal/chat"
)

// TokenSource resolves the bearer token attached to requests.
type TokenSource interface {
	Token() (string, error)
}

// RequestError reports a failed send-message call. Detail carries the
// server's error payload when one was present, otherwise a generic
// status description.
type RequestError struct {
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return e.Detail
	}
	return fmt.Sprintf("request failed (status %d): %s", e.StatusCode, e.Detail)
}

// Client talks to the backend chat API over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

// New creates a chat API client for the given base URL
// (e.g. "https://api.example.com"). Pass nil logger for default.
func New(baseURL string, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		httpc:   http.DefaultClient,
		tokens:  tokens,
		logger:  logger.With("component", "api"),
	}
}

// sendMessageRequest is the JSON body for POST /api/v1/chat/send.
type sendMessageRequest struct {
	Message    string `json:"message"`
	ResearchID string `json:"research_id"`
}

// sendMessageResponse is the JSON reply from POST /api/v1/chat/send.
type sendMessageResponse struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Tstamp   string         `json:"timestamp"`
	ToolUses []chat.ToolUse `json:"tool_uses,omitempty"`
}

// errorResponse is the backend's error payload shape.
type errorResponse struct {
	Detail string `json:"detail"`
}

// SendMessage posts a user message for the given research and returns
// the assistant's reply. No retries and no client-side timeout: the
// caller bounds the call through ctx.
func (c *Client) SendMessage(ctx context.Context, researchID, text string) (*chat.Message, error) {
	body, err := json.Marshal(sendMessageRequest{
		Message:    text,
		ResearchID: researchID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.baseURL + "/api/v1/chat/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &RequestError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.requestError(resp)
	}

	var reply sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, &RequestError{StatusCode: resp.StatusCode, Detail: "malformed response: " + err.Error()}
	}

	msg := &chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleAssistant,
		Content:   reply.Content,
		Timestamp: parseTimestamp(reply.Tstamp),
		ToolUses:  reply.ToolUses,
	}

	c.logger.Debug("assistant reply received",
		"research_id", researchID,
		"content_len", len(reply.Content),
		"tool_uses", len(reply.ToolUses))

	return msg, nil
}

// requestError builds a RequestError from a non-200 response,
// preferring the server's detail message when it parses.
func (c *Client) requestError(resp *http.Response) *RequestError {
	detail := fmt.Sprintf("server returned status %d", resp.StatusCode)

	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Detail != "" {
		detail = payload.Detail
	}

	return &RequestError{StatusCode: resp.StatusCode, Detail: detail}
}

// parseTimestamp parses the server's ISO-8601 timestamp, falling back
// to the current time when it doesn't parse.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}
