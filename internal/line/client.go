// Package line is a minimal client for the LINE Messaging API endpoints the relay uses.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "https://api.line.me"

	// MaxTextLength is the platform limit for one text message.
	MaxTextLength = 5000

	MinLoadingSeconds = 5
	MaxLoadingSeconds = 60
)

// APIError is a non-2xx response from the Messaging API.
type APIError struct {
	StatusCode int
	Message    string
	Details    []ErrorDetail
	Body       string
}

// ErrorDetail is one entry of the "details" array of an error response.
type ErrorDetail struct {
	Message  string `json:"message"`
	Property string `json:"property"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("line api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("line api: status %d", e.StatusCode)
}

// IsInvalidReplyToken reports whether err means the reply token is expired,
// already used, or otherwise unusable. Such replies can still be pushed.
func IsInvalidReplyToken(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "invalid reply token")
}

// Message is a text message object.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextMessages builds text messages, truncating each to MaxTextLength characters.
func TextMessages(texts ...string) []Message {
	out := make([]Message, len(texts))
	for i, t := range texts {
		out[i] = Message{Type: "text", Text: truncate(t, MaxTextLength)}
	}
	return out
}

// Client is a client for the LINE Messaging API
type Client struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewClient creates a new Client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, accessToken string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

// ShowLoading starts the loading animation in a one-to-one chat.
// seconds is clamped to the platform range [5, 60].
func (c *Client) ShowLoading(ctx context.Context, chatID string, seconds int) error {
	seconds = min(max(seconds, MinLoadingSeconds), MaxLoadingSeconds)
	payload := map[string]any{"chatId": chatID, "loadingSeconds": seconds}
	return c.post(ctx, "/v2/bot/chat/loading/start", payload, nil)
}

// Reply answers an event using its reply token.
func (c *Client) Reply(ctx context.Context, replyToken string, msgs []Message) error {
	payload := map[string]any{"replyToken": replyToken, "messages": msgs}
	return c.post(ctx, "/v2/bot/message/reply", payload, nil)
}

// Push sends messages directly to a user. Each call carries a fresh retry key so
// that a retried request is not delivered twice by the platform.
func (c *Client) Push(ctx context.Context, to string, msgs []Message) error {
	payload := map[string]any{"to": to, "messages": msgs}
	headers := map[string]string{"X-Line-Retry-Key": uuid.NewString()}
	return c.post(ctx, "/v2/bot/message/push", payload, headers)
}

func (c *Client) post(ctx context.Context, path string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	var parsed struct {
		Message string        `json:"message"`
		Details []ErrorDetail `json:"details"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		apiErr.Message = parsed.Message
		apiErr.Details = parsed.Details
	}
	return apiErr
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
