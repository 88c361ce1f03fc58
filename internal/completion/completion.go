// Package completion turns a composed conversation into a single reply text,
// either from one blocking call or by aggregating a stream of deltas.
//
// Provider failures never escape as raw errors to the end user: every failure
// path returns Apology together with an error wrapping ErrProvider, so callers
// can deliver the apology and still tell that no real answer was produced.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/line-relay/internal/config"
	"github.com/comigor/line-relay/internal/history"
	"github.com/comigor/line-relay/internal/llm"
	"github.com/comigor/line-relay/internal/logger"
)

// Apology is sent to the user whenever no answer could be generated.
const Apology = "申し訳ありません、エラーが発生しました。"

// ErrProvider wraps transport errors, provider API errors and malformed responses.
var ErrProvider = errors.New("completion provider error")

var errEmpty = errors.New("empty completion")

// Options are fixed per process; none of them is computed per request.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Stream      bool
	Timeout     time.Duration // 0 means no deadline beyond the caller's context
}

// Client calls the completion provider.
type Client struct {
	llm  llm.Client
	opts Options
}

// New creates a Client.
func New(c llm.Client, opts Options) *Client {
	return &Client{llm: c, opts: opts}
}

// FromConfig creates a Client using the LLM section of the configuration.
func FromConfig(c llm.Client, cfg config.LLMConfig) *Client {
	return New(c, Options{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stream:      cfg.Stream,
		Timeout:     cfg.Timeout,
	})
}

// Complete dispatches to the configured mode.
func (c *Client) Complete(ctx context.Context, turns []history.Turn) (string, error) {
	if c.opts.Stream {
		return c.CompleteStreaming(ctx, turns)
	}
	return c.CompleteBlocking(ctx, turns)
}

// CompleteBlocking waits for the full response.
func (c *Client) CompleteBlocking(ctx context.Context, turns []history.Turn) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.llm.CreateChatCompletion(ctx, c.request(turns))
	if err != nil {
		return c.fail("blocking", err)
	}
	if len(resp.Choices) == 0 {
		return c.fail("blocking", errors.New("response has no choices"))
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return c.fail("blocking", errEmpty)
	}
	return text, nil
}

// CompleteStreaming consumes the stream and joins every non-empty content delta.
func (c *Client) CompleteStreaming(ctx context.Context, turns []history.Turn) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.llm.CreateChatCompletionStream(ctx, c.request(turns))
	if err != nil {
		return c.fail("streaming", err)
	}
	defer stream.Close()

	var b strings.Builder
	chunks := 0
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.fail("streaming", err)
		}
		if len(part.Choices) == 0 || part.Choices[0].Delta.Content == "" {
			continue
		}
		b.WriteString(part.Choices[0].Delta.Content)
		chunks++
	}

	text := b.String()
	if strings.TrimSpace(text) == "" {
		return c.fail("streaming", errEmpty)
	}
	logger.L.Debug("stream aggregated", "chunks", chunks, "chars", len(text))
	return text, nil
}

func (c *Client) request(turns []history.Turn) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(turns))
	for i, t := range turns {
		msgs[i] = openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    msgs,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.Timeout)
}

func (c *Client) fail(mode string, err error) (string, error) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		logger.L.Error("completion API error", "mode", mode, "model", c.opts.Model,
			"status", apiErr.HTTPStatusCode, "code", apiErr.Code, "error", apiErr.Message)
	} else {
		logger.L.Error("completion failed", "mode", mode, "model", c.opts.Model, "error", err)
	}
	return Apology, fmt.Errorf("%w: %w", ErrProvider, err)
}
