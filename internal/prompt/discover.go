package prompt

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/line-relay/internal/config"
	"github.com/comigor/line-relay/internal/logger"
)

// promptClient is the subset of an MCP client used for prompt discovery.
type promptClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	Close() error
}

// ServerTimeout bounds the whole exchange with one MCP server during discovery.
const ServerTimeout = 10 * time.Second

type dialFunc func(ctx context.Context, cfg config.MCPServerConfig) (promptClient, error)

// Discover asks every configured MCP server for its first argument-less prompt and
// returns the text of each. Servers that fail are logged and skipped; clients are
// closed once their prompt is read since prompts are only loaded at startup.
func Discover(ctx context.Context, servers []config.MCPServerConfig) []string {
	return discover(ctx, servers, dial, ServerTimeout)
}

func discover(ctx context.Context, servers []config.MCPServerConfig, dial dialFunc, timeout time.Duration) []string {
	var found []string
	for _, srv := range servers {
		text, err := discoverOne(ctx, srv, dial, timeout)
		if err != nil {
			logger.L.Warn("no system prompt from MCP server", "name", srv.Name, "error", err)
			continue
		}
		logger.L.Info("discovered system prompt from MCP server", "name", srv.Name)
		found = append(found, text)
	}
	return found
}

func discoverOne(ctx context.Context, srv config.MCPServerConfig, dial dialFunc, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := dial(ctx, srv)
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			logger.L.Warn("MCP client close error", "name", srv.Name, "error", cerr)
		}
	}()
	return firstPrompt(ctx, c)
}

func firstPrompt(ctx context.Context, c promptClient) (string, error) {
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return "", fmt.Errorf("initialize: %w", err)
	}
	prompts, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return "", fmt.Errorf("list prompts: %w", err)
	}

	idx := slices.IndexFunc(prompts.Prompts, func(p mcp.Prompt) bool {
		return len(p.Arguments) == 0
	})
	if idx == -1 {
		return "", fmt.Errorf("no argument-less prompt among %d", len(prompts.Prompts))
	}

	res, err := c.GetPrompt(ctx, mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: prompts.Prompts[idx].Name},
	})
	if err != nil {
		return "", fmt.Errorf("get prompt %s: %w", prompts.Prompts[idx].Name, err)
	}

	for _, m := range res.Messages {
		if m.Role != mcp.RoleAssistant {
			continue
		}
		if tc, ok := m.Content.(mcp.TextContent); ok && tc.Text != "" {
			return tc.Text, nil
		}
	}
	return "", fmt.Errorf("prompt %s has no assistant text", prompts.Prompts[idx].Name)
}

func dial(ctx context.Context, srv config.MCPServerConfig) (promptClient, error) {
	var (
		c   *client.Client
		err error
	)
	switch srv.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(srv.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(srv.Headers))
		}
		c, err = client.NewSSEMCPClient(srv.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(srv.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(srv.Headers))
		}
		c, err = client.NewStreamableHttpClient(srv.URL, opts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range srv.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		c, err = client.NewStdioMCPClient(srv.Command, env, srv.Args...)
		if err != nil {
			return nil, err
		}
		// stdio clients are started by the constructor
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q", srv.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start transport: %w", err)
	}
	return c, nil
}
