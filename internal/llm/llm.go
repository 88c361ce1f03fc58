package llm

import (
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/line-relay/internal/config"
)

// NewClient creates a new OpenAI client. An empty BaseURL keeps the SDK default.
func NewClient(cfg config.LLMConfig) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}
