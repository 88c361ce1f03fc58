package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LINE       LINEConfig
	LLM        LLMConfig
	Server     ServerConfig
	History    HistoryConfig
	Prompt     PromptConfig
	Audit      AuditConfig
	Worker     WorkerConfig
	Log        LogConfig
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
}

// LINEConfig holds the messaging platform credentials.
type LINEConfig struct {
	ChannelSecret  string `mapstructure:"channel_secret"`
	AccessToken    string `mapstructure:"access_token"`
	APIBaseURL     string `mapstructure:"api_base_url"`
	LoadingSeconds int    `mapstructure:"loading_seconds"`
}

// LLMConfig holds the completion provider configuration
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Stream      bool          `mapstructure:"stream"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// HistoryConfig bounds the per-user conversation history.
type HistoryConfig struct {
	Length int `mapstructure:"length"`
}

// PromptConfig selects where system prompts come from.
type PromptConfig struct {
	System string `mapstructure:"system"`
	File   string `mapstructure:"file"`
}

// AuditConfig configures the optional audit sink. Both sinks may be enabled.
type AuditConfig struct {
	URL        string `mapstructure:"url"`
	SheetName  string `mapstructure:"sheet_name"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// WorkerConfig bounds background relay concurrency.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// MCPServerConfig describes an MCP server queried once at startup for system prompts.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    ClientType        `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

var envBindings = map[string][]string{
	"line.channel_secret":  {"LINE_CHANNEL_SECRET"},
	"line.access_token":    {"LINE_ACCESS_TOKEN", "LINE_CHANNEL_ACCESS_TOKEN"},
	"line.api_base_url":    {"LINE_API_BASE_URL"},
	"line.loading_seconds": {"LINE_LOADING_SECONDS"},
	"llm.api_key":          {"OPENAI_API_KEY"},
	"llm.base_url":         {"OPENAI_BASE_URL"},
	"llm.model":            {"OPENAI_MODEL"},
	"llm.max_tokens":       {"OPENAI_MAX_TOKENS"},
	"llm.temperature":      {"OPENAI_TEMPERATURE"},
	"llm.stream":           {"OPENAI_STREAM"},
	"llm.timeout":          {"OPENAI_TIMEOUT"},
	"history.length":       {"MAX_HISTORY_LENGTH"},
	"prompt.system":        {"SYSTEM_PROMPT"},
	"prompt.file":          {"SYSTEM_PROMPT_FILE"},
	"audit.url":            {"AUDIT_URL", "GAS_URL"},
	"audit.sheet_name":     {"AUDIT_SHEET_NAME"},
	"audit.sqlite_path":    {"AUDIT_SQLITE_PATH"},
	"server.host":          {"HOST"},
	"server.port":          {"PORT"},
	"worker.concurrency":   {"WORKER_CONCURRENCY"},
	"log.level":            {"LOG_LEVEL"},
	"log.format":           {"LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("line.api_base_url", "https://api.line.me")
	v.SetDefault("line.loading_seconds", 60)
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.8)
	v.SetDefault("llm.stream", false)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("history.length", 5)
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("worker.concurrency", 16)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads config.yaml (or the file named by CONFIG_PATH) when present and
// overlays environment variables on top. A missing default config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	explicit := os.Getenv("CONFIG_PATH")
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &config, nil
}

// Validate reports the required credentials that are missing.
func (c *Config) Validate() error {
	var missing []string
	if c.LINE.ChannelSecret == "" {
		missing = append(missing, "LINE_CHANNEL_SECRET")
	}
	if c.LINE.AccessToken == "" {
		missing = append(missing, "LINE_ACCESS_TOKEN")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.History.Length <= 0 {
		return fmt.Errorf("history length must be positive, got %d", c.History.Length)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
