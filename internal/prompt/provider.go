package prompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider resolves the system prompt for a user.
type Provider interface {
	SystemPrompt(userID string) string
}

// Static is an immutable prompt table loaded once at startup.
type Static struct {
	Default string            `yaml:"default"`
	Users   map[string]string `yaml:"users"`
}

// SystemPrompt returns the user's override when one exists, otherwise the default.
func (s *Static) SystemPrompt(userID string) string {
	if s == nil {
		return ""
	}
	if p, ok := s.Users[userID]; ok {
		return p
	}
	return s.Default
}

// LoadFile reads a YAML prompt table:
//
//	default: You are a helpful assistant.
//	users:
//	  U123: Answer in English.
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	var s Static
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	return &s, nil
}

// Build merges the configured sources into one table. A prompt file's default
// takes precedence over global; extra prompts (e.g. discovered from MCP servers)
// are appended to the default and to every user override.
func Build(global, file string, extra []string) (*Static, error) {
	s := &Static{Default: strings.TrimSpace(global)}
	if file != "" {
		loaded, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		if d := strings.TrimSpace(loaded.Default); d != "" {
			s.Default = d
		}
		s.Users = loaded.Users
	}
	if len(extra) == 0 {
		return s, nil
	}

	s.Default = join(s.Default, extra)
	users := make(map[string]string, len(s.Users))
	for id, p := range s.Users {
		users[id] = join(strings.TrimSpace(p), extra)
	}
	s.Users = users
	return s, nil
}

func join(base string, extra []string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, e := range extra {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(e)
	}
	return b.String()
}
