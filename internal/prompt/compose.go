// Package prompt assembles the message list sent to the completion provider and
// resolves which system prompt applies to a user.
package prompt

import "github.com/comigor/line-relay/internal/history"

// Compose returns [system?] + past turns (oldest first) + the new user turn.
// An empty system prompt is omitted rather than sent as an empty turn.
func Compose(systemPrompt string, past []history.Turn, userMessage string) []history.Turn {
	out := make([]history.Turn, 0, len(past)+2)
	if systemPrompt != "" {
		out = append(out, history.System(systemPrompt))
	}
	out = append(out, past...)
	return append(out, history.User(userMessage))
}
