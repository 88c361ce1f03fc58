package history

// Role tags a turn with who produced it.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message of a conversation. Turns are values and are
// never mutated after creation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User returns a user turn.
func User(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// Assistant returns an assistant turn.
func Assistant(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// System returns a system turn.
func System(content string) Turn { return Turn{Role: RoleSystem, Content: content} }
