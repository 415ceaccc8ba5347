package domain

// Role tags who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a user's conversation history. It is the
// provider-agnostic shape used by the dispatcher, the history store and the
// completion client.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn returns a Turn authored by the user.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn returns a Turn authored by the model.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
