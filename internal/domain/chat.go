package domain

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextPassage is one retrieved chunk with its source attribution label.
type ContextPassage struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// AskRequest is the request to ask a question
type AskRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// AskResponse is the answer with its sources
type AskResponse struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	SessionID string   `json:"session_id"`
}

// SessionInfo summarizes a session for listings.
type SessionInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    int64  `json:"created_at"`
	LastActivity int64  `json:"last_activity"`
	MessageCount int    `json:"message_count"`
}

// SessionDetail is a session with its full message history.
type SessionDetail struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    int64     `json:"created_at"`
	LastActivity int64     `json:"last_activity"`
	Messages     []Message `json:"messages"`
}

// SessionRecord is the persisted form of a session, timestamps as unix epoch.
type SessionRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    int64     `json:"created_at"`
	LastActivity int64     `json:"last_activity"`
	Messages     []Message `json:"messages"`
}
