package domain

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role" dynamodbav:"role"`
	Content string `json:"content" dynamodbav:"content"`
}

// ConversationRecord is a persisted message keyed by session and millisecond timestamp.
type ConversationRecord struct {
	SessionID string  `dynamodbav:"session_id"`
	Timestamp int64   `dynamodbav:"timestamp"`
	Message   Message `dynamodbav:"message"`
}
