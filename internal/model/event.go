package model

// WebSocket frame types
const (
	EventHistory      = "history"
	EventMessage      = "message"
	EventConversation = "conversation"
	EventError        = "error"
)

// Event is a frame pushed to WebSocket subscribers
type Event struct {
	Type     string             `json:"type"`
	Messages []Message          `json:"messages,omitempty"`
	Message  *Message           `json:"message,omitempty"`
	Entry    *ConversationEntry `json:"entry,omitempty"`
	Error    string             `json:"error,omitempty"`
}
