package conversation

import (
	"github.com/confdex/assistant-client/internal/api"
)

// MessageType classifies a rendered chat message.
type MessageType string

const (
	// TypeText is a plain assistant or user turn.
	TypeText MessageType = "text"
	// TypeError renders a chat-visible failure.
	TypeError MessageType = "error"
	// TypeWarning renders a recoverable protocol hiccup.
	TypeWarning MessageType = "warning"
	// TypeMap renders an answer anchored to a location.
	TypeMap MessageType = "map"
)

// ChatMessage is one turn of the active conversation log.
type ChatMessage struct {
	ID       string
	IsUser   bool
	Type     MessageType
	Message  string
	Thoughts string
	Location string
	Files    []string
}

// ListEntry is one row of the conversation list. The list keeps the
// server's order.
type ListEntry struct {
	ID    string
	Title string
}

// History converts a log into the prior-turns shape of a chat request.
// Error and warning messages are presentation-only and excluded.
func History(messages []ChatMessage) []api.HistoryItem {
	items := make([]api.HistoryItem, 0, len(messages))
	for _, msg := range messages {
		if msg.Type == TypeError || msg.Type == TypeWarning {
			continue
		}
		role := "assistant"
		if msg.IsUser {
			role = "user"
		}
		items = append(items, api.HistoryItem{Role: role, Content: msg.Message})
	}
	return items
}
