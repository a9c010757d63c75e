package models

import (
	"time"
)

// Role is the speaker of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of the prompt sent to the completion model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is one completed exchange of a conversation session.
type Turn struct {
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	User      string    `json:"user"`
	Bot       string    `json:"bot"`
	Emotion   string    `json:"emotion"`
	Crisis    bool      `json:"suicide_flag"`
	Timestamp time.Time `json:"timestamp"`
}
