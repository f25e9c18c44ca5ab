// Package models contains request/response models and business domain types.
package models

import "time"

// MessageRole identifies who produced a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Thread is a persistent conversation thread.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted conversation message within a thread.
type Message struct {
	ID        int64       `json:"id"`
	ThreadID  string      `json:"thread_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// AppendMessageRequest contains fields for appending a message to a thread.
type AppendMessageRequest struct {
	ThreadID string      `json:"thread_id"`
	Role     MessageRole `json:"role"`
	Content  string      `json:"content"`
}
