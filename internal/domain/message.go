// Package domain contains core domain types for the shop assistant.
package domain

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolCallRecord captures a single tool invocation, attached to the
// assistant message that triggered it for auditing.
type ToolCallRecord struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result"`
}

// Message is a single conversation entry. Messages are append-only;
// ordering is insertion order per session and never mutated.
type Message struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	Timestamp       time.Time        `json:"timestamp"`
	ToolCalls       []ToolCallRecord `json:"toolCalls,omitempty"`
	ContextSnapshot map[string]any   `json:"contextSnapshot,omitempty"`
}
