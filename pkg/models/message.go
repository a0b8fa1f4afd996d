package models

import (
	"time"
)

// Channel represents the origin surface of a conversation.
type Channel string

const (
	ChannelWidget Channel = "widget"
	ChannelEmail  Channel = "email"
	ChannelAPI    Channel = "api"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation. Messages are append-only:
// once written they are never mutated, and ordering within a conversation
// is timestamp-monotonic.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	Tokens         int          `json:"tokens,omitempty"`
	Meta           *MessageMeta `json:"meta,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// MessageMeta carries structured tool metadata for audit and debugging.
// It is never surfaced to end users for tool or system roles.
type MessageMeta struct {
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	RawPayload string `json:"raw_payload,omitempty"`
}
