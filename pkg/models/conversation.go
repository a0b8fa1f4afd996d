package models

import (
	"time"
)

// Conversation is one session's dialogue with the agent. At most one
// active (unended) conversation exists per session id at a time; ending
// is monotonic and cannot be reverted.
type Conversation struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"client_id"`
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id,omitempty"`
	Channel      Channel    `json:"channel"`
	ThreadKey    string     `json:"thread_key,omitempty"` // channel-native threading (e.g. email Message-ID)
	MessageCount int        `json:"message_count"`
	TokensUsed   int        `json:"tokens_used"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the conversation is still open.
func (c *Conversation) Active() bool {
	return c != nil && c.EndedAt == nil
}

// Client is a tenant of the runtime. Credentials maps integration names
// to opaque credential payloads injected into tool invocations.
type Client struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Timezone     string            `json:"timezone,omitempty"`
	Language     string            `json:"language,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Model        string            `json:"model,omitempty"`
	Credentials  map[string]string `json:"-"`
}
