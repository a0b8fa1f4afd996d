// Package agent drives a single conversational turn: it prepares the
// context window, calls the configured model provider, routes tool calls
// to the execution coordinator, and settles on a final response within a
// bounded number of iterations.
package agent

import (
	"context"

	"github.com/haasonsaas/concierge/pkg/models"
)

// StopReason is the normalized reason a provider stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// TokenUsage is the per-call token accounting reported by a provider.
// Total is always populated; Input and Output may be estimates when the
// provider reports only a combined count.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// EstimateSplit fills Input and Output from Total using a 70/30 split
// when the provider did not report them separately.
func (u *TokenUsage) EstimateSplit() {
	if u.Total > 0 && u.Input == 0 && u.Output == 0 {
		u.Input = u.Total * 70 / 100
		u.Output = u.Total - u.Input
	}
	if u.Total == 0 {
		u.Total = u.Input + u.Output
	}
}

// ToolSpec aliases the models type so provider code reads naturally.
type ToolSpec = models.ToolSpec

// ChatRequest is a provider-agnostic chat call.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []*models.Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float32
}

// ChatResponse is the normalized provider output.
type ChatResponse struct {
	Content    string
	ToolCalls  []models.ToolCall
	Tokens     TokenUsage
	StopReason StopReason
}

// Provider is one language-model backend. NativeToolCalls reports whether
// the backend returns structured tool calls; when false the orchestrator
// serializes the tool catalogue into the prompt and scans the output text
// for embedded calls.
type Provider interface {
	Name() string
	NativeToolCalls() bool
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}
