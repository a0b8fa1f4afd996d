// Package usage records per-conversation token and message counters for
// billing rollups.
package usage

import (
	"context"
	"fmt"

	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
)

// Turn is the usage produced by one processed message.
type Turn struct {
	ClientID       string
	ConversationID string
	Provider       string
	Model          string
	Messages       int
	InputTokens    int
	OutputTokens   int
}

// Total returns the combined token count.
func (t Turn) Total() int { return t.InputTokens + t.OutputTokens }

// Tracker persists usage counters. Provider-level token metrics are
// recorded where the provider call happens; this only owns the durable
// billing counters.
type Tracker struct {
	conversations storage.ConversationStore
	logger        *observability.Logger
}

func NewTracker(conversations storage.ConversationStore, logger *observability.Logger) *Tracker {
	return &Tracker{conversations: conversations, logger: logger}
}

// Record adds the turn's counters to the conversation row. Counter
// updates are billing-relevant, so failures surface to the caller.
func (t *Tracker) Record(ctx context.Context, turn Turn) error {
	if turn.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if err := t.conversations.AddUsage(ctx, turn.ConversationID, turn.Messages, turn.Total()); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	t.logger.Debug(ctx, "usage recorded",
		"conversation_id", turn.ConversationID,
		"client_id", turn.ClientID,
		"input_tokens", turn.InputTokens,
		"output_tokens", turn.OutputTokens,
	)
	return nil
}
