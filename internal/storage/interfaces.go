// Package storage defines the durable store contracts and their Postgres
// and in-memory implementations. The durable log is the source of truth;
// the context cache is only a projection of it.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ConversationStore persists conversations. Implementations must
// guarantee at most one active conversation per (client, session) pair.
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	// ActiveBySession returns the unended conversation for a session, or
	// ErrNotFound.
	ActiveBySession(ctx context.Context, clientID, sessionID string) (*models.Conversation, error)
	// End marks the conversation ended. Ending is monotonic: ending an
	// already-ended conversation is a no-op.
	End(ctx context.Context, id string, at time.Time) error
	// AddUsage increments the running message and token counters.
	AddUsage(ctx context.Context, id string, messages, tokens int) error
	// ListIdle returns active conversations whose last message is older
	// than cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]*models.Conversation, error)
}

// MessageStore persists the append-only message log.
type MessageStore interface {
	Append(ctx context.Context, msg *models.Message) error
	// List returns up to limit messages for a conversation in
	// chronological order.
	List(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
}

// ExecutionStore persists the immutable tool-execution ledger. The
// Coordinator requires read-after-write visibility of a just-inserted
// record for duplicate detection to be meaningful.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.ToolExecution) error
	// ListSuccessful returns successful executions of a tool within a
	// conversation, newest first.
	ListSuccessful(ctx context.Context, conversationID, tool string) ([]*models.ToolExecution, error)
}

// ToolStore reads tenant-scoped tool definitions.
type ToolStore interface {
	GetByName(ctx context.Context, clientID, name string) (*models.ToolDefinition, error)
	ListEnabled(ctx context.Context, clientID string) ([]*models.ToolDefinition, error)
}

// ClientStore reads tenant records.
type ClientStore interface {
	Get(ctx context.Context, id string) (*models.Client, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Conversations ConversationStore
	Messages      MessageStore
	Executions    ExecutionStore
	Tools         ToolStore
	Clients       ClientStore
	closer        func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
