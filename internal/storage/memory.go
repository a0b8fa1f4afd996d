package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

// NewMemoryStores creates in-memory stores for tests and local runs.
func NewMemoryStores() StoreSet {
	shared := &memoryState{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		executions:    make(map[string][]*models.ToolExecution),
		tools:         make(map[string]map[string]*models.ToolDefinition),
		clients:       make(map[string]*models.Client),
		lastMessageAt: make(map[string]time.Time),
	}
	return StoreSet{
		Conversations: &memConversationStore{state: shared},
		Messages:      &memMessageStore{state: shared},
		Executions:    &memExecutionStore{state: shared},
		Tools:         &MemoryToolStore{state: shared},
		Clients:       &MemoryClientStore{state: shared},
	}
}

type memoryState struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	executions    map[string][]*models.ToolExecution
	tools         map[string]map[string]*models.ToolDefinition
	clients       map[string]*models.Client
	lastMessageAt map[string]time.Time
}

type memConversationStore struct {
	state *memoryState
}

func (s *memConversationStore) Create(_ context.Context, conv *models.Conversation) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if _, ok := s.state.conversations[conv.ID]; ok {
		return ErrAlreadyExists
	}
	copied := *conv
	s.state.conversations[conv.ID] = &copied
	s.state.lastMessageAt[conv.ID] = conv.StartedAt
	return nil
}

func (s *memConversationStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	conv, ok := s.state.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *memConversationStore) ActiveBySession(_ context.Context, clientID, sessionID string) (*models.Conversation, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	var latest *models.Conversation
	for _, conv := range s.state.conversations {
		if conv.ClientID != clientID || conv.SessionID != sessionID || conv.EndedAt != nil {
			continue
		}
		if latest == nil || conv.StartedAt.After(latest.StartedAt) {
			latest = conv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *memConversationStore) End(_ context.Context, id string, at time.Time) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	conv, ok := s.state.conversations[id]
	if !ok {
		return nil
	}
	if conv.EndedAt == nil {
		ended := at
		conv.EndedAt = &ended
	}
	return nil
}

func (s *memConversationStore) AddUsage(_ context.Context, id string, messages, tokens int) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	conv, ok := s.state.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.MessageCount += messages
	conv.TokensUsed += tokens
	return nil
}

func (s *memConversationStore) ListIdle(_ context.Context, cutoff time.Time) ([]*models.Conversation, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	var out []*models.Conversation
	for id, conv := range s.state.conversations {
		if conv.EndedAt != nil {
			continue
		}
		last, ok := s.state.lastMessageAt[id]
		if !ok {
			last = conv.StartedAt
		}
		if last.Before(cutoff) {
			copied := *conv
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

type memMessageStore struct {
	state *memoryState
}

func (s *memMessageStore) Append(_ context.Context, msg *models.Message) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	copied := *msg
	s.state.messages[msg.ConversationID] = append(s.state.messages[msg.ConversationID], &copied)
	if msg.CreatedAt.After(s.state.lastMessageAt[msg.ConversationID]) {
		s.state.lastMessageAt[msg.ConversationID] = msg.CreatedAt
	}
	return nil
}

func (s *memMessageStore) List(_ context.Context, conversationID string, limit int) ([]*models.Message, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	msgs := s.state.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		copied := *msg
		out[i] = &copied
	}
	return out, nil
}

type memExecutionStore struct {
	state *memoryState
}

func (s *memExecutionStore) Create(_ context.Context, exec *models.ToolExecution) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	copied := *exec
	s.state.executions[exec.ConversationID] = append(s.state.executions[exec.ConversationID], &copied)
	return nil
}

func (s *memExecutionStore) ListSuccessful(_ context.Context, conversationID, tool string) ([]*models.ToolExecution, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	var out []*models.ToolExecution
	for _, exec := range s.state.executions[conversationID] {
		if exec.Tool != tool || exec.Status != models.ExecutionSuccess {
			continue
		}
		copied := *exec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MemoryToolStore is the in-memory ToolStore. Exported so tests can
// seed definitions through Put.
type MemoryToolStore struct {
	state *memoryState
}

// Put registers a tool definition. Test helper.
func (s *MemoryToolStore) Put(tool *models.ToolDefinition) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	byName, ok := s.state.tools[tool.ClientID]
	if !ok {
		byName = make(map[string]*models.ToolDefinition)
		s.state.tools[tool.ClientID] = byName
	}
	copied := *tool
	byName[tool.Name] = &copied
}

func (s *MemoryToolStore) GetByName(_ context.Context, clientID, name string) (*models.ToolDefinition, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	tool, ok := s.state.tools[clientID][name]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *tool
	return &copied, nil
}

func (s *MemoryToolStore) ListEnabled(_ context.Context, clientID string) ([]*models.ToolDefinition, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	var out []*models.ToolDefinition
	for _, tool := range s.state.tools[clientID] {
		if !tool.Enabled {
			continue
		}
		copied := *tool
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MemoryClientStore is the in-memory ClientStore.
type MemoryClientStore struct {
	state *memoryState
}

// Put registers a client. Test helper.
func (s *MemoryClientStore) Put(client *models.Client) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	copied := *client
	s.state.clients[client.ID] = &copied
}

func (s *MemoryClientStore) Get(_ context.Context, id string) (*models.Client, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	client, ok := s.state.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *client
	return &copied, nil
}
