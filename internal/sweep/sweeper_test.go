package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/concierge/internal/cache"
	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/pkg/models"
)

func seedConversation(t *testing.T, stores storage.StoreSet, id, session string, lastMessage time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := stores.Conversations.Create(ctx, &models.Conversation{
		ID:        id,
		ClientID:  "client-1",
		SessionID: session,
		Channel:   models.ChannelWidget,
		StartedAt: lastMessage.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := stores.Messages.Append(ctx, &models.Message{
		ID:             id + "-m1",
		ConversationID: id,
		Role:           models.RoleUser,
		Content:        "hello",
		CreatedAt:      lastMessage,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRunEndsIdleConversations(t *testing.T) {
	stores := storage.NewMemoryStores()
	contexts := cache.NewMemoryContextCache(time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	seedConversation(t, stores, "conv-idle", "sess-idle", now.Add(-48*time.Hour))
	seedConversation(t, stores, "conv-fresh", "sess-fresh", now.Add(-time.Hour))

	contexts.Set(ctx, "sess-idle", []*models.Message{{Role: models.RoleSystem, Content: "x"}})
	contexts.Set(ctx, "sess-fresh", []*models.Message{{Role: models.RoleSystem, Content: "x"}})

	s := NewSweeper(stores.Conversations, contexts, observability.NewNopLogger(), nil, Config{IdleFor: 24 * time.Hour})
	s.now = func() time.Time { return now }

	ended, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if ended != 1 {
		t.Fatalf("ended = %d, want 1", ended)
	}

	idle, _ := stores.Conversations.Get(ctx, "conv-idle")
	if idle.EndedAt == nil {
		t.Error("idle conversation still active")
	}
	fresh, _ := stores.Conversations.Get(ctx, "conv-fresh")
	if fresh.EndedAt != nil {
		t.Error("fresh conversation was ended")
	}

	if _, ok := contexts.Get(ctx, "sess-idle"); ok {
		t.Error("idle session context not cleared")
	}
	if _, ok := contexts.Get(ctx, "sess-fresh"); !ok {
		t.Error("fresh session context should survive")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	stores := storage.NewMemoryStores()
	contexts := cache.NewMemoryContextCache(time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	seedConversation(t, stores, "conv-idle", "sess-idle", now.Add(-48*time.Hour))

	s := NewSweeper(stores.Conversations, contexts, observability.NewNopLogger(), nil, Config{IdleFor: 24 * time.Hour})
	s.now = func() time.Time { return now }

	if ended, _ := s.Run(ctx); ended != 1 {
		t.Fatalf("first pass ended %d", ended)
	}
	if ended, _ := s.Run(ctx); ended != 0 {
		t.Errorf("second pass ended %d, want 0", ended)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	stores := storage.NewMemoryStores()
	s := NewSweeper(stores.Conversations, cache.NewMemoryContextCache(time.Hour), observability.NewNopLogger(), nil, Config{Schedule: "not a schedule"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestConfigDefaults(t *testing.T) {
	stores := storage.NewMemoryStores()
	s := NewSweeper(stores.Conversations, cache.NewMemoryContextCache(time.Hour), observability.NewNopLogger(), nil, Config{})
	if s.config.Schedule != "*/10 * * * *" {
		t.Errorf("schedule = %q", s.config.Schedule)
	}
	if s.config.IdleFor != 24*time.Hour {
		t.Errorf("idle for = %v", s.config.IdleFor)
	}
}
