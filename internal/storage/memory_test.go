package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

func TestMemoryConversationStore(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	now := time.Now()

	conv := &models.Conversation{
		ID:        "conv-1",
		ClientID:  "client-1",
		SessionID: "sess-1",
		Channel:   models.ChannelWidget,
		StartedAt: now,
	}

	t.Run("create and get", func(t *testing.T) {
		if err := stores.Conversations.Create(ctx, conv); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := stores.Conversations.Get(ctx, "conv-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.SessionID != "sess-1" {
			t.Errorf("session = %q, want sess-1", got.SessionID)
		}
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		if err := stores.Conversations.Create(ctx, conv); err != ErrAlreadyExists {
			t.Errorf("err = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("active by session", func(t *testing.T) {
		got, err := stores.Conversations.ActiveBySession(ctx, "client-1", "sess-1")
		if err != nil {
			t.Fatalf("active: %v", err)
		}
		if got.ID != "conv-1" {
			t.Errorf("id = %q", got.ID)
		}
		if _, err := stores.Conversations.ActiveBySession(ctx, "client-1", "other"); err != ErrNotFound {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("usage accumulates", func(t *testing.T) {
		if err := stores.Conversations.AddUsage(ctx, "conv-1", 2, 150); err != nil {
			t.Fatalf("add usage: %v", err)
		}
		if err := stores.Conversations.AddUsage(ctx, "conv-1", 1, 50); err != nil {
			t.Fatalf("add usage: %v", err)
		}
		got, _ := stores.Conversations.Get(ctx, "conv-1")
		if got.MessageCount != 3 || got.TokensUsed != 200 {
			t.Errorf("messages = %d tokens = %d", got.MessageCount, got.TokensUsed)
		}
	})

	t.Run("end is monotonic", func(t *testing.T) {
		first := now.Add(time.Minute)
		if err := stores.Conversations.End(ctx, "conv-1", first); err != nil {
			t.Fatalf("end: %v", err)
		}
		if err := stores.Conversations.End(ctx, "conv-1", first.Add(time.Hour)); err != nil {
			t.Fatalf("second end: %v", err)
		}
		got, _ := stores.Conversations.Get(ctx, "conv-1")
		if got.EndedAt == nil || !got.EndedAt.Equal(first) {
			t.Errorf("ended_at = %v, want %v", got.EndedAt, first)
		}
		if _, err := stores.Conversations.ActiveBySession(ctx, "client-1", "sess-1"); err != ErrNotFound {
			t.Errorf("ended conversation still active: %v", err)
		}
	})
}

func TestMemoryListIdle(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	now := time.Now()

	stale := &models.Conversation{ID: "stale", ClientID: "c", SessionID: "a", StartedAt: now.Add(-2 * time.Hour)}
	fresh := &models.Conversation{ID: "fresh", ClientID: "c", SessionID: "b", StartedAt: now.Add(-2 * time.Hour)}
	if err := stores.Conversations.Create(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := stores.Conversations.Create(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if err := stores.Messages.Append(ctx, &models.Message{
		ID: "m1", ConversationID: "fresh", Role: models.RoleUser, Content: "hi", CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	idle, err := stores.Conversations.ListIdle(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list idle: %v", err)
	}
	if len(idle) != 1 || idle[0].ID != "stale" {
		t.Fatalf("idle = %v", idle)
	}
}

func TestMemoryMessageStore(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	base := time.Now()

	for i := 0; i < 5; i++ {
		err := stores.Messages.Append(ctx, &models.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "conv-1",
			Role:           models.RoleUser,
			Content:        "message",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	t.Run("list limits to most recent in order", func(t *testing.T) {
		msgs, err := stores.Messages.List(ctx, "conv-1", 3)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("len = %d", len(msgs))
		}
		if msgs[0].ID != "c" || msgs[2].ID != "e" {
			t.Errorf("order = %q..%q", msgs[0].ID, msgs[2].ID)
		}
	})

	t.Run("empty conversation", func(t *testing.T) {
		msgs, err := stores.Messages.List(ctx, "missing", 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("len = %d", len(msgs))
		}
	})
}

func TestMemoryExecutionStore(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	now := time.Now()

	records := []*models.ToolExecution{
		{ID: "e1", ConversationID: "conv-1", Tool: "book", Input: json.RawMessage(`{"a":1}`), Status: models.ExecutionSuccess, Success: true, CreatedAt: now},
		{ID: "e2", ConversationID: "conv-1", Tool: "book", Input: json.RawMessage(`{"a":2}`), Status: models.ExecutionFailed, CreatedAt: now.Add(time.Second)},
		{ID: "e3", ConversationID: "conv-1", Tool: "book", Input: json.RawMessage(`{"a":3}`), Status: models.ExecutionSuccess, Success: true, CreatedAt: now.Add(2 * time.Second)},
		{ID: "e4", ConversationID: "conv-1", Tool: "cancel", Input: json.RawMessage(`{}`), Status: models.ExecutionSuccess, Success: true, CreatedAt: now},
	}
	for _, rec := range records {
		if err := stores.Executions.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := stores.Executions.ListSuccessful(ctx, "conv-1", "book")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "e3" {
		t.Errorf("newest first, got %q", got[0].ID)
	}
}

func TestMemoryToolAndClientStores(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()

	tools := stores.Tools.(*MemoryToolStore)
	tools.Put(&models.ToolDefinition{ClientID: "c1", Name: "book_table", Enabled: true})
	tools.Put(&models.ToolDefinition{ClientID: "c1", Name: "archived", Enabled: false})

	t.Run("get by name", func(t *testing.T) {
		tool, err := stores.Tools.GetByName(ctx, "c1", "book_table")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if tool.Name != "book_table" {
			t.Errorf("name = %q", tool.Name)
		}
		if _, err := stores.Tools.GetByName(ctx, "c1", "missing"); err != ErrNotFound {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("list enabled only", func(t *testing.T) {
		list, err := stores.Tools.ListEnabled(ctx, "c1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 1 || list[0].Name != "book_table" {
			t.Errorf("list = %v", list)
		}
	})

	t.Run("client round trip", func(t *testing.T) {
		clients := stores.Clients.(*MemoryClientStore)
		clients.Put(&models.Client{ID: "c1", Name: "Bistro", Timezone: "Europe/Madrid"})
		client, err := stores.Clients.Get(ctx, "c1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if client.Timezone != "Europe/Madrid" {
			t.Errorf("timezone = %q", client.Timezone)
		}
	})
}
