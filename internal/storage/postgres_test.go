package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/concierge/pkg/models"
)

func newMockStores(t *testing.T) (StoreSet, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPostgresStoresFromDB(db), mock
}

func TestPostgresConversationGet(t *testing.T) {
	stores, mock := newMockStores(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE id =`).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "client_id", "session_id", "user_id", "channel", "thread_key",
			"message_count", "tokens_used", "started_at", "ended_at",
		}).AddRow("conv-1", "client-1", "sess-1", "", "email", "thread-9", 4, 900, now, nil))

	conv, err := stores.Conversations.Get(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv.Channel != models.ChannelEmail {
		t.Errorf("channel = %q", conv.Channel)
	}
	if conv.EndedAt != nil {
		t.Errorf("ended_at = %v, want nil", conv.EndedAt)
	}
	if !conv.Active() {
		t.Error("conversation should be active")
	}
}

func TestPostgresConversationGetNotFound(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE id =`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "client_id", "session_id", "user_id", "channel", "thread_key",
			"message_count", "tokens_used", "started_at", "ended_at",
		}))

	if _, err := stores.Conversations.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresConversationEnd(t *testing.T) {
	stores, mock := newMockStores(t)
	at := time.Now()

	mock.ExpectExec(`UPDATE conversations SET ended_at = .+ AND ended_at IS NULL`).
		WithArgs("conv-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := stores.Conversations.End(context.Background(), "conv-1", at); err != nil {
		t.Fatalf("end: %v", err)
	}
}

func TestPostgresMessageAppend(t *testing.T) {
	stores, mock := newMockStores(t)
	now := time.Now()

	meta, _ := json.Marshal(&models.MessageMeta{ToolName: "book_table", ToolCallID: "call-1"})
	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs("m-1", "conv-1", "tool", "done", 12, meta, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := stores.Messages.Append(context.Background(), &models.Message{
		ID:             "m-1",
		ConversationID: "conv-1",
		Role:           models.RoleTool,
		Content:        "done",
		Tokens:         12,
		Meta:           &models.MessageMeta{ToolName: "book_table", ToolCallID: "call-1"},
		CreatedAt:      now,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestPostgresExecutionListSuccessful(t *testing.T) {
	stores, mock := newMockStores(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM tool_executions`).
		WithArgs("conv-1", "book_table").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "conversation_id", "tool", "input", "output", "success", "status", "duration_ms", "error", "created_at",
		}).AddRow("e1", "conv-1", "book_table", []byte(`{"date":"2026-08-29"}`), []byte(`{"ok":true}`), true, "success", 120, "", now))

	execs, err := stores.Executions.ListSuccessful(context.Background(), "conv-1", "book_table")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != models.ExecutionSuccess {
		t.Fatalf("execs = %v", execs)
	}
	var input map[string]any
	if err := json.Unmarshal(execs[0].Input, &input); err != nil {
		t.Fatalf("input not JSON: %v", err)
	}
}

func TestPostgresClientGet(t *testing.T) {
	stores, mock := newMockStores(t)

	mock.ExpectQuery(`SELECT .+ FROM clients WHERE id =`).
		WithArgs("client-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "timezone", "language", "system_prompt", "provider", "model", "credentials",
		}).AddRow("client-1", "Bistro", "Europe/Madrid", "es", "You manage bookings.", "anthropic", "claude-sonnet-4-5", []byte(`{"crm_key":"sk-1"}`)))

	client, err := stores.Clients.Get(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if client.Credentials["crm_key"] != "sk-1" {
		t.Errorf("credentials = %v", client.Credentials)
	}
}
