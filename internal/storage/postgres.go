package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/concierge/pkg/models"
)

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns production pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStores creates Postgres-backed stores from a DSN.
func NewPostgresStores(dsn string, config *PostgresConfig) (StoreSet, error) {
	if strings.TrimSpace(dsn) == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresStoresFromDB(db), nil
}

// NewPostgresStoresFromDB wraps an existing database handle. The caller
// retains ownership of db unless Close is used on the returned set.
func NewPostgresStoresFromDB(db *sql.DB) StoreSet {
	return StoreSet{
		Conversations: &pgConversationStore{db: db},
		Messages:      &pgMessageStore{db: db},
		Executions:    &pgExecutionStore{db: db},
		Tools:         &pgToolStore{db: db},
		Clients:       &pgClientStore{db: db},
		closer:        db.Close,
	}
}

type pgConversationStore struct {
	db *sql.DB
}

func (s *pgConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, client_id, session_id, user_id, channel, thread_key, message_count, tokens_used, started_at, ended_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		conv.ID,
		conv.ClientID,
		conv.SessionID,
		nullString(conv.UserID),
		string(conv.Channel),
		nullString(conv.ThreadKey),
		conv.MessageCount,
		conv.TokensUsed,
		conv.StartedAt,
		conv.EndedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

const conversationColumns = `id, client_id, session_id, COALESCE(user_id, ''), channel, COALESCE(thread_key, ''), message_count, tokens_used, started_at, ended_at`

func (s *pgConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *pgConversationStore) ActiveBySession(ctx context.Context, clientID, sessionID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE client_id = $1 AND session_id = $2 AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`,
		clientID, sessionID)
	return scanConversation(row)
}

func (s *pgConversationStore) End(ctx context.Context, id string, at time.Time) error {
	// ended_at IS NULL keeps ending monotonic.
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`,
		id, at)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return nil
}

func (s *pgConversationStore) AddUsage(ctx context.Context, id string, messages, tokens int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + $2, tokens_used = tokens_used + $3 WHERE id = $1`,
		id, messages, tokens)
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

func (s *pgConversationStore) ListIdle(ctx context.Context, cutoff time.Time) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations c
		 WHERE c.ended_at IS NULL
		   AND NOT EXISTS (
		     SELECT 1 FROM messages m
		     WHERE m.conversation_id = c.id AND m.created_at > $1
		   )`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("list idle conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var channel string
	var endedAt sql.NullTime
	if err := row.Scan(
		&conv.ID,
		&conv.ClientID,
		&conv.SessionID,
		&conv.UserID,
		&channel,
		&conv.ThreadKey,
		&conv.MessageCount,
		&conv.TokensUsed,
		&conv.StartedAt,
		&endedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.Channel = models.Channel(channel)
	if endedAt.Valid {
		t := endedAt.Time
		conv.EndedAt = &t
	}
	return &conv, nil
}

type pgMessageStore struct {
	db *sql.DB
}

func (s *pgMessageStore) Append(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	var meta []byte
	if msg.Meta != nil {
		var err error
		meta, err = json.Marshal(msg.Meta)
		if err != nil {
			return fmt.Errorf("marshal message meta: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tokens, meta, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		msg.ID,
		msg.ConversationID,
		string(msg.Role),
		msg.Content,
		msg.Tokens,
		meta,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *pgMessageStore) List(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tokens, meta, created_at
		 FROM (
		   SELECT * FROM messages WHERE conversation_id = $1
		   ORDER BY created_at DESC LIMIT $2
		 ) recent
		 ORDER BY created_at ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var meta []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.Tokens, &meta, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if len(meta) > 0 {
			var m models.MessageMeta
			if err := json.Unmarshal(meta, &m); err == nil {
				msg.Meta = &m
			}
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

type pgExecutionStore struct {
	db *sql.DB
}

func (s *pgExecutionStore) Create(ctx context.Context, exec *models.ToolExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_executions (id, conversation_id, tool, input, output, success, status, duration_ms, error, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		exec.ID,
		exec.ConversationID,
		exec.Tool,
		[]byte(exec.Input),
		[]byte(exec.Output),
		exec.Success,
		string(exec.Status),
		exec.DurationMs,
		nullString(exec.Error),
		exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create tool execution: %w", err)
	}
	return nil
}

func (s *pgExecutionStore) ListSuccessful(ctx context.Context, conversationID, tool string) ([]*models.ToolExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, tool, input, output, success, status, duration_ms, COALESCE(error, ''), created_at
		 FROM tool_executions
		 WHERE conversation_id = $1 AND tool = $2 AND status = 'success'
		 ORDER BY created_at DESC`,
		conversationID, tool)
	if err != nil {
		return nil, fmt.Errorf("list tool executions: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolExecution
	for rows.Next() {
		var exec models.ToolExecution
		var status string
		var input, output []byte
		if err := rows.Scan(&exec.ID, &exec.ConversationID, &exec.Tool, &input, &output, &exec.Success, &status, &exec.DurationMs, &exec.Error, &exec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool execution: %w", err)
		}
		exec.Status = models.ExecutionStatus(status)
		exec.Input = json.RawMessage(input)
		exec.Output = json.RawMessage(output)
		out = append(out, &exec)
	}
	return out, rows.Err()
}

type pgToolStore struct {
	db *sql.DB
}

func (s *pgToolStore) GetByName(ctx context.Context, clientID, name string) (*models.ToolDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, name, description, schema, integrations, workflow_path, enabled
		 FROM tools WHERE client_id = $1 AND name = $2`,
		clientID, name)
	return scanTool(row)
}

func (s *pgToolStore) ListEnabled(ctx context.Context, clientID string) ([]*models.ToolDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, name, description, schema, integrations, workflow_path, enabled
		 FROM tools WHERE client_id = $1 AND enabled ORDER BY name`,
		clientID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolDefinition
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tool)
	}
	return out, rows.Err()
}

func scanTool(row rowScanner) (*models.ToolDefinition, error) {
	var tool models.ToolDefinition
	var schema []byte
	var integrations []string
	if err := row.Scan(
		&tool.ID,
		&tool.ClientID,
		&tool.Name,
		&tool.Description,
		&schema,
		pq.Array(&integrations),
		&tool.WorkflowPath,
		&tool.Enabled,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan tool: %w", err)
	}
	tool.Schema = json.RawMessage(schema)
	tool.Integrations = integrations
	return &tool, nil
}

type pgClientStore struct {
	db *sql.DB
}

func (s *pgClientStore) Get(ctx context.Context, id string) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(timezone, ''), COALESCE(language, ''), COALESCE(system_prompt, ''),
		        COALESCE(provider, ''), COALESCE(model, ''), credentials
		 FROM clients WHERE id = $1`, id)

	var client models.Client
	var creds []byte
	if err := row.Scan(
		&client.ID,
		&client.Name,
		&client.Timezone,
		&client.Language,
		&client.SystemPrompt,
		&client.Provider,
		&client.Model,
		&creds,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &client.Credentials); err != nil {
			return nil, fmt.Errorf("unmarshal client credentials: %w", err)
		}
	}
	return &client, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
