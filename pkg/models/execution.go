package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus classifies the outcome of a tool-call attempt.
type ExecutionStatus string

const (
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionBlocked   ExecutionStatus = "blocked"
	ExecutionDuplicate ExecutionStatus = "duplicate"
)

// ToolExecution records one tool-call attempt. Records are immutable once
// written and serve both as an audit trail and as the duplicate-execution
// ledger: a later call with structurally equal arguments against a prior
// successful record is suppressed without reaching the external engine.
type ToolExecution struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Tool           string          `json:"tool"`
	Input          json.RawMessage `json:"input"`  // post-normalization arguments
	Output         json.RawMessage `json:"output"` // raw result payload
	Success        bool            `json:"success"`
	Status         ExecutionStatus `json:"status"`
	DurationMs     int64           `json:"duration_ms"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
