package models

import (
	"encoding/json"
)

// ToolCall represents a model's request to execute a tool. This is the
// normalized internal form; provider adapters translate their wire
// formats (structured function calls or parsed text) into it.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the model-consumable output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolSpec is the per-call projection of a ToolDefinition offered to the
// model: just the fields provider adapters translate into their wire
// formats.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolDefinition describes an external business action the model may
// invoke. Definitions are tenant-scoped.
type ToolDefinition struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"client_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Schema       json.RawMessage `json:"schema"`                 // JSON Schema for parameters
	Integrations []string        `json:"integrations,omitempty"` // required credential names
	WorkflowPath string          `json:"workflow_path"`          // absolute URL or path relative to the engine base
	Enabled      bool            `json:"enabled"`
}
