package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the tool-call protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is the outcome of executing a tool. Errors never cross the
// tool-call boundary as Go errors; they are flagged results.
type ToolResult struct {
	Content   string    `json:"content"`
	IsError   bool      `json:"is_error"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}
