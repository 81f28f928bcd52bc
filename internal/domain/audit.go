package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditToolCall    AuditEventType = "tool_call"
	AuditCommandExec AuditEventType = "command_exec"
	AuditCommandKill AuditEventType = "command_kill"
	AuditFileChange  AuditEventType = "file_change"
	AuditConfigWrite AuditEventType = "config_write"
	AuditBlocked     AuditEventType = "blocked"
)

// AuditEvent represents a single auditable action.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	CallID    string            `json:"call_id,omitempty"`
	Tool      string            `json:"tool,omitempty"`
	Action    string            `json:"action,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// AuditLogger writes audit events to a persistent log. It is notified of
// every tool invocation independent of session state.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
