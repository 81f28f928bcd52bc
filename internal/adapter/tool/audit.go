package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"hostlink/internal/domain"
	"hostlink/internal/security"
)

// AuditedTool wraps a Tool so every invocation lands in the audit trail
// with a fresh call id, independent of whether it succeeds.
type AuditedTool struct {
	inner  domain.Tool
	audit  domain.AuditLogger
	logger *slog.Logger
}

// WithAudit wraps a tool with audit logging. A nil audit logger returns the
// tool unchanged.
func WithAudit(t domain.Tool, audit domain.AuditLogger, logger *slog.Logger) domain.Tool {
	if audit == nil {
		return t
	}
	return &AuditedTool{inner: t, audit: audit, logger: logger}
}

func (a *AuditedTool) Name() string              { return a.inner.Name() }
func (a *AuditedTool) Description() string       { return a.inner.Description() }
func (a *AuditedTool) Schema() domain.ToolSchema { return a.inner.Schema() }

func (a *AuditedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	callID := security.NewCallID()

	result, err := a.inner.Execute(ctx, params)

	event := domain.AuditEvent{
		Type:   domain.AuditToolCall,
		CallID: callID,
		Tool:   a.inner.Name(),
		Action: actionOf(params),
	}
	switch {
	case err != nil:
		event.Outcome = "error"
		event.Detail = map[string]string{"error": err.Error()}
	case result != nil && result.IsError:
		event.Outcome = "error"
		event.Detail = map[string]string{"error_code": string(result.ErrorCode)}
	default:
		event.Outcome = "success"
	}

	if logErr := a.audit.Log(ctx, event); logErr != nil {
		// The tool result still stands; a failed audit write must not
		// break the call.
		a.logger.Error("audit write failed", "tool", a.inner.Name(), "error", logErr)
	}

	return result, err
}

// actionOf extracts the "action" field from raw params for audit labeling.
// Non-action tools yield an empty string.
func actionOf(params json.RawMessage) string {
	var fields struct {
		Action string `json:"action"`
	}
	if json.Unmarshal(params, &fields) != nil {
		return ""
	}
	return fields.Action
}
