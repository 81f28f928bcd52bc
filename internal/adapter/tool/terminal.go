package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"hostlink/internal/domain"
	"hostlink/internal/infra/tracer"
	"hostlink/internal/usecase/session"
)

// ExecuteCommandTool starts a shell command session. A process that exits
// within the timeout yields its full output; one that outlives the timeout
// is reported blocked and keeps running in the background.
type ExecuteCommandTool struct {
	manager *session.Manager
	logger  *slog.Logger
}

// NewExecuteCommandTool creates the execute_command tool.
func NewExecuteCommandTool(manager *session.Manager, logger *slog.Logger) *ExecuteCommandTool {
	return &ExecuteCommandTool{manager: manager, logger: logger}
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	return "Run a shell command on the host. Returns the full output if the command finishes within timeout_ms; otherwise returns the output so far with isBlocked=true and the command keeps running. Poll further output with read_output using the returned pid."
}

func (t *ExecuteCommandTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {
					"type": "string",
					"description": "The shell command line to execute"
				},
				"timeout_ms": {
					"type": "integer",
					"minimum": 0,
					"description": "Milliseconds to wait before returning with isBlocked=true (default from server config)"
				},
				"shell": {
					"type": "string",
					"description": "Shell to run the command with (default from server config)"
				}
			},
			"required": ["command"]
		}`),
	}
}

type executeCommandParams struct {
	Command   string `json:"command"`
	TimeoutMS int    `json:"timeout_ms"`
	Shell     string `json:"shell"`
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.execute_command", t.logger, params,
		func(ctx context.Context, span trace.Span, p executeCommandParams) (any, error) {
			if p.Command == "" {
				return nil, domain.NewDomainError("execute_command", domain.ErrInvalidInput, "command must not be empty")
			}
			span.SetAttributes(tracer.StringAttr("command", p.Command))

			res, err := t.manager.ExecuteCommand(ctx, p.Command, p.Shell, time.Duration(p.TimeoutMS)*time.Millisecond)
			if err != nil {
				if res != nil && res.PID == -1 {
					// Spawn failures surface in-band: pid -1 plus the
					// message, so the caller never has to parse an
					// exception shape.
					data, _ := json.MarshalIndent(res, "", "  ")
					return &domain.ToolResult{
						IsError:   true,
						ErrorCode: domain.ErrorCodeOf(err),
						Content:   string(data),
					}, nil
				}
				return nil, err
			}
			return res, nil
		})
}

// ReadOutputTool returns output produced since the previous read for a pid.
type ReadOutputTool struct {
	manager *session.Manager
	logger  *slog.Logger
}

// NewReadOutputTool creates the read_output tool.
func NewReadOutputTool(manager *session.Manager, logger *slog.Logger) *ReadOutputTool {
	return &ReadOutputTool{manager: manager, logger: logger}
}

func (t *ReadOutputTool) Name() string { return "read_output" }
func (t *ReadOutputTool) Description() string {
	return "Read new output from a running or recently finished command session. Each call returns only output produced since the previous read; once the process has exited the final read also carries exitCode."
}

func (t *ReadOutputTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pid": {
					"type": "integer",
					"description": "The pid returned by execute_command"
				}
			},
			"required": ["pid"]
		}`),
	}
}

type readOutputParams struct {
	PID int `json:"pid"`
}

func (t *ReadOutputTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.read_output", t.logger, params,
		func(_ context.Context, span trace.Span, p readOutputParams) (any, error) {
			span.SetAttributes(tracer.IntAttr("pid", p.PID))
			return t.manager.ReadOutput(p.PID)
		})
}

// ForceTerminateTool kills a session's whole process group.
type ForceTerminateTool struct {
	manager *session.Manager
	logger  *slog.Logger
}

// NewForceTerminateTool creates the force_terminate tool.
func NewForceTerminateTool(manager *session.Manager, logger *slog.Logger) *ForceTerminateTool {
	return &ForceTerminateTool{manager: manager, logger: logger}
}

func (t *ForceTerminateTool) Name() string { return "force_terminate" }
func (t *ForceTerminateTool) Description() string {
	return "Kill a command session and all of its child processes. Calling it on a session that already finished confirms completion. Remaining output stays readable via read_output."
}

func (t *ForceTerminateTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pid": {
					"type": "integer",
					"description": "The pid returned by execute_command"
				}
			},
			"required": ["pid"]
		}`),
	}
}

func (t *ForceTerminateTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.force_terminate", t.logger, params,
		func(ctx context.Context, span trace.Span, p readOutputParams) (any, error) {
			span.SetAttributes(tracer.IntAttr("pid", p.PID))
			if err := t.manager.ForceTerminate(ctx, p.PID); err != nil {
				return nil, err
			}
			return map[string]bool{"success": true}, nil
		})
}

// ListSessionsTool lists the sessions that are still running.
type ListSessionsTool struct {
	manager *session.Manager
	logger  *slog.Logger
}

// NewListSessionsTool creates the list_sessions tool.
func NewListSessionsTool(manager *session.Manager, logger *slog.Logger) *ListSessionsTool {
	return &ListSessionsTool{manager: manager, logger: logger}
}

func (t *ListSessionsTool) Name() string { return "list_sessions" }
func (t *ListSessionsTool) Description() string {
	return "List active command sessions with their pid, command, blocked flag and runtime. Finished sessions never appear here; their output is collected via read_output."
}

func (t *ListSessionsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

type sessionEntry struct {
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	IsBlocked bool   `json:"isBlocked"`
	RuntimeMS int64  `json:"runtime_ms"`
}

func (t *ListSessionsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.list_sessions", t.logger, params,
		func(_ context.Context, _ trace.Span, _ struct{}) (any, error) {
			sessions := t.manager.ListSessions()
			entries := make([]sessionEntry, 0, len(sessions))
			for _, s := range sessions {
				entries = append(entries, sessionEntry{
					PID:       s.PID,
					Command:   s.Command,
					IsBlocked: s.IsBlocked,
					RuntimeMS: s.Runtime.Milliseconds(),
				})
			}
			return entries, nil
		})
}
