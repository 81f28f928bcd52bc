package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"hostlink/internal/domain"
	"hostlink/internal/infra/tracer"
	"hostlink/internal/usecase/session"
)

// DelegateCLITool hands an entire external CLI invocation to the session
// manager. The initial timeout is short and fixed: it only decides whether
// the response is synchronous or a pollable pid, never how long the job may
// run. The job has no maximum lifetime; the caller polls read_output and
// may force_terminate.
type DelegateCLITool struct {
	manager        *session.Manager
	initialTimeout time.Duration
	logger         *slog.Logger
}

// NewDelegateCLITool creates the delegate_cli tool with the given fixed
// initial timeout.
func NewDelegateCLITool(manager *session.Manager, initialTimeout time.Duration, logger *slog.Logger) *DelegateCLITool {
	if initialTimeout <= 0 {
		initialTimeout = 3 * time.Second
	}
	return &DelegateCLITool{manager: manager, initialTimeout: initialTimeout, logger: logger}
}

func (t *DelegateCLITool) Name() string { return "delegate_cli" }
func (t *DelegateCLITool) Description() string {
	return "Run an external command-line tool as a background job. Returns quickly either with the finished output or with a pid to poll via read_output; the job itself runs until it completes or is force-terminated."
}

func (t *DelegateCLITool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"binary": {
					"type": "string",
					"description": "The executable to run"
				},
				"args": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Arguments passed to the executable"
				}
			},
			"required": ["binary"]
		}`),
	}
}

type delegateCLIParams struct {
	Binary string   `json:"binary"`
	Args   []string `json:"args"`
}

func (t *DelegateCLITool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.delegate_cli", t.logger, params,
		func(ctx context.Context, span trace.Span, p delegateCLIParams) (any, error) {
			if p.Binary == "" {
				return nil, domain.NewDomainError("delegate_cli", domain.ErrInvalidInput, "binary must not be empty")
			}
			commandLine := buildCommandLine(p.Binary, p.Args)
			span.SetAttributes(tracer.StringAttr("command", commandLine))

			res, err := t.manager.ExecuteCommand(ctx, commandLine, "", t.initialTimeout)
			if err != nil {
				if res != nil && res.PID == -1 {
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

// buildCommandLine shell-quotes the binary and each argument.
func buildCommandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(binary))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`!*?[]();<>|&~#{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
