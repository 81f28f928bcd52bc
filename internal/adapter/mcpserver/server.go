// Package mcpserver exposes the registered tools over the Model Context
// Protocol on stdio. Stdout carries the wire protocol; all logging and
// tracing goes to stderr or files.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"hostlink/internal/adapter/tool"
	"hostlink/internal/domain"
)

// Server wraps an MCP stdio server around a tool registry.
type Server struct {
	mcpServer *server.MCPServer
	registry  *tool.Registry
	logger    *slog.Logger
}

// New builds the MCP server and registers every tool from the registry.
func New(name, version string, registry *tool.Registry, logger *slog.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		registry: registry,
		logger:   logger,
	}
	for _, t := range registry.All() {
		s.mcpServer.AddTool(toMCPTool(t), s.handlerFor(t))
		logger.Debug("tool registered", "name", t.Name())
	}
	return s
}

// Serve runs the stdio transport until the client disconnects or ctx is
// canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", "tools", len(s.registry.List()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcpServer)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("stdio serve: %w", err)
		}
		return nil
	}
}

// toMCPTool converts a domain tool definition to its MCP form. The
// parameters JSON Schema is passed through untouched.
func toMCPTool(t domain.Tool) mcp.Tool {
	schema := t.Schema().Parameters
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type": "object", "properties": {}}`)
	}
	return mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema)
}

// handlerFor adapts a domain tool to the MCP tool handler signature.
// Domain tools never fail with a Go error on operational problems; an
// error return here means a genuinely broken call.
func (s *Server) handlerFor(t domain.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := rawArguments(req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		result, err := t.Execute(ctx, raw)
		if err != nil {
			s.logger.Error("tool execution failed", "tool", t.Name(), "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toCallToolResult(result), nil
	}
}

// rawArguments re-serializes the request arguments so tools keep their
// single json.RawMessage param contract.
func rawArguments(req mcp.CallToolRequest) (json.RawMessage, error) {
	args := req.Params.Arguments
	if args == nil {
		return nil, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// toCallToolResult converts a domain ToolResult to the MCP shape. Error
// codes stay machine-readable by prefixing the content.
func toCallToolResult(r *domain.ToolResult) *mcp.CallToolResult {
	if r == nil {
		return mcp.NewToolResultText("")
	}
	if r.IsError {
		content := r.Content
		if r.ErrorCode != "" {
			content = fmt.Sprintf("[%s] %s", r.ErrorCode, content)
		}
		return mcp.NewToolResultError(content)
	}
	return mcp.NewToolResultText(r.Content)
}
