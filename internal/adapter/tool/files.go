package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"hostlink/internal/domain"
	"hostlink/internal/security"
)

// FilesTool provides file operations restricted to the configured allowed
// directories.
type FilesTool struct {
	backend FilesystemBackend
	guard   *security.PathGuard
	maxRead int
	logger  *slog.Logger
}

// NewFilesTool creates the files tool. maxRead caps the bytes returned by
// a single read.
func NewFilesTool(backend FilesystemBackend, guard *security.PathGuard, maxRead int, logger *slog.Logger) *FilesTool {
	if maxRead <= 0 {
		maxRead = 1 << 20
	}
	return &FilesTool{backend: backend, guard: guard, maxRead: maxRead, logger: logger}
}

func (t *FilesTool) Name() string { return "files" }
func (t *FilesTool) Description() string {
	return "File operations inside the allowed directories: read, write, append, create_directory, list_directory, get_info, move, copy, delete. Paths must be absolute."
}

func (t *FilesTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"enum": ["read", "write", "append", "create_directory", "list_directory", "get_info", "move", "copy", "delete"],
					"description": "The file operation to perform"
				},
				"path": {"type": "string", "description": "File or directory path"},
				"destination": {"type": "string", "description": "Destination path (for move and copy)"},
				"content": {"type": "string", "description": "Content to write or append"},
				"offset": {"type": "integer", "minimum": 0, "description": "Byte offset to start reading from (read only)"},
				"length": {"type": "integer", "minimum": 0, "description": "Max bytes to read (read only, capped by the server)"}
			},
			"required": ["action", "path"]
		}`),
	}
}

type filesParams struct {
	Action      string `json:"action"`
	Path        string `json:"path"`
	Destination string `json:"destination"`
	Content     string `json:"content"`
	Offset      int64  `json:"offset"`
	Length      int    `json:"length"`
}

func (t *FilesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.files", t.logger, params,
		Dispatch(func(p filesParams) string { return p.Action }, ActionMap[filesParams]{
			"read":             t.read,
			"write":            t.write,
			"append":           t.append,
			"create_directory": t.createDirectory,
			"list_directory":   t.listDirectory,
			"get_info":         t.getInfo,
			"move":             t.move,
			"copy":             t.copy,
			"delete":           t.delete,
		}),
	)
}

type readResponse struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Offset    int64  `json:"offset"`
	BytesRead int    `json:"bytes_read"`
	Truncated bool   `json:"truncated"`
}

func (t *FilesTool) read(_ context.Context, p filesParams) (any, error) {
	resolved, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	f, err := t.backend.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	if p.Offset > 0 {
		if seeker, ok := f.(io.Seeker); ok {
			if _, err := seeker.Seek(p.Offset, io.SeekStart); err != nil {
				return nil, fmt.Errorf("seek: %w", err)
			}
		}
	}

	limit := t.maxRead
	if p.Length > 0 && p.Length < limit {
		limit = p.Length
	}

	// Read one byte past the limit to detect truncation.
	buf := make([]byte, limit+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read file: %w", err)
	}

	truncated := n > limit
	if truncated {
		n = limit
	}

	t.logger.Debug("files read", "path", resolved, "bytes", n, "truncated", truncated)
	return readResponse{
		Path:      resolved,
		Content:   string(buf[:n]),
		Offset:    p.Offset,
		BytesRead: n,
		Truncated: truncated,
	}, nil
}

func (t *FilesTool) write(_ context.Context, p filesParams) (any, error) {
	resolved, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	if err := t.backend.WriteFile(resolved, []byte(p.Content), 0644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	t.logger.Debug("files write", "path", resolved, "size", len(p.Content))
	return TextResult(fmt.Sprintf("wrote %d bytes to %s", len(p.Content), resolved)), nil
}

func (t *FilesTool) append(_ context.Context, p filesParams) (any, error) {
	resolved, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	if err := t.backend.AppendFile(resolved, []byte(p.Content), 0644); err != nil {
		return nil, fmt.Errorf("append file: %w", err)
	}

	t.logger.Debug("files append", "path", resolved, "size", len(p.Content))
	return TextResult(fmt.Sprintf("appended %d bytes to %s", len(p.Content), resolved)), nil
}

func (t *FilesTool) createDirectory(_ context.Context, p filesParams) (any, error) {
	resolved, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	if err := t.backend.MkdirAll(resolved, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return TextResult(fmt.Sprintf("created directory %s", resolved)), nil
}

func (t *FilesTool) listDirectory(_ context.Context, p filesParams) (any, error) {
	resolved, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	entries, err := t.backend.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "[DIR]  %s\n", entry.Name())
		} else {
			fmt.Fprintf(&sb, "[FILE] %s\n", entry.Name())
		}
	}
	return TextResult(sb.String()), nil
}

type fileInfo struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Mode     string    `json:"mode"`
	Modified time.Time `json:"modified"`
}

func (t *FilesTool) getInfo(_ context.Context, p filesParams) (any, error) {
	resolved, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	info, err := t.backend.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	return fileInfo{
		Path:     resolved,
		Size:     info.Size(),
		IsDir:    info.IsDir(),
		Mode:     info.Mode().String(),
		Modified: info.ModTime(),
	}, nil
}

func (t *FilesTool) move(_ context.Context, p filesParams) (any, error) {
	src, dst, err := t.resolvePair(p)
	if err != nil {
		return nil, err
	}

	if err := t.backend.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("move: %w", err)
	}
	return TextResult(fmt.Sprintf("moved %s to %s", src, dst)), nil
}

func (t *FilesTool) copy(_ context.Context, p filesParams) (any, error) {
	src, dst, err := t.resolvePair(p)
	if err != nil {
		return nil, err
	}

	in, err := t.backend.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if err := t.backend.WriteFile(dst, data, 0644); err != nil {
		return nil, fmt.Errorf("write destination: %w", err)
	}
	return TextResult(fmt.Sprintf("copied %s to %s (%d bytes)", src, dst, len(data))), nil
}

func (t *FilesTool) delete(_ context.Context, p filesParams) (any, error) {
	resolved, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	if err := t.backend.Remove(resolved); err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	return TextResult(fmt.Sprintf("deleted %s", resolved)), nil
}

// resolvePair validates both ends of a move/copy. Both must be inside the
// allowed directories.
func (t *FilesTool) resolvePair(p filesParams) (src, dst string, err error) {
	if p.Destination == "" {
		return "", "", domain.NewDomainError("files", domain.ErrInvalidInput, "destination must not be empty")
	}
	if src, err = t.guard.ValidatePath(p.Path); err != nil {
		return "", "", err
	}
	if dst, err = t.guard.ValidatePath(p.Destination); err != nil {
		return "", "", err
	}
	return src, dst, nil
}
