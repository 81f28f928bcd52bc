package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"hostlink/internal/domain"
	"hostlink/internal/security"
)

// SearchTool finds files by name pattern or content under an allowed
// directory. Both modes are bounded by a result cap and a per-call timeout.
type SearchTool struct {
	guard      *security.PathGuard
	maxResults int
	timeout    time.Duration
	logger     *slog.Logger
}

// NewSearchTool creates the search tool.
func NewSearchTool(guard *security.PathGuard, maxResults int, timeout time.Duration, logger *slog.Logger) *SearchTool {
	if maxResults <= 0 {
		maxResults = 500
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SearchTool{guard: guard, maxResults: maxResults, timeout: timeout, logger: logger}
}

func (t *SearchTool) Name() string { return "search" }
func (t *SearchTool) Description() string {
	return "Search inside the allowed directories: action 'files' matches file names against a glob pattern, action 'content' matches file contents against a substring or regular expression."
}

func (t *SearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"enum": ["files", "content"],
					"description": "Search mode"
				},
				"path": {"type": "string", "description": "Directory to search under"},
				"pattern": {"type": "string", "description": "Glob pattern (files) or substring/regex (content)"},
				"regex": {"type": "boolean", "description": "Treat the content pattern as a regular expression"},
				"max_results": {"type": "integer", "minimum": 1, "description": "Cap on returned matches (bounded by the server)"}
			},
			"required": ["action", "path", "pattern"]
		}`),
	}
}

type searchParams struct {
	Action     string `json:"action"`
	Path       string `json:"path"`
	Pattern    string `json:"pattern"`
	Regex      bool   `json:"regex"`
	MaxResults int    `json:"max_results"`
}

type contentMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.search", t.logger, params,
		Dispatch(func(p searchParams) string { return p.Action }, ActionMap[searchParams]{
			"files":   t.searchFiles,
			"content": t.searchContent,
		}),
	)
}

func (t *SearchTool) limitFor(p searchParams) int {
	if p.MaxResults > 0 && p.MaxResults < t.maxResults {
		return p.MaxResults
	}
	return t.maxResults
}

func (t *SearchTool) searchFiles(ctx context.Context, p searchParams) (any, error) {
	root, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}
	if _, err := filepath.Match(p.Pattern, ""); err != nil {
		return nil, domain.NewDomainError("search.files", domain.ErrInvalidInput,
			fmt.Sprintf("bad glob pattern %q", p.Pattern))
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	limit := t.limitFor(p)
	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, _ := filepath.Match(p.Pattern, d.Name())
		if !ok && !d.IsDir() {
			// Fall back to matching the path relative to the root, so
			// patterns like cmd/*.go work.
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil {
				ok, _ = filepath.Match(p.Pattern, rel)
			}
		}
		if ok && !d.IsDir() {
			matches = append(matches, path)
			if len(matches) >= limit {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewSubSystemError("search", "search.files", domain.ErrTimeout, p.Pattern)
		}
		return nil, fmt.Errorf("walk: %w", err)
	}

	t.logger.Debug("search files", "root", root, "pattern", p.Pattern, "matches", len(matches))
	return matches, nil
}

func (t *SearchTool) searchContent(ctx context.Context, p searchParams) (any, error) {
	root, err := t.guard.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	match := func(line string) bool { return strings.Contains(line, p.Pattern) }
	if p.Regex {
		re, reErr := regexp.Compile(p.Pattern)
		if reErr != nil {
			return nil, domain.NewDomainError("search.content", domain.ErrInvalidInput,
				fmt.Sprintf("bad regex %q: %v", p.Pattern, reErr))
		}
		match = re.MatchString
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	limit := t.limitFor(p)
	var matches []contentMatch
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		found, scanErr := scanFile(path, match, limit-len(matches))
		if scanErr != nil {
			return nil // unreadable files are skipped
		}
		matches = append(matches, found...)
		if len(matches) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewSubSystemError("search", "search.content", domain.ErrTimeout, p.Pattern)
		}
		return nil, fmt.Errorf("walk: %w", err)
	}

	t.logger.Debug("search content", "root", root, "pattern", p.Pattern, "matches", len(matches))
	return matches, nil
}

func scanFile(path string, match func(string) bool, limit int) ([]contentMatch, error) {
	if limit <= 0 {
		return nil, nil
	}

	f, err := (&LocalFilesystemBackend{}).Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []contentMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 256*1024), 256*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if match(line) {
			out = append(out, contentMatch{Path: path, Line: lineNo, Text: line})
			if len(out) >= limit {
				break
			}
		}
	}
	// Binary or over-long lines abort the scan; matches found before the
	// failure still count.
	return out, nil
}
