package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"hostlink/internal/domain"
	"hostlink/internal/security"
)

// EditBlockTool replaces one unique text block in a file. The match must be
// exact or, failing that, unique after whitespace normalization; an
// ambiguous or missing block is reported together with the closest
// candidate rather than guessed at.
type EditBlockTool struct {
	backend FilesystemBackend
	guard   *security.PathGuard
	logger  *slog.Logger
}

// NewEditBlockTool creates the edit_block tool.
func NewEditBlockTool(backend FilesystemBackend, guard *security.PathGuard, logger *slog.Logger) *EditBlockTool {
	return &EditBlockTool{backend: backend, guard: guard, logger: logger}
}

func (t *EditBlockTool) Name() string { return "edit_block" }
func (t *EditBlockTool) Description() string {
	return "Replace a unique text block in a file. The old text must match exactly once; if the exact text is not found, a whitespace-lenient match is attempted before giving up."
}

func (t *EditBlockTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File to edit"},
				"old_text": {"type": "string", "description": "The exact text block to replace"},
				"new_text": {"type": "string", "description": "Replacement text"}
			},
			"required": ["path", "old_text", "new_text"]
		}`),
	}
}

type editBlockParams struct {
	Path    string `json:"path"`
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

func (t *EditBlockTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.edit_block", t.logger, params,
		func(_ context.Context, _ trace.Span, p editBlockParams) (any, error) {
			if p.OldText == "" {
				return nil, domain.NewDomainError("edit_block", domain.ErrInvalidInput, "old_text must not be empty")
			}

			resolved, err := t.guard.ValidatePath(p.Path)
			if err != nil {
				return nil, err
			}

			data, err := t.backend.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}
			content := string(data)

			updated, err := replaceBlock(content, p.OldText, p.NewText)
			if err != nil {
				return nil, err
			}

			if err := t.backend.WriteFile(resolved, []byte(updated), 0644); err != nil {
				return nil, fmt.Errorf("write file: %w", err)
			}

			t.logger.Debug("edit_block applied", "path", resolved)
			return TextResult(fmt.Sprintf("replaced block in %s", resolved)), nil
		})
}

// replaceBlock performs the exact-then-lenient replacement.
func replaceBlock(content, oldText, newText string) (string, error) {
	switch count := strings.Count(content, oldText); count {
	case 1:
		return strings.Replace(content, oldText, newText, 1), nil
	case 0:
		return replaceLenient(content, oldText, newText)
	default:
		return "", domain.NewDomainError("edit_block", domain.ErrEditAmbiguous,
			fmt.Sprintf("%d occurrences; add surrounding context to make the block unique", count))
	}
}

// replaceLenient retries the match with runs of whitespace collapsed on
// both sides. The replacement still happens on the original bytes: the
// lenient pass only locates the block.
func replaceLenient(content, oldText, newText string) (string, error) {
	normOld := normalizeWhitespace(oldText)

	start, end, matches := -1, -1, 0
	for i := 0; i < len(content); i++ {
		j := matchLenientAt(content, i, normOld)
		if j < 0 {
			continue
		}
		matches++
		if matches == 1 {
			start, end = i, j
		}
		i = j - 1
	}

	switch matches {
	case 1:
		return content[:start] + newText + content[end:], nil
	case 0:
		return "", domain.NewDomainError("edit_block", domain.ErrEditNoMatch, closestCandidate(content, oldText))
	default:
		return "", domain.NewDomainError("edit_block", domain.ErrEditAmbiguous,
			fmt.Sprintf("%d lenient matches; add surrounding context to make the block unique", matches))
	}
}

// matchLenientAt reports the end offset of a whitespace-lenient match of
// normOld starting at i, or -1.
func matchLenientAt(content string, i int, normOld string) int {
	ci, oi := i, 0
	for oi < len(normOld) {
		if ci >= len(content) {
			return -1
		}
		oc, cc := normOld[oi], content[ci]
		switch {
		case oc == ' ':
			if !isSpace(cc) {
				return -1
			}
			for ci < len(content) && isSpace(content[ci]) {
				ci++
			}
			oi++
		case isSpace(cc):
			return -1
		case oc == cc:
			ci++
			oi++
		default:
			return -1
		}
	}
	return ci
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// closestCandidate names the most similar line in the file to the first
// line of the missing block, so the caller can correct the request instead
// of retrying blind.
func closestCandidate(content, oldText string) string {
	firstLine := strings.TrimSpace(strings.SplitN(oldText, "\n", 2)[0])
	if firstLine == "" {
		return "block not found"
	}

	best, bestScore := "", 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		score := commonPrefixLen(trimmed, firstLine)
		if score > bestScore {
			best, bestScore = trimmed, score
		}
	}
	if best == "" || bestScore < 3 {
		return "block not found"
	}
	return fmt.Sprintf("block not found; closest line: %q", best)
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
