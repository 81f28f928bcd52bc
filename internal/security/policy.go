package security

import (
	"path/filepath"
	"strings"
	"sync"

	"hostlink/internal/domain"
)

// CommandBlocklist rejects command lines whose executable is on a
// configured list. It checks the base name of the first token of the
// command line and of every compound segment, so "true; shutdown" cannot
// smuggle a blocked command behind an allowed one.
type CommandBlocklist struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

// NewCommandBlocklist creates a blocklist from the given command names.
func NewCommandBlocklist(commands []string) *CommandBlocklist {
	bl := &CommandBlocklist{}
	bl.Replace(commands)
	return bl
}

// Replace swaps the whole blocklist, normalizing entries to lower-case
// base names. Used by the config tool when blocked_commands changes.
func (bl *CommandBlocklist) Replace(commands []string) {
	blocked := make(map[string]struct{}, len(commands))
	for _, c := range commands {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			blocked[filepath.Base(c)] = struct{}{}
		}
	}
	bl.mu.Lock()
	bl.blocked = blocked
	bl.mu.Unlock()
}

// List returns the current blocklist entries.
func (bl *CommandBlocklist) List() []string {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	out := make([]string, 0, len(bl.blocked))
	for c := range bl.blocked {
		out = append(out, c)
	}
	return out
}

// Check implements the session manager's CommandPolicy. The error carries
// the COMMAND_BLOCKED code and names the offending executable.
func (bl *CommandBlocklist) Check(commandLine string) error {
	for _, segment := range splitSegments(commandLine) {
		exe := firstToken(segment)
		if exe == "" {
			continue
		}
		name := strings.ToLower(filepath.Base(exe))

		bl.mu.RLock()
		_, hit := bl.blocked[name]
		bl.mu.RUnlock()

		if hit {
			return domain.NewDomainError("CommandBlocklist.Check", domain.ErrCommandBlocked, name)
		}
	}
	return nil
}

// splitSegments breaks a command line at the obvious compound operators.
// This is not a shell parser; it only needs to see through the common ways
// of chaining a second command.
func splitSegments(commandLine string) []string {
	seps := []string{";", "&&", "||", "|", "\n"}
	segments := []string{commandLine}
	for _, sep := range seps {
		var next []string
		for _, seg := range segments {
			next = append(next, strings.Split(seg, sep)...)
		}
		segments = next
	}
	return segments
}

// firstToken returns the first whitespace-delimited token of a segment,
// skipping leading VAR=value assignments.
func firstToken(segment string) string {
	for _, tok := range strings.Fields(segment) {
		if strings.Contains(tok, "=") && !strings.HasPrefix(tok, "=") {
			// Env assignment prefix, e.g. FOO=bar cmd
			if i := strings.Index(tok, "="); i > 0 && isIdentifier(tok[:i]) {
				continue
			}
		}
		return tok
	}
	return ""
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return s != ""
}
