package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"hostlink/internal/domain"
)

// PathGuard restricts file operations to a set of allowed directories. With
// no allowed directories every path is rejected; access must be granted
// explicitly. The allowed set can be swapped at runtime via Reload.
type PathGuard struct {
	mu    sync.RWMutex
	roots []string // absolute, symlink-resolved
}

// NewPathGuard creates a guard for the given directories. Each must exist
// and be a directory.
func NewPathGuard(dirs []string) (*PathGuard, error) {
	roots, err := resolveRoots(dirs)
	if err != nil {
		return nil, err
	}
	return &PathGuard{roots: roots}, nil
}

// Reload atomically replaces the allowed directories. On error the
// previous set stays in effect.
func (g *PathGuard) Reload(dirs []string) error {
	roots, err := resolveRoots(dirs)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.roots = roots
	g.mu.Unlock()
	return nil
}

func resolveRoots(dirs []string) ([]string, error) {
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve allowed dir %q: %w", dir, err)
		}

		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("eval symlinks for allowed dir %q: %w", dir, err)
		}

		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("stat allowed dir %q: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("allowed dir %q is not a directory", resolved)
		}
		roots = append(roots, resolved)
	}
	return roots, nil
}

// ValidatePath checks that a requested path resolves into one of the
// allowed directories and returns the resolved path. Symlinks are resolved
// AFTER computing the absolute path, so a link pointing outside the allowed
// set is rejected. A path that does not exist yet is validated through its
// parent directory.
func (g *PathGuard) ValidatePath(requested string) (string, error) {
	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", domain.NewDomainError("PathGuard.ValidatePath", domain.ErrPathNotAllowed, err.Error())
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		parent := filepath.Dir(abs)
		resolvedParent, err2 := filepath.EvalSymlinks(parent)
		if err2 != nil {
			return "", domain.NewDomainError("PathGuard.ValidatePath", domain.ErrPathNotAllowed, err2.Error())
		}
		resolved = filepath.Join(resolvedParent, filepath.Base(abs))
	}

	g.mu.RLock()
	roots := g.roots
	g.mu.RUnlock()

	for _, root := range roots {
		if resolved == root || strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
			return resolved, nil
		}
	}

	return "", domain.NewDomainError("PathGuard.ValidatePath", domain.ErrPathNotAllowed,
		fmt.Sprintf("%q is not under any allowed directory", requested))
}

// Roots returns the allowed directories.
func (g *PathGuard) Roots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}
