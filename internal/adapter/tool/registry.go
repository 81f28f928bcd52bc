package tool

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"hostlink/internal/domain"
)

// Registry provides name-based lookup for the server's tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]domain.Tool
}

// NewRegistry builds a registry from the given tool slice.
func NewRegistry(tools []domain.Tool, logger *slog.Logger) *Registry {
	m := make(map[string]domain.Tool, len(tools))
	for _, t := range tools {
		if _, exists := m[t.Name()]; exists {
			logger.Warn("duplicate tool name", "name", t.Name())
		}
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all tool names sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	slices.SortFunc(tools, func(a, b domain.Tool) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return tools
}
