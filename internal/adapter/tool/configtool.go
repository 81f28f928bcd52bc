package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"hostlink/internal/domain"
	"hostlink/internal/infra/config"
)

// ConfigTool exposes the runtime-adjustable settings. Sets are persisted to
// the YAML config store and propagated to the live components through the
// apply hook.
type ConfigTool struct {
	mu     sync.Mutex
	cfg    *config.Config
	path   string
	apply  func(cfg *config.Config) error
	logger *slog.Logger
}

// NewConfigTool creates the config tool. apply is called after every
// successful set with the updated config; it propagates the change to live
// components (blocklist, path guard). apply may be nil.
func NewConfigTool(cfg *config.Config, path string, apply func(*config.Config) error, logger *slog.Logger) *ConfigTool {
	return &ConfigTool{cfg: cfg, path: path, apply: apply, logger: logger}
}

func (t *ConfigTool) Name() string { return "config" }
func (t *ConfigTool) Description() string {
	return "Get or set server settings: " + strings.Join(config.SettableKeys(), ", ") + ". Sets are persisted and take effect immediately."
}

func (t *ConfigTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"enum": ["get", "set", "list"],
					"description": "The config operation to perform"
				},
				"key": {"type": "string", "description": "Setting name (required for get and set)"},
				"value": {"type": "string", "description": "New value (required for set)"}
			},
			"required": ["action"]
		}`),
	}
}

type configParams struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

func (t *ConfigTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.config", t.logger, params,
		Dispatch(func(p configParams) string { return p.Action }, ActionMap[configParams]{
			"get":  t.get,
			"set":  t.set,
			"list": t.list,
		}),
	)
}

func (t *ConfigTool) get(_ context.Context, p configParams) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value, ok := t.cfg.Value(p.Key)
	if !ok {
		return nil, domain.NewDomainError("config.get", domain.ErrInvalidInput,
			fmt.Sprintf("unknown key %q (want one of: %s)", p.Key, strings.Join(config.SettableKeys(), ", ")))
	}
	return map[string]string{"key": p.Key, "value": value}, nil
}

func (t *ConfigTool) set(_ context.Context, p configParams) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.cfg.SetValue(p.Key, p.Value); err != nil {
		return nil, domain.NewDomainError("config.set", domain.ErrInvalidInput, err.Error())
	}

	if t.apply != nil {
		if err := t.apply(t.cfg); err != nil {
			return nil, domain.WrapOp("config.set apply", err)
		}
	}

	if err := config.Save(t.cfg, t.path); err != nil {
		return nil, domain.NewDomainError("config.set", domain.ErrConfigSave, err.Error())
	}

	t.logger.Info("config updated", "key", p.Key)
	return map[string]string{"key": p.Key, "value": p.Value}, nil
}

func (t *ConfigTool) list(_ context.Context, _ configParams) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string, len(config.SettableKeys()))
	for _, key := range config.SettableKeys() {
		if v, ok := t.cfg.Value(key); ok {
			out[key] = v
		}
	}
	return out, nil
}
