package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// encryptedPrefix marks a config value sealed with EncryptValue.
const encryptedPrefix = "!encrypted:"

// Config is the root configuration for the hostlink server.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Files     FilesConfig     `yaml:"files"`
	Search    SearchConfig    `yaml:"search"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stderr", "file" or "noop"
	File     string `yaml:"file,omitempty"`
}

// TerminalConfig governs command execution sessions.
type TerminalConfig struct {
	DefaultShell      string            `yaml:"default_shell"`
	DefaultTimeoutMS  int               `yaml:"default_timeout_ms"`
	DelegateTimeoutMS int               `yaml:"delegate_timeout_ms"`
	MaxSessions       int               `yaml:"max_sessions"`
	OutputBufferMax   int               `yaml:"output_buffer_max"`
	RetentionMS       int               `yaml:"retention_ms"`
	SweepIntervalMS   int               `yaml:"sweep_interval_ms"`
	WorkDir           string            `yaml:"work_dir,omitempty"`
	BlockedCommands   []string          `yaml:"blocked_commands"`
	Env               map[string]string `yaml:"env,omitempty"` // extra env for spawned commands; values may be "!encrypted:..."
}

// FilesConfig governs the filesystem, search and edit tools.
type FilesConfig struct {
	AllowedDirs  []string `yaml:"allowed_dirs"`
	MaxReadBytes int      `yaml:"max_read_bytes"`
}

// SearchConfig bounds search tool calls.
type SearchConfig struct {
	MaxResults int `yaml:"max_results"`
	TimeoutMS  int `yaml:"timeout_ms"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	MaxAgeDays   int    `yaml:"max_age_days"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
}

// RateLimitConfig bounds execute_command call frequency.
type RateLimitConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxCalls int  `yaml:"max_calls"`
	WindowMS int  `yaml:"window_ms"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Terminal: TerminalConfig{
			DefaultShell:      "/bin/sh",
			DefaultTimeoutMS:  30_000,
			DelegateTimeoutMS: 3_000,
			MaxSessions:       32,
			OutputBufferMax:   1 << 20,
			RetentionMS:       300_000,
			SweepIntervalMS:   30_000,
			BlockedCommands: []string{
				"shutdown", "reboot", "halt", "poweroff",
				"mkfs", "fdisk", "dd",
			},
		},
		Files: FilesConfig{
			AllowedDirs:  nil, // nothing allowed until configured
			MaxReadBytes: 1 << 20,
		},
		Search: SearchConfig{
			MaxResults: 500,
			TimeoutMS:  10_000,
		},
		Audit: AuditConfig{
			Enabled:      true,
			Path:         filepath.Join(defaultDataDir(), "audit.jsonl"),
			MaxAgeDays:   30,
			MaxSizeBytes: 50 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:  false,
			MaxCalls: 30,
			WindowMS: 60_000,
		},
	}
}

// defaultDataDir returns the persistent data directory under
// $HOME/.hostlink. Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".hostlink")
}

// Load reads path, merges it over Defaults, applies HOSTLINK_* env
// overrides and decrypts sealed values. A missing file is not an error:
// defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("HOSTLINK_ENCRYPTION_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML with owner-only permissions. The write is
// atomic: a rename over the destination, so a crashed save never leaves a
// half-written config.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides maps HOSTLINK_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOSTLINK_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("HOSTLINK_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("HOSTLINK_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("HOSTLINK_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("HOSTLINK_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("HOSTLINK_DEFAULT_SHELL"); v != "" {
		cfg.Terminal.DefaultShell = v
	}
	if v := os.Getenv("HOSTLINK_WORK_DIR"); v != "" {
		cfg.Terminal.WorkDir = v
	}
	if v := os.Getenv("HOSTLINK_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Terminal.MaxSessions = n
		}
	}
	if v := os.Getenv("HOSTLINK_BLOCKED_COMMANDS"); v != "" {
		cfg.Terminal.BlockedCommands = splitAndTrim(v, ",")
	}
	if v := os.Getenv("HOSTLINK_ALLOWED_DIRS"); v != "" {
		cfg.Files.AllowedDirs = splitAndTrim(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("HOSTLINK_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("HOSTLINK_AUDIT_ENABLED"); v == "false" {
		cfg.Audit.Enabled = false
	}
}

// Validate rejects configurations the server cannot safely run with.
func Validate(cfg *Config) error {
	if cfg.Terminal.DefaultShell == "" {
		return fmt.Errorf("terminal.default_shell must not be empty")
	}
	if cfg.Terminal.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("terminal.default_timeout_ms must be positive")
	}
	if cfg.Terminal.MaxSessions <= 0 {
		return fmt.Errorf("terminal.max_sessions must be positive")
	}
	if cfg.Terminal.OutputBufferMax <= 0 {
		return fmt.Errorf("terminal.output_buffer_max must be positive")
	}
	for _, dir := range cfg.Files.AllowedDirs {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("files.allowed_dirs entry %q must be absolute", dir)
		}
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.MaxCalls <= 0 {
		return fmt.Errorf("rate_limit.max_calls must be positive when enabled")
	}
	return nil
}

// Value returns one runtime-adjustable setting by key. The key space is the
// config tool's surface, not the whole YAML tree.
func (c *Config) Value(key string) (string, bool) {
	switch key {
	case "default_shell":
		return c.Terminal.DefaultShell, true
	case "blocked_commands":
		return strings.Join(c.Terminal.BlockedCommands, ","), true
	case "allowed_dirs":
		return strings.Join(c.Files.AllowedDirs, string(os.PathListSeparator)), true
	case "default_timeout_ms":
		return strconv.Itoa(c.Terminal.DefaultTimeoutMS), true
	case "logger_level":
		return c.Logger.Level, true
	default:
		return "", false
	}
}

// SetValue updates one runtime-adjustable setting by key. The caller is
// responsible for persisting with Save and for propagating the change to
// live components.
func (c *Config) SetValue(key, value string) error {
	switch key {
	case "default_shell":
		if value == "" {
			return fmt.Errorf("default_shell must not be empty")
		}
		c.Terminal.DefaultShell = value
	case "blocked_commands":
		c.Terminal.BlockedCommands = splitAndTrim(value, ",")
	case "allowed_dirs":
		dirs := splitAndTrim(value, string(os.PathListSeparator))
		for _, dir := range dirs {
			if !filepath.IsAbs(dir) {
				return fmt.Errorf("allowed_dirs entry %q must be absolute", dir)
			}
		}
		c.Files.AllowedDirs = dirs
	case "default_timeout_ms":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("default_timeout_ms must be a positive integer")
		}
		c.Terminal.DefaultTimeoutMS = n
	case "logger_level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "warning", "error":
			c.Logger.Level = strings.ToLower(value)
		default:
			return fmt.Errorf("unknown logger level %q", value)
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// SettableKeys lists the keys accepted by Value and SetValue.
func SettableKeys() []string {
	return []string{
		"default_shell",
		"blocked_commands",
		"allowed_dirs",
		"default_timeout_ms",
		"logger_level",
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "!encrypted:" values in the spawned-command env
// map with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	for name, value := range cfg.Terminal.Env {
		if !strings.HasPrefix(value, encryptedPrefix) {
			continue
		}
		plaintext, err := DecryptValue(strings.TrimPrefix(value, encryptedPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("terminal.env %s: %w", name, err)
		}
		cfg.Terminal.Env[name] = plaintext
	}
	return nil
}

// EncryptValue seals plaintext with AES-256-GCM under a passphrase-derived
// key. The result, prefixed with "!encrypted:", can be stored in the config
// file.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue reverses EncryptValue (without the "!encrypted:" prefix).
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects group/world-writable config files.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
