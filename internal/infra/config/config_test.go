package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Terminal.DefaultShell != "/bin/sh" {
		t.Errorf("DefaultShell = %q, want /bin/sh", cfg.Terminal.DefaultShell)
	}
	if cfg.Terminal.DefaultTimeoutMS != 30_000 {
		t.Errorf("DefaultTimeoutMS = %d, want 30000", cfg.Terminal.DefaultTimeoutMS)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want info", cfg.Logger.Level)
	}
	if len(cfg.Files.AllowedDirs) != 0 {
		t.Errorf("AllowedDirs = %v, want empty by default", cfg.Files.AllowedDirs)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit must default to enabled")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/tmp/nonexistent-hostlink-config-12345.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Terminal.MaxSessions != 32 {
		t.Errorf("expected defaults, got MaxSessions=%d", cfg.Terminal.MaxSessions)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
terminal:
  default_shell: "/bin/bash"
  default_timeout_ms: 5000
  blocked_commands: ["shutdown", "mkfs"]
files:
  allowed_dirs: ["/tmp", "/var/data"]
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Terminal.DefaultShell != "/bin/bash" {
		t.Errorf("DefaultShell = %q, want /bin/bash", cfg.Terminal.DefaultShell)
	}
	if cfg.Terminal.DefaultTimeoutMS != 5000 {
		t.Errorf("DefaultTimeoutMS = %d, want 5000", cfg.Terminal.DefaultTimeoutMS)
	}
	if len(cfg.Files.AllowedDirs) != 2 {
		t.Errorf("AllowedDirs = %v, want 2 entries", cfg.Files.AllowedDirs)
	}
	// Unset sections keep their defaults.
	if cfg.Terminal.MaxSessions != 32 {
		t.Errorf("MaxSessions = %d, want default 32", cfg.Terminal.MaxSessions)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0666); err != nil {
		t.Fatal(err)
	}
	// os.WriteFile's mode is filtered by the process umask; chmod so the
	// file really is 0666 as the test intends.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected permission rejection for 0666 config")
	}
	if !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("error = %v, want insecure permissions", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOSTLINK_DEFAULT_SHELL", "/bin/zsh")
	t.Setenv("HOSTLINK_LOGGER_LEVEL", "debug")
	t.Setenv("HOSTLINK_BLOCKED_COMMANDS", "rm, dd")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Terminal.DefaultShell != "/bin/zsh" {
		t.Errorf("DefaultShell = %q, want /bin/zsh", cfg.Terminal.DefaultShell)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if len(cfg.Terminal.BlockedCommands) != 2 || cfg.Terminal.BlockedCommands[1] != "dd" {
		t.Errorf("BlockedCommands = %v, want [rm dd]", cfg.Terminal.BlockedCommands)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	cfg.Terminal.DefaultShell = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected rejection of empty default_shell")
	}

	cfg = Defaults()
	cfg.Files.AllowedDirs = []string{"relative/path"}
	if err := Validate(cfg); err == nil {
		t.Error("expected rejection of relative allowed_dirs entry")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Defaults()
	cfg.Terminal.DefaultShell = "/bin/bash"
	cfg.Files.AllowedDirs = []string{dir}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("saved config mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Terminal.DefaultShell != "/bin/bash" {
		t.Errorf("round-trip DefaultShell = %q", loaded.Terminal.DefaultShell)
	}
	if len(loaded.Files.AllowedDirs) != 1 || loaded.Files.AllowedDirs[0] != dir {
		t.Errorf("round-trip AllowedDirs = %v", loaded.Files.AllowedDirs)
	}
}

func TestValueSetValue(t *testing.T) {
	cfg := Defaults()

	if err := cfg.SetValue("default_shell", "/bin/bash"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if v, ok := cfg.Value("default_shell"); !ok || v != "/bin/bash" {
		t.Errorf("Value(default_shell) = (%q, %v)", v, ok)
	}

	if err := cfg.SetValue("default_timeout_ms", "oops"); err == nil {
		t.Error("expected rejection of non-numeric timeout")
	}
	if err := cfg.SetValue("no_such_key", "x"); err == nil {
		t.Error("expected rejection of unknown key")
	}
	if _, ok := cfg.Value("no_such_key"); ok {
		t.Error("Value must not report unknown keys")
	}

	for _, key := range SettableKeys() {
		if _, ok := cfg.Value(key); !ok {
			t.Errorf("settable key %q not readable", key)
		}
	}
}

func TestEncryptDecryptValue(t *testing.T) {
	sealed, err := EncryptValue("top-secret", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(sealed, "top-secret") {
		t.Error("ciphertext must not contain the plaintext")
	}

	plain, err := DecryptValue(sealed, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if plain != "top-secret" {
		t.Errorf("round-trip = %q", plain)
	}

	if _, err := DecryptValue(sealed, "wrong"); err == nil {
		t.Error("expected failure with wrong passphrase")
	}
}

func TestLoadDecryptsTerminalEnv(t *testing.T) {
	sealed, err := EncryptValue("tok-123", "k3y")
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "terminal:\n  env:\n    API_TOKEN: \"" + encryptedPrefix + sealed + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HOSTLINK_ENCRYPTION_KEY", "k3y")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Terminal.Env["API_TOKEN"] != "tok-123" {
		t.Errorf("decrypted env = %q, want tok-123", cfg.Terminal.Env["API_TOKEN"])
	}
}
