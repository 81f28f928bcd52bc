package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hostlink/internal/adapter/mcpserver"
	"hostlink/internal/adapter/tool"
	"hostlink/internal/domain"
	"hostlink/internal/infra/config"
	"hostlink/internal/infra/logger"
	"hostlink/internal/infra/tracer"
	"hostlink/internal/security"
	"hostlink/internal/usecase/eventbus"
	"hostlink/internal/usecase/session"
)

const version = "1.0.0"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "version", "--version":
			fmt.Println("hostlink " + version)
			return
		case "encrypt":
			if err := runEncrypt(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`hostlink - tool-call protocol server for host command execution

USAGE:
    hostlink [COMMAND]

COMMANDS:
    encrypt VALUE   Encrypt a secret for use in config.yaml
                    (requires HOSTLINK_ENCRYPTION_KEY)
    version         Print the version

    (no command) - Serve the tool-call protocol on stdio

CONFIGURATION:
    Config file: ./config.yaml (override with HOSTLINK_CONFIG)
    Environment: HOSTLINK_* variables override config

The server speaks MCP over stdio: stdout carries the protocol, all
logging goes to stderr or files.`)
}

// runEncrypt seals a value for storage in the config file.
func runEncrypt(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: hostlink encrypt VALUE")
	}
	passphrase := os.Getenv("HOSTLINK_ENCRYPTION_KEY")
	if passphrase == "" {
		return fmt.Errorf("HOSTLINK_ENCRYPTION_KEY is not set")
	}
	sealed, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

func configPath() string {
	if path := os.Getenv("HOSTLINK_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	bus := eventbus.New(log)
	defer bus.Close()

	blocklist := security.NewCommandBlocklist(cfg.Terminal.BlockedCommands)
	guard, err := security.NewPathGuard(cfg.Files.AllowedDirs)
	if err != nil {
		return fmt.Errorf("path guard: %w", err)
	}

	audit, auditCloser, err := initAudit(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer auditCloser()

	stopForward := security.ForwardSessionEvents(bus, audit, log)
	defer stopForward()

	manager := session.NewManager(session.Config{
		MaxActive:       cfg.Terminal.MaxSessions,
		DefaultShell:    cfg.Terminal.DefaultShell,
		DefaultTimeout:  time.Duration(cfg.Terminal.DefaultTimeoutMS) * time.Millisecond,
		OutputBufferMax: cfg.Terminal.OutputBufferMax,
		Retention:       time.Duration(cfg.Terminal.RetentionMS) * time.Millisecond,
		SweepInterval:   time.Duration(cfg.Terminal.SweepIntervalMS) * time.Millisecond,
		WorkDir:         cfg.Terminal.WorkDir,
		Env:             cfg.Terminal.Env,
	}, blocklist, bus, log)

	tools, err := buildTools(cfg, manager, blocklist, guard, audit, log)
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	registry := tool.NewRegistry(tools, log)

	srv := mcpserver.New("hostlink", version, registry, log)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := srv.Serve(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("session shutdown error", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	log.Info("hostlink stopped")
	return nil
}

// initAudit builds the audit trail sink and runs retention once at startup.
func initAudit(ctx context.Context, cfg *config.Config, log *slog.Logger) (domain.AuditLogger, func(), error) {
	if !cfg.Audit.Enabled {
		return security.NopAuditLogger{}, func() {}, nil
	}

	audit, err := security.NewFileAuditLogger(cfg.Audit.Path)
	if err != nil {
		return nil, nil, err
	}
	audit.SetRetention(security.RetentionPolicy{
		MaxAge:  time.Duration(cfg.Audit.MaxAgeDays) * 24 * time.Hour,
		MaxSize: cfg.Audit.MaxSizeBytes,
	})
	if removed, err := audit.EnforceRetention(ctx); err != nil {
		log.Warn("audit retention failed", "error", err)
	} else if removed > 0 {
		log.Info("audit retention applied", "removed", removed)
	}

	closer := func() {
		if err := audit.Close(); err != nil {
			log.Error("audit close error", "error", err)
		}
	}
	return audit, closer, nil
}

// buildTools assembles the tool set with validation, rate limiting and
// audit wrappers applied.
func buildTools(
	cfg *config.Config,
	manager *session.Manager,
	blocklist *security.CommandBlocklist,
	guard *security.PathGuard,
	audit domain.AuditLogger,
	log *slog.Logger,
) ([]domain.Tool, error) {
	backend := &tool.LocalFilesystemBackend{}

	// Config changes made through the config tool take effect immediately.
	applyConfig := func(c *config.Config) error {
		blocklist.Replace(c.Terminal.BlockedCommands)
		return guard.Reload(c.Files.AllowedDirs)
	}

	var execTool domain.Tool = tool.NewExecuteCommandTool(manager, log)
	if cfg.RateLimit.Enabled {
		limiter := tool.NewRateLimiter(cfg.RateLimit.MaxCalls, time.Duration(cfg.RateLimit.WindowMS)*time.Millisecond)
		execTool = tool.WithRateLimit(execTool, limiter)
	}

	bare := []domain.Tool{
		execTool,
		tool.NewReadOutputTool(manager, log),
		tool.NewForceTerminateTool(manager, log),
		tool.NewListSessionsTool(manager, log),
		tool.NewDelegateCLITool(manager, time.Duration(cfg.Terminal.DelegateTimeoutMS)*time.Millisecond, log),
		tool.NewFilesTool(backend, guard, cfg.Files.MaxReadBytes, log),
		tool.NewSearchTool(guard, cfg.Search.MaxResults, time.Duration(cfg.Search.TimeoutMS)*time.Millisecond, log),
		tool.NewEditBlockTool(backend, guard, log),
		tool.NewConfigTool(cfg, configPath(), applyConfig, log),
	}

	tools := make([]domain.Tool, 0, len(bare))
	for _, t := range bare {
		validated, err := tool.WithSchemaValidation(t)
		if err != nil {
			return nil, fmt.Errorf("schema for %q: %w", t.Name(), err)
		}
		tools = append(tools, tool.WithAudit(validated, audit, log))
	}
	return tools, nil
}
