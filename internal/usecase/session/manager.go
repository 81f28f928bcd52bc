package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"hostlink/internal/domain"
)

// Config holds tunables for the Manager.
type Config struct {
	MaxActive       int               // max concurrently running sessions (default: 32)
	DefaultShell    string            // shell used when a call gives none (default: /bin/sh)
	DefaultTimeout  time.Duration     // timeout used when a call gives none (default: 30s)
	OutputBufferMax int               // max bytes of output retained per session (default: 1MB)
	Retention       time.Duration     // completed-session TTL before purge (default: 5m)
	SweepInterval   time.Duration     // how often the purge sweep runs (default: 30s)
	WorkDir         string            // working directory for spawned commands
	Env             map[string]string // extra environment for spawned commands
}

// CommandPolicy is consulted before every spawn. A non-nil error rejects the
// command and no session is created.
type CommandPolicy interface {
	Check(commandLine string) error
}

// activeSession is a running (or blocked) process tracked by the registry.
type activeSession struct {
	pid       int
	command   string
	proc      *Process
	buf       *ringBuffer
	cursor    int64
	blocked   bool
	killed    bool // ForceTerminate/Shutdown has claimed this session
	startedAt time.Time
	settled   chan struct{} // closed after the active→completed transition
}

// completedSession is a finished process retained until purge.
type completedSession struct {
	pid       int
	command   string
	buf       *ringBuffer
	cursor    int64
	exitCode  int
	status    domain.SessionStatus
	startedAt time.Time
	endedAt   time.Time
	delivered bool // terminal read happened; purge-eligible on next sweep
}

// Manager owns the session registry and output accumulators. It converts a
// single execute request into either an immediate synchronous result or a
// durable background session addressed by pid.
type Manager struct {
	mu        sync.Mutex
	active    map[int]*activeSession
	completed map[int]*completedSession
	reserved  int // execute calls past the cap check but not yet registered

	spawner *Spawner
	policy  CommandPolicy
	bus     domain.EventBus
	logger  *slog.Logger
	cfg     Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager and starts the retention sweep goroutine.
// policy and bus may be nil.
func NewManager(cfg Config, policy CommandPolicy, bus domain.EventBus, logger *slog.Logger) *Manager {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 32
	}
	if cfg.DefaultShell == "" {
		cfg.DefaultShell = DefaultShell
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.OutputBufferMax <= 0 {
		cfg.OutputBufferMax = 1024 * 1024
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	m := &Manager{
		active:    make(map[int]*activeSession),
		completed: make(map[int]*completedSession),
		spawner:   NewSpawner(cfg.DefaultShell, cfg.Env),
		policy:    policy,
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// ExecuteCommand spawns commandLine and races process completion against the
// timeout. If the process exits first the session moves directly to
// Completed and the full captured output is returned with IsBlocked=false.
// If the timeout elapses first the session is marked Blocked, keeps running
// in the background, and the output captured so far is returned with
// IsBlocked=true. Exactly one of the two shapes is produced per call.
//
// Spawn failure is reported with PID −1 alongside the error; no session is
// registered.
func (m *Manager) ExecuteCommand(ctx context.Context, commandLine, shell string, timeout time.Duration) (*domain.ExecResult, error) {
	if m.policy != nil {
		if err := m.policy.Check(commandLine); err != nil {
			return nil, err
		}
	}
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	// Reserve a slot under the same lock that registers sessions, so
	// concurrent calls cannot overshoot the cap between check and insert.
	m.mu.Lock()
	if len(m.active)+m.reserved >= m.cfg.MaxActive {
		m.mu.Unlock()
		return nil, domain.NewSubSystemError("session", "Manager.ExecuteCommand", domain.ErrLimitReached,
			fmt.Sprintf("%d active sessions (max %d)", m.cfg.MaxActive, m.cfg.MaxActive))
	}
	m.reserved++
	m.mu.Unlock()

	buf := newRingBuffer(m.cfg.OutputBufferMax)
	proc, err := m.spawner.Spawn(commandLine, shell, m.cfg.WorkDir, buf)
	if err != nil {
		m.mu.Lock()
		m.reserved--
		m.mu.Unlock()
		return &domain.ExecResult{PID: -1, Output: err.Error()}, err
	}

	sess := &activeSession{
		pid:       proc.PID(),
		command:   commandLine,
		proc:      proc,
		buf:       buf,
		startedAt: time.Now(),
		settled:   make(chan struct{}),
	}

	m.mu.Lock()
	m.reserved--
	// The OS may reuse a pid whose previous session is still in retention;
	// the registry invariant allows a pid in at most one table.
	delete(m.completed, sess.pid)
	m.active[sess.pid] = sess
	m.mu.Unlock()

	go m.monitor(sess)

	m.emit(ctx, domain.EventSessionStarted, map[string]any{"pid": sess.pid, "command": commandLine})
	m.logger.Info("session started", "pid", sess.pid, "command", commandLine)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sess.settled:
		return m.settledResult(sess.pid), nil
	case <-timer.C:
	case <-ctx.Done():
		// Caller gave up waiting; the process keeps running in the
		// background exactly as on a timeout.
	}

	m.mu.Lock()
	if _, still := m.active[sess.pid]; !still {
		m.mu.Unlock()
		// Settled while the timer branch was being taken.
		return m.settledResult(sess.pid), nil
	}
	sess.blocked = true
	delta, truncated := sess.buf.ReadFrom(sess.cursor)
	sess.cursor = sess.buf.TotalWritten()
	m.mu.Unlock()

	m.emit(ctx, domain.EventSessionBlocked, map[string]any{"pid": sess.pid})
	m.logger.Debug("session blocked", "pid", sess.pid, "timeout", timeout)

	return &domain.ExecResult{PID: sess.pid, Output: delta, IsBlocked: true, Truncated: truncated}, nil
}

// settledResult builds the synchronous completion shape from the completed
// table, consuming the output delta so a later ReadOutput returns only the
// exit code.
func (m *Manager) settledResult(pid int) *domain.ExecResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.completed[pid]
	if !ok {
		// Purged between settle and lookup; only possible with a zero
		// retention sweep racing this call.
		return &domain.ExecResult{PID: pid}
	}
	delta, truncated := cs.buf.ReadFrom(cs.cursor)
	cs.cursor = cs.buf.TotalWritten()
	code := cs.exitCode
	return &domain.ExecResult{PID: pid, Output: delta, Truncated: truncated, ExitCode: &code}
}

// ReadOutput returns the output delta since the last read for pid. For an
// active session the current blocked flag is reported; for a completed
// session the final delta and exit code are delivered and the entry becomes
// purge-eligible. An unknown or already purged pid is an error, never a
// silent empty success.
func (m *Manager) ReadOutput(pid int) (*domain.ReadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.active[pid]; ok {
		delta, truncated := sess.buf.ReadFrom(sess.cursor)
		sess.cursor = sess.buf.TotalWritten()
		status := domain.StatusRunning
		if sess.blocked {
			status = domain.StatusBlocked
		}
		return &domain.ReadResult{
			PID:       pid,
			Output:    delta,
			IsBlocked: sess.blocked,
			Truncated: truncated,
			Status:    status,
		}, nil
	}

	if cs, ok := m.completed[pid]; ok {
		delta, truncated := cs.buf.ReadFrom(cs.cursor)
		cs.cursor = cs.buf.TotalWritten()
		cs.delivered = true
		code := cs.exitCode
		return &domain.ReadResult{
			PID:       pid,
			Output:    delta,
			Truncated: truncated,
			ExitCode:  &code,
			Status:    cs.status,
		}, nil
	}

	return nil, domain.NewSubSystemError("session", "Manager.ReadOutput", domain.ErrSessionNotFound,
		fmt.Sprintf("pid %d", pid))
}

// ForceTerminate kills the process group of pid and waits for the session to
// transition to Terminated. Calling it on an already-completed pid confirms
// completion without error; an unknown pid is ErrSessionNotFound. If signal
// delivery fails the session stays active so the caller can retry.
func (m *Manager) ForceTerminate(ctx context.Context, pid int) error {
	m.mu.Lock()
	sess, ok := m.active[pid]
	if !ok {
		_, done := m.completed[pid]
		m.mu.Unlock()
		if done {
			return nil
		}
		return domain.NewSubSystemError("session", "Manager.ForceTerminate", domain.ErrSessionNotFound,
			fmt.Sprintf("pid %d", pid))
	}
	sess.killed = true
	proc := sess.proc
	m.mu.Unlock()

	if err := proc.Signal(syscall.SIGKILL); err != nil {
		m.mu.Lock()
		if _, still := m.active[pid]; still {
			sess.killed = false
		}
		m.mu.Unlock()
		return err
	}

	// The monitor goroutine performs the transition and emits the
	// terminated event with the final projection.
	<-sess.settled

	m.logger.Info("session terminated", "pid", pid)
	return nil
}

// ListSessions returns the ActiveSession projection for every pid in the
// active table. It never includes completed or purged pids.
func (m *Manager) ListSessions() []domain.ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]domain.ActiveSession, 0, len(m.active))
	for _, sess := range m.active {
		out = append(out, domain.ActiveSession{
			PID:       sess.pid,
			Command:   sess.command,
			IsBlocked: sess.blocked,
			Runtime:   now.Sub(sess.startedAt),
			StartedAt: sess.startedAt,
		})
	}
	return out
}

// Shutdown stops the sweep loop and best-effort kills every still-active
// session so no orphaned processes outlive the manager. It waits for each
// transition up to the context deadline; a failed kill or an expired
// context is reported but does not stop the sweep over the rest.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	var pending []*activeSession
	for _, sess := range m.active {
		sess.killed = true
		pending = append(pending, sess)
	}
	m.mu.Unlock()

	var errs []error
	for _, sess := range pending {
		if err := sess.proc.Signal(syscall.SIGKILL); err != nil {
			m.logger.Warn("shutdown kill failed", "pid", sess.pid, "error", err)
			errs = append(errs, fmt.Errorf("kill pid %d: %w", sess.pid, err))
			continue
		}
		select {
		case <-sess.settled:
		case <-ctx.Done():
			m.logger.Warn("shutdown wait aborted", "pid", sess.pid)
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
	return errors.Join(errs...)
}

// --- internal ---

// monitor reaps the process and performs the single atomic active→completed
// transition for its session.
func (m *Manager) monitor(sess *activeSession) {
	code := sess.proc.Wait()

	m.mu.Lock()
	status := domain.StatusCompleted
	if sess.killed {
		status = domain.StatusTerminated
		if code <= 0 {
			code = 137 // synthetic 128+SIGKILL for signal deaths
		}
	}
	cs := &completedSession{
		pid:       sess.pid,
		command:   sess.command,
		buf:       sess.buf,
		cursor:    sess.cursor,
		exitCode:  code,
		status:    status,
		startedAt: sess.startedAt,
		endedAt:   time.Now(),
	}
	delete(m.active, sess.pid)
	m.completed[sess.pid] = cs
	m.mu.Unlock()

	close(sess.settled)

	// The terminal event carries the full projection so consumers (the
	// audit sink) never have to reach back into the registry.
	eventType := domain.EventSessionCompleted
	if status == domain.StatusTerminated {
		eventType = domain.EventSessionTerminated
	}
	m.emit(context.Background(), eventType, domain.CompletedSession{
		PID:       cs.pid,
		Command:   cs.command,
		Output:    cs.buf.String(),
		ExitCode:  cs.exitCode,
		Status:    cs.status,
		StartedAt: cs.startedAt,
		EndedAt:   cs.endedAt,
	})
	m.logger.Info("session finished", "pid", sess.pid, "status", status, "exit_code", code)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep purges completed sessions whose retention expired or whose terminal
// read has been delivered. After purge the pid reports unknown-session.
func (m *Manager) sweep() {
	m.mu.Lock()
	cutoff := time.Now().Add(-m.cfg.Retention)
	var purged []int
	for pid, cs := range m.completed {
		if cs.delivered || cs.endedAt.Before(cutoff) {
			delete(m.completed, pid)
			purged = append(purged, pid)
		}
	}
	m.mu.Unlock()

	for _, pid := range purged {
		m.emit(context.Background(), domain.EventSessionPurged, map[string]any{"pid": pid})
		m.logger.Debug("session purged", "pid", pid)
	}
}

func (m *Manager) emit(ctx context.Context, eventType domain.EventType, payload any) {
	if m.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	m.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   data,
	})
}
