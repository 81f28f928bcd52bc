package session

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"hostlink/internal/domain"
)

// DefaultShell is used when neither the caller nor the configuration
// specifies a shell.
const DefaultShell = "/bin/sh"

// Spawner starts OS processes attached to a shell command line. It performs
// no content inspection; command policy is the caller's responsibility and
// must be applied before Spawn.
type Spawner struct {
	defaultShell string
	extraEnv     []string
}

// NewSpawner creates a spawner using the given default shell. extraEnv
// entries are appended to the inherited environment of every spawned
// command.
func NewSpawner(defaultShell string, extraEnv map[string]string) *Spawner {
	if defaultShell == "" {
		defaultShell = DefaultShell
	}
	env := make([]string, 0, len(extraEnv))
	for k, v := range extraEnv {
		env = append(env, k+"="+v)
	}
	return &Spawner{defaultShell: defaultShell, extraEnv: env}
}

// Process is the handle for one spawned OS process. It is owned exclusively
// by the session registry and never leaves the manager boundary; callers
// only ever see the pid and derived projections.
type Process struct {
	pid  int
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	waited   bool
}

// Spawn starts `shell -c commandLine` in workDir with stdout and stderr
// merged into out. The process is placed in its own process group so a later
// termination signal reaches its children. Failure to start (shell not
// found, permission denied) is reported synchronously.
func (s *Spawner) Spawn(commandLine, shell, workDir string, out io.Writer) (*Process, error) {
	if shell == "" {
		shell = s.defaultShell
	}

	cmd := exec.Command(shell, "-c", commandLine)
	cmd.Dir = workDir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(), s.extraEnv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, domain.NewDomainError("Spawner.Spawn", domain.ErrSpawnFailed, err.Error())
	}

	return &Process{
		pid:  cmd.Process.Pid,
		cmd:  cmd,
		done: make(chan struct{}),
	}, nil
}

// PID returns the OS-assigned process identifier.
func (p *Process) PID() int { return p.pid }

// Done is closed once the process has exited and its exit code recorded.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait reaps the process, records its exit code, and closes Done. It must
// be called exactly once, by the manager's exit monitor.
func (p *Process) Wait() int {
	err := p.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode() // -1 when signal-killed
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	p.exitCode = code
	p.waited = true
	p.mu.Unlock()

	close(p.done)
	return code
}

// ExitCode returns the recorded exit code. Valid only after Done is closed.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Signal delivers sig to the whole process group. A process that is already
// gone (ESRCH) is not an error: death is what the signal was for.
func (p *Process) Signal(sig syscall.Signal) error {
	err := syscall.Kill(-p.pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return domain.NewDomainError("Process.Signal", domain.ErrTermination, err.Error())
}
