package domain

import "time"

// SessionStatus represents the lifecycle state of a command session.
type SessionStatus string

const (
	// StatusRunning means the process is alive and still inside its initial
	// timeout window (or has never had one observed elapse).
	StatusRunning SessionStatus = "running"
	// StatusBlocked means the initial timeout elapsed while the process kept
	// running; the session stays in the active table and is polled via
	// ReadOutput. Blocked is a state, not an error.
	StatusBlocked SessionStatus = "blocked"
	// StatusCompleted means the process exited on its own.
	StatusCompleted SessionStatus = "completed"
	// StatusTerminated means the process was killed via ForceTerminate or a
	// manager shutdown sweep.
	StatusTerminated SessionStatus = "terminated"
)

// ExecResult is returned by ExecuteCommand: exactly one of the two shapes
// from the execute contract. IsBlocked=false carries the full output of a
// process that exited within the timeout; IsBlocked=true carries whatever
// was captured before the timeout elapsed.
type ExecResult struct {
	PID       int    `json:"pid"`
	Output    string `json:"output"`
	IsBlocked bool   `json:"isBlocked"`
	Truncated bool   `json:"truncated,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
}

// ReadResult is returned by ReadOutput. For an active session ExitCode is
// nil and IsBlocked reflects the current flag; for a completed session the
// final delta is delivered together with the exit code, exactly once.
type ReadResult struct {
	PID       int           `json:"pid"`
	Output    string        `json:"output"`
	IsBlocked bool          `json:"isBlocked"`
	Truncated bool          `json:"truncated,omitempty"`
	ExitCode  *int          `json:"exitCode,omitempty"`
	Status    SessionStatus `json:"status"`
}

// ActiveSession is the read-only projection used by ListSessions.
type ActiveSession struct {
	PID       int           `json:"pid"`
	Command   string        `json:"command"`
	IsBlocked bool          `json:"isBlocked"`
	Runtime   time.Duration `json:"runtime"`
	StartedAt time.Time     `json:"started_at"`
}

// CompletedSession is the read-only projection of a finished session that is
// still inside its retention window.
type CompletedSession struct {
	PID       int           `json:"pid"`
	Command   string        `json:"command"`
	Output    string        `json:"output"`
	ExitCode  int           `json:"exitCode"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}
