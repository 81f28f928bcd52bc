package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, used with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound    = fmt.Errorf("tool not found")
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSpawnFailed     = fmt.Errorf("process spawn failed")
	ErrTermination     = fmt.Errorf("termination signal delivery failed")
	ErrCommandBlocked  = fmt.Errorf("command is blocked by policy")
	ErrPathNotAllowed  = fmt.Errorf("path is outside the allowed directories")
	ErrEditNoMatch     = fmt.Errorf("edit block not found in file")
	ErrEditAmbiguous   = fmt.Errorf("edit block matches more than once")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
	ErrConfigSave      = fmt.Errorf("failed to save configuration")
	ErrDecryption      = fmt.Errorf("decryption failed")
	ErrEncryption      = fmt.Errorf("encryption operation failed")
	ErrAuditWrite      = fmt.Errorf("audit log write failed")
	ErrRateLimited     = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Manager.ReadOutput")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "session", "files")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category carried in the structured
// error content returned at the tool-call boundary.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeSpawnFailed       ErrorCode = "SPAWN_FAILED"
	CodeTerminationFailed ErrorCode = "TERMINATION_FAILED"
	CodeCommandBlocked    ErrorCode = "COMMAND_BLOCKED"
	CodePathNotAllowed    ErrorCode = "PATH_NOT_ALLOWED"
	CodeEditNoMatch       ErrorCode = "EDIT_NO_MATCH"
	CodeEditAmbiguous     ErrorCode = "EDIT_AMBIGUOUS"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeConfigSave        ErrorCode = "CONFIG_SAVE"
	CodeEncryption        ErrorCode = "ENCRYPTION"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeAuditWrite        ErrorCode = "AUDIT_WRITE"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"

	// Category fallback codes.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeSessionMaxActive ErrorCode = "SESSION_MAX_ACTIVE"
	CodeSearchTimeout    ErrorCode = "SEARCH_TIMEOUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,

	ErrToolNotFound:    CodeToolNotFound,
	ErrSessionNotFound: CodeSessionNotFound,
	ErrSpawnFailed:     CodeSpawnFailed,
	ErrTermination:     CodeTerminationFailed,
	ErrCommandBlocked:  CodeCommandBlocked,
	ErrPathNotAllowed:  CodePathNotAllowed,
	ErrEditNoMatch:     CodeEditNoMatch,
	ErrEditAmbiguous:   CodeEditAmbiguous,
	ErrConfigLoad:      CodeConfigLoad,
	ErrConfigSave:      CodeConfigSave,
	ErrEncryption:      CodeEncryption,
	ErrDecryption:      CodeDecryption,
	ErrAuditWrite:      CodeAuditWrite,
	ErrRateLimited:     CodeRateLimited,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific codes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"session": CodeSessionNotFound,
	},
	ErrLimitReached: {
		"session": CodeSessionMaxActive,
	},
	ErrTimeout: {
		"search": CodeSearchTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, the subSystemCodeMap takes precedence.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
