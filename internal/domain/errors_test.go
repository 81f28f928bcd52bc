package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormatting(t *testing.T) {
	err := NewDomainError("Manager.ReadOutput", ErrSessionNotFound, "pid 42")
	assert.Equal(t, "Manager.ReadOutput: pid 42: session not found", err.Error())

	bare := NewDomainError("Registry.Get", ErrToolNotFound, "")
	assert.Equal(t, "Registry.Get: tool not found", bare.Error())
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("op", ErrCommandBlocked, "rm")
	assert.ErrorIs(t, err, ErrCommandBlocked)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	wrapped := WrapOp("spawn", ErrSpawnFailed)
	assert.ErrorIs(t, wrapped, ErrSpawnFailed)
	assert.Contains(t, wrapped.Error(), "spawn:")
}

func TestErrorCodeOfSentinels(t *testing.T) {
	cases := map[error]ErrorCode{
		ErrSessionNotFound: CodeSessionNotFound,
		ErrSpawnFailed:     CodeSpawnFailed,
		ErrTermination:     CodeTerminationFailed,
		ErrCommandBlocked:  CodeCommandBlocked,
		ErrPathNotAllowed:  CodePathNotAllowed,
		ErrEditNoMatch:     CodeEditNoMatch,
		ErrEditAmbiguous:   CodeEditAmbiguous,
		ErrRateLimited:     CodeRateLimited,
		ErrInvalidInput:    CodeInvalidInput,
	}
	for sentinel, want := range cases {
		assert.Equal(t, want, ErrorCodeOf(sentinel), sentinel.Error())
	}
}

func TestErrorCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("op", ErrSessionNotFound, "pid 7"))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(err))

	plain := fmt.Errorf("read: %w", ErrPathNotAllowed)
	assert.Equal(t, CodePathNotAllowed, ErrorCodeOf(plain))
}

func TestErrorCodeOfUnknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("some random failure")))
}

func TestSubSystemOverridesCategoryCode(t *testing.T) {
	// The same category sentinel maps to different codes per subsystem.
	sessionMiss := NewSubSystemError("session", "ReadOutput", ErrNotFound, "pid 9")
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(sessionMiss))

	sessionFull := NewSubSystemError("session", "ExecuteCommand", ErrLimitReached, "32 active")
	assert.Equal(t, CodeSessionMaxActive, ErrorCodeOf(sessionFull))

	searchSlow := NewSubSystemError("search", "searchContent", ErrTimeout, "*.go")
	assert.Equal(t, CodeSearchTimeout, ErrorCodeOf(searchSlow))

	// Without a subsystem the category fallback applies.
	plainMiss := NewDomainError("op", ErrNotFound, "")
	assert.Equal(t, CodeNotFound, ErrorCodeOf(plainMiss))

	// Unmapped subsystem falls back to the category code too.
	otherMiss := NewSubSystemError("files", "read", ErrNotFound, "")
	assert.Equal(t, CodeNotFound, ErrorCodeOf(otherMiss))
}
