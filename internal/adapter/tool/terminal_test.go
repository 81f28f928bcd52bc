package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"hostlink/internal/domain"
	"hostlink/internal/usecase/session"
)

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	m := session.NewManager(session.Config{
		DefaultTimeout: 5 * time.Second,
		SweepInterval:  time.Hour,
	}, nil, nil, newTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func execResultOf(t *testing.T, res *domain.ToolResult) domain.ExecResult {
	t.Helper()
	var out domain.ExecResult
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("content not an exec result: %v\n%s", err, res.Content)
	}
	return out
}

func TestExecuteCommandToolFastCommand(t *testing.T) {
	m := newTestManager(t)
	et := NewExecuteCommandTool(m, newTestLogger())

	params, _ := json.Marshal(executeCommandParams{Command: "echo hello"})
	res, err := et.Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}

	out := execResultOf(t, res)
	if out.IsBlocked {
		t.Error("echo must finish within the timeout")
	}
	if !strings.Contains(out.Output, "hello") {
		t.Errorf("output = %q", out.Output)
	}
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Errorf("exitCode = %v, want 0", out.ExitCode)
	}
}

func TestExecuteCommandToolBlockedSession(t *testing.T) {
	m := newTestManager(t)
	et := NewExecuteCommandTool(m, newTestLogger())

	params, _ := json.Marshal(executeCommandParams{Command: "sleep 30", TimeoutMS: 100})
	res, err := et.Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	out := execResultOf(t, res)
	if !out.IsBlocked {
		t.Fatal("sleep 30 with 100ms timeout must be blocked")
	}
	if out.PID <= 0 {
		t.Errorf("pid = %d, want a real pid", out.PID)
	}

	if err := m.ForceTerminate(context.Background(), out.PID); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteCommandToolSpawnFailureInline(t *testing.T) {
	m := newTestManager(t)
	et := NewExecuteCommandTool(m, newTestLogger())

	params, _ := json.Marshal(executeCommandParams{Command: "echo x", Shell: "/nonexistent/shell"})
	res, err := et.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("spawn failure must stay in-band, got %v", err)
	}
	if !res.IsError || res.ErrorCode != domain.CodeSpawnFailed {
		t.Fatalf("result = %+v, want SPAWN_FAILED", res)
	}

	out := execResultOf(t, res)
	if out.PID != -1 {
		t.Errorf("pid = %d, want -1", out.PID)
	}
	if out.Output == "" {
		t.Error("output must carry the spawn error message")
	}
}

func TestExecuteCommandToolEmptyCommand(t *testing.T) {
	m := newTestManager(t)
	et := NewExecuteCommandTool(m, newTestLogger())

	res, err := et.Execute(context.Background(), json.RawMessage(`{"command":""}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.ErrorCode != domain.CodeInvalidInput {
		t.Errorf("result = %+v, want INVALID_INPUT", res)
	}
}

func TestReadOutputToolDeltaAndTerminal(t *testing.T) {
	m := newTestManager(t)
	et := NewExecuteCommandTool(m, newTestLogger())
	rt := NewReadOutputTool(m, newTestLogger())

	params, _ := json.Marshal(executeCommandParams{Command: "echo first; sleep 0.3; echo second", TimeoutMS: 100})
	res, err := et.Execute(context.Background(), params)
	if err != nil || res.IsError {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	pid := execResultOf(t, res).PID

	deadline := time.Now().Add(3 * time.Second)
	var read domain.ReadResult
	for {
		readParams, _ := json.Marshal(readOutputParams{PID: pid})
		rres, err := rt.Execute(context.Background(), readParams)
		if err != nil || rres.IsError {
			t.Fatalf("res=%+v err=%v", rres, err)
		}
		if err := json.Unmarshal([]byte(rres.Content), &read); err != nil {
			t.Fatal(err)
		}
		if read.ExitCode != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session did not finish in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if *read.ExitCode != 0 {
		t.Errorf("exitCode = %d, want 0", *read.ExitCode)
	}

	// The terminal read was delivered; the session is gone after a second
	// read once the registry entry is purged or immediately unknown.
	readParams, _ := json.Marshal(readOutputParams{PID: pid})
	rres, err := rt.Execute(context.Background(), readParams)
	if err != nil {
		t.Fatal(err)
	}
	if !rres.IsError {
		var again domain.ReadResult
		if err := json.Unmarshal([]byte(rres.Content), &again); err != nil {
			t.Fatal(err)
		}
		if again.Output != "" {
			t.Errorf("second terminal read re-delivered output %q", again.Output)
		}
	}
}

func TestReadOutputToolUnknownPID(t *testing.T) {
	m := newTestManager(t)
	rt := NewReadOutputTool(m, newTestLogger())

	params, _ := json.Marshal(readOutputParams{PID: 999999})
	res, err := rt.Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.ErrorCode != domain.CodeSessionNotFound {
		t.Errorf("result = %+v, want SESSION_NOT_FOUND", res)
	}
}

func TestForceTerminateTool(t *testing.T) {
	m := newTestManager(t)
	et := NewExecuteCommandTool(m, newTestLogger())
	ft := NewForceTerminateTool(m, newTestLogger())

	params, _ := json.Marshal(executeCommandParams{Command: "sleep 60", TimeoutMS: 100})
	res, err := et.Execute(context.Background(), params)
	if err != nil || res.IsError {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	pid := execResultOf(t, res).PID

	killParams, _ := json.Marshal(readOutputParams{PID: pid})
	kres, err := ft.Execute(context.Background(), killParams)
	if err != nil {
		t.Fatal(err)
	}
	if kres.IsError {
		t.Fatalf("terminate failed: %s", kres.Content)
	}
	var out map[string]bool
	if err := json.Unmarshal([]byte(kres.Content), &out); err != nil {
		t.Fatal(err)
	}
	if !out["success"] {
		t.Error("success must be true")
	}

	// Terminating an already finished session is a confirmation, not an error.
	kres, err = ft.Execute(context.Background(), killParams)
	if err != nil || kres.IsError {
		t.Errorf("idempotent terminate: res=%+v err=%v", kres, err)
	}
}

func TestForceTerminateToolUnknownPID(t *testing.T) {
	m := newTestManager(t)
	ft := NewForceTerminateTool(m, newTestLogger())

	params, _ := json.Marshal(readOutputParams{PID: 999999})
	res, err := ft.Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.ErrorCode != domain.CodeSessionNotFound {
		t.Errorf("result = %+v, want SESSION_NOT_FOUND", res)
	}
}

func TestListSessionsTool(t *testing.T) {
	m := newTestManager(t)
	et := NewExecuteCommandTool(m, newTestLogger())
	lt := NewListSessionsTool(m, newTestLogger())

	res, err := lt.Execute(context.Background(), nil)
	if err != nil || res.IsError {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	var entries []sessionEntry
	if err := json.Unmarshal([]byte(res.Content), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh manager lists %d sessions", len(entries))
	}

	params, _ := json.Marshal(executeCommandParams{Command: "sleep 30", TimeoutMS: 100})
	eres, err := et.Execute(context.Background(), params)
	if err != nil || eres.IsError {
		t.Fatalf("res=%+v err=%v", eres, err)
	}
	pid := execResultOf(t, eres).PID

	res, err = lt.Execute(context.Background(), nil)
	if err != nil || res.IsError {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if err := json.Unmarshal([]byte(res.Content), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].PID != pid || !entries[0].IsBlocked {
		t.Errorf("entries = %+v", entries)
	}

	if err := m.ForceTerminate(context.Background(), pid); err != nil {
		t.Fatal(err)
	}
}

func TestDelegateCLITool(t *testing.T) {
	m := newTestManager(t)
	dt := NewDelegateCLITool(m, 2*time.Second, newTestLogger())

	params, _ := json.Marshal(delegateCLIParams{Binary: "echo", Args: []string{"hello", "wor ld"}})
	res, err := dt.Execute(context.Background(), params)
	if err != nil || res.IsError {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	out := execResultOf(t, res)
	if out.IsBlocked {
		t.Error("echo must finish within the initial timeout")
	}
	if !strings.Contains(out.Output, "hello wor ld") {
		t.Errorf("output = %q", out.Output)
	}
}

func TestDelegateCLIToolBlockedJob(t *testing.T) {
	m := newTestManager(t)
	dt := NewDelegateCLITool(m, 100*time.Millisecond, newTestLogger())

	params, _ := json.Marshal(delegateCLIParams{Binary: "sleep", Args: []string{"30"}})
	res, err := dt.Execute(context.Background(), params)
	if err != nil || res.IsError {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	out := execResultOf(t, res)
	if !out.IsBlocked || out.PID <= 0 {
		t.Fatalf("result = %+v, want blocked with pid", out)
	}
	if err := m.ForceTerminate(context.Background(), out.PID); err != nil {
		t.Fatal(err)
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"plain":        "plain",
		"":             "''",
		"two words":    "'two words'",
		"it's":         `'it'\''s'`,
		"a$b":          "'a$b'",
		"semi;colon":   "'semi;colon'",
		"/usr/bin/env": "/usr/bin/env",
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
