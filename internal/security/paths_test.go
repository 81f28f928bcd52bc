package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"hostlink/internal/domain"
)

func newGuard(t *testing.T, dirs ...string) *PathGuard {
	t.Helper()
	guard, err := NewPathGuard(dirs)
	if err != nil {
		t.Fatal(err)
	}
	return guard
}

func TestPathGuardValidPath(t *testing.T) {
	dir := t.TempDir()
	guard := newGuard(t, dir)

	testFile := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(testFile, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	resolved, err := guard.ValidatePath(testFile)
	if err != nil {
		t.Errorf("valid path should pass: %v", err)
	}
	if resolved != testFile {
		t.Errorf("resolved = %q, want %q", resolved, testFile)
	}
}

func TestPathGuardMultipleRoots(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	guard := newGuard(t, dirA, dirB)

	for _, dir := range []string{dirA, dirB} {
		path := filepath.Join(dir, "file.txt")
		if _, err := guard.ValidatePath(path); err != nil {
			t.Errorf("path under %q should pass: %v", dir, err)
		}
	}
}

func TestPathGuardTraversal(t *testing.T) {
	dir := t.TempDir()
	guard := newGuard(t, dir)

	tests := []string{
		filepath.Join(dir, "..", "etc", "passwd"),
		"/etc/passwd",
		filepath.Join(dir, "..", "..", "root", ".ssh"),
	}

	for _, path := range tests {
		_, err := guard.ValidatePath(path)
		if !errors.Is(err, domain.ErrPathNotAllowed) {
			t.Errorf("path %q: expected ErrPathNotAllowed, got %v", path, err)
		}
	}
}

func TestPathGuardNewFilePath(t *testing.T) {
	dir := t.TempDir()
	guard := newGuard(t, dir)

	// Parent exists, the file does not yet.
	newFile := filepath.Join(dir, "newfile.txt")
	resolved, err := guard.ValidatePath(newFile)
	if err != nil {
		t.Errorf("new file under an allowed dir should pass: %v", err)
	}
	if resolved != newFile {
		t.Errorf("resolved = %q, want %q", resolved, newFile)
	}
}

func TestPathGuardSymlinkEscape(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()

	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("data"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(allowed, "link")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	guard := newGuard(t, allowed)
	if _, err := guard.ValidatePath(link); !errors.Is(err, domain.ErrPathNotAllowed) {
		t.Errorf("symlink escaping the allowed set must be rejected, got %v", err)
	}
}

func TestPathGuardEmptyRootsRejectEverything(t *testing.T) {
	guard := newGuard(t)

	if _, err := guard.ValidatePath("/tmp"); !errors.Is(err, domain.ErrPathNotAllowed) {
		t.Errorf("empty guard must reject every path, got %v", err)
	}
}

func TestPathGuardReload(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	guard := newGuard(t, dirA)

	if err := guard.Reload([]string{dirB}); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := guard.ValidatePath(filepath.Join(dirA, "x")); err == nil {
		t.Error("old root must be rejected after Reload")
	}
	if _, err := guard.ValidatePath(filepath.Join(dirB, "x")); err != nil {
		t.Errorf("new root must be accepted after Reload: %v", err)
	}

	// A failed reload keeps the previous set.
	if err := guard.Reload([]string{"/nonexistent/hostlink-root"}); err == nil {
		t.Fatal("expected Reload failure")
	}
	if _, err := guard.ValidatePath(filepath.Join(dirB, "x")); err != nil {
		t.Errorf("previous set must survive a failed Reload: %v", err)
	}
}

func TestPathGuardRejectsMissingRoot(t *testing.T) {
	if _, err := NewPathGuard([]string{"/nonexistent/hostlink-root"}); err == nil {
		t.Error("expected error for a missing allowed dir")
	}
}

func TestPathGuardRejectsFileRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPathGuard([]string{file}); err == nil {
		t.Error("expected error for a non-directory root")
	}
}
