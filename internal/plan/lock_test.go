package plan

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func readLockPID(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		t.Fatalf("failed to parse PID from lock file: %v", err)
	}
	return pid
}

func TestLock_Acquire_Success(t *testing.T) {
	tmpDir := t.TempDir()

	lock := NewLock(tmpDir)
	if err := lock.Acquire(os.Getpid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pid := readLockPID(t, filepath.Join(tmpDir, LockFileName)); pid != os.Getpid() {
		t.Errorf("lock file PID mismatch: got %d, want %d", pid, os.Getpid())
	}
}

func TestLock_Acquire_CreatesSpecDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "specs", "001-x")

	if err := NewLock(dir).Acquire(os.Getpid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
}

func TestLock_Acquire_AlreadyLocked(t *testing.T) {
	tmpDir := t.TempDir()

	lockPath := filepath.Join(tmpDir, LockFileName)
	if err := os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		t.Fatalf("failed to create lock file: %v", err)
	}

	err := NewLock(tmpDir).Acquire(os.Getpid())
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestLock_Acquire_StaleLock(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"dead process", "99999999"},
		{"invalid content", "not-a-pid"},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			lockPath := filepath.Join(tmpDir, LockFileName)
			if err := os.WriteFile(lockPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to create lock file: %v", err)
			}

			if err := NewLock(tmpDir).Acquire(os.Getpid()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pid := readLockPID(t, lockPath); pid != os.Getpid() {
				t.Errorf("lock file PID mismatch: got %d, want %d", pid, os.Getpid())
			}
		})
	}
}

func TestLock_IsLocked(t *testing.T) {
	t.Run("no lock file", func(t *testing.T) {
		locked, err := NewLock(t.TempDir()).IsLocked()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if locked {
			t.Error("expected unlocked")
		}
	})

	t.Run("live holder", func(t *testing.T) {
		lock := NewLock(t.TempDir())
		if err := lock.Acquire(os.Getpid()); err != nil {
			t.Fatalf("failed to acquire: %v", err)
		}
		locked, err := lock.IsLocked()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !locked {
			t.Error("expected locked")
		}
		pid, err := lock.PID()
		if err != nil || pid != os.Getpid() {
			t.Errorf("PID() = %d, %v; want %d", pid, err, os.Getpid())
		}
	})

	t.Run("stale holder is cleaned up", func(t *testing.T) {
		tmpDir := t.TempDir()
		lockPath := filepath.Join(tmpDir, LockFileName)
		os.WriteFile(lockPath, []byte("99999999"), 0644)

		locked, err := NewLock(tmpDir).IsLocked()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if locked {
			t.Error("expected stale lock to be reported free")
		}
		if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
			t.Error("stale lock file should be removed")
		}
	})
}

func TestLock_Release(t *testing.T) {
	tmpDir := t.TempDir()
	lock := NewLock(tmpDir)

	if err := lock.Release(); err != nil {
		t.Errorf("unexpected error when releasing unheld lock: %v", err)
	}

	if err := lock.Acquire(os.Getpid()); err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}

	if err := lock.Acquire(os.Getpid()); err != nil {
		t.Fatalf("failed to re-acquire lock after release: %v", err)
	}
}
