package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName holds the PID of the agent process working on a spec.
const LockFileName = "run.lock"

// ErrLocked is returned by Acquire when a live process holds the lock.
var ErrLocked = errors.New("task is already running")

// Lock is a PID file that outlives the orchestrator, so a restarted
// orchestrator can tell whether an agent from a previous run is still alive.
type Lock struct {
	path string
}

// NewLock returns the lock for the given spec directory.
func NewLock(specDir string) *Lock {
	return &Lock{path: filepath.Join(specDir, LockFileName)}
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Acquire records pid as the holder. Stale locks from dead processes are
// removed first.
func (l *Lock) Acquire(pid int) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, writeErr := fmt.Fprintf(f, "%d", pid)
			f.Close()
			if writeErr != nil {
				os.Remove(l.path)
				return fmt.Errorf("failed to write lock file: %w", writeErr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		holder, locked, err := l.holder()
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w (PID %d)", ErrLocked, holder)
		}
	}
	return fmt.Errorf("lock acquired by another process during retry")
}

// Release removes the lock file. It is a no-op when the file is gone.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether the lock is held by a live process. Stale or
// unreadable locks are removed and reported as free.
func (l *Lock) IsLocked() (bool, error) {
	_, locked, err := l.holder()
	return locked, err
}

// PID returns the recorded holder, or 0 when the lock is free.
func (l *Lock) PID() (int, error) {
	pid, locked, err := l.holder()
	if err != nil || !locked {
		return 0, err
	}
	return pid, nil
}

// holder reads the lock file, cleaning it up when its process is gone.
func (l *Lock) holder() (int, bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr == nil && processExists(pid) {
		return pid, true, nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return 0, false, fmt.Errorf("failed to remove stale lock file: %w", err)
	}
	return 0, false, nil
}

// processExists checks for a live process with signal 0.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
