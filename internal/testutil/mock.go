// Package testutil provides testing utilities for the autobuild project.
package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pablasso/autobuild/internal/plan"
)

// MockCommandFunc creates a mock command that outputs the given response.
// Usage: git.CommandContext = testutil.MockCommandFunc(output)
func MockCommandFunc(output string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "echo", "-n", output)
	}
}

// FailingCommandFunc creates a mock command that exits with status 1.
func FailingCommandFunc() func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "false")
	}
}

// TempDir returns t.TempDir with symlinks resolved, so paths compare equal
// to the ones git reports.
func TempDir(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	// Resolve symlinks for macOS (/var -> /private/var)
	if resolved, err := filepath.EvalSymlinks(tmpDir); err != nil {
		t.Logf("warning: could not resolve symlinks for temp dir: %v", err)
	} else {
		tmpDir = resolved
	}
	return tmpDir
}

// Git runs a git command in dir and fails the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return string(out)
}

// InitRepo creates a git repository on branch main with one commit and a
// configured user, and returns its path.
func InitRepo(t *testing.T) string {
	t.Helper()
	dir := TempDir(t)

	Git(t, dir, "init", "-b", "main")
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test User")
	Git(t, dir, "config", "commit.gpgsign", "false")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644); err != nil {
		t.Fatalf("failed to write README: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(".auto-build/\n"), 0644); err != nil {
		t.Fatalf("failed to write .gitignore: %v", err)
	}
	Git(t, dir, "add", "-A")
	Git(t, dir, "commit", "-m", "initial commit")
	return dir
}

// WritePlan saves p as the plan of a spec directory, creating it.
func WritePlan(t *testing.T, specDir string, p *plan.Plan) string {
	t.Helper()
	path := filepath.Join(specDir, plan.FileName)
	if err := plan.Save(path, p); err != nil {
		t.Fatalf("failed to write plan: %v", err)
	}
	return path
}

// PlanWithSubtasks returns a single-phase plan whose subtasks have the given
// statuses, with ids "1", "2", ...
func PlanWithSubtasks(status string, statuses ...plan.SubtaskStatus) *plan.Plan {
	p := &plan.Plan{Feature: "test task", Status: status, Phases: []plan.Phase{{Name: "impl"}}}
	for i, s := range statuses {
		p.Phases[0].Subtasks = append(p.Phases[0].Subtasks, plan.Subtask{
			ID:          plan.FlexID(strconv.Itoa(i + 1)),
			Description: "subtask",
			Status:      s,
		})
	}
	return p
}
