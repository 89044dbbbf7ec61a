package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// setupTestRepo creates a temporary git repository and returns its path.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test User"},
		{"config", "commit.gpgsign", "false"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = tmpDir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	return tmpDir
}

func commitFile(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("content"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	for _, args := range [][]string{{"add", name}, {"commit", "-m", "add " + name}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
}

func TestRepo_IsRepoAndHasCommits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if New(t.TempDir(), 0).IsRepo(ctx) {
		t.Error("plain directory reported as repo")
	}

	dir := setupTestRepo(t)
	r := New(dir, 0)
	if !r.IsRepo(ctx) {
		t.Fatal("expected repo")
	}
	if r.HasCommits(ctx) {
		t.Error("fresh repo should have no commits")
	}

	commitFile(t, dir, "a.txt")
	if !r.HasCommits(ctx) {
		t.Error("expected commits after commit")
	}
}

func TestRepo_Branches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := setupTestRepo(t)
	commitFile(t, dir, "a.txt")
	r := New(dir, 0)

	branch, err := r.CurrentBranch(ctx)
	if err != nil || branch != "main" {
		t.Fatalf("CurrentBranch = %q, %v; want main", branch, err)
	}
	if !r.BranchExists(ctx, "main") || r.BranchExists(ctx, "nope") {
		t.Error("BranchExists mismatch")
	}
	if !r.RefExists(ctx, "main") || r.RefExists(ctx, "origin/main") {
		t.Error("RefExists mismatch")
	}
	if r.HasRemote(ctx, "origin") {
		t.Error("no remote configured")
	}

	if _, err := r.Run(ctx, "checkout", "--detach"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, err := r.CurrentBranch(ctx); !errors.Is(err, ErrDetachedHEAD) {
		t.Errorf("expected ErrDetachedHEAD, got %v", err)
	}
}

func TestRepo_ValidBranchName(t *testing.T) {
	t.Parallel()
	r := New(setupTestRepo(t), 0)
	ctx := context.Background()

	tests := []struct {
		name  string
		valid bool
	}{
		{"auto-build/001-fix", true},
		{"terminal/dev", true},
		{"", false},
		{"-rf", false},
		{"has space", false},
		{"double..dot", false},
		{"ends.lock", false},
	}
	for _, tt := range tests {
		if got := r.ValidBranchName(ctx, tt.name); got != tt.valid {
			t.Errorf("ValidBranchName(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestRepo_Worktrees(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := setupTestRepo(t)
	commitFile(t, dir, "a.txt")
	r := New(dir, 0)

	wt := filepath.Join(t.TempDir(), "wt")
	if err := r.WorktreeAdd(ctx, wt, WorktreeAddOptions{NewBranch: "feature/x", StartPoint: "main"}); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wt, "a.txt")); err != nil {
		t.Errorf("worktree not checked out: %v", err)
	}
	if !r.BranchExists(ctx, "feature/x") {
		t.Error("branch not created")
	}

	detached := filepath.Join(t.TempDir(), "detached")
	if err := r.WorktreeAdd(ctx, detached, WorktreeAddOptions{Detach: true, StartPoint: "main"}); err != nil {
		t.Fatalf("detached WorktreeAdd: %v", err)
	}

	if err := r.WorktreeRemove(ctx, wt, true); err != nil {
		t.Fatalf("WorktreeRemove: %v", err)
	}
	if _, err := os.Stat(wt); !os.IsNotExist(err) {
		t.Error("worktree directory still exists")
	}
	if err := r.DeleteBranch(ctx, "feature/x", true); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if r.BranchExists(ctx, "feature/x") {
		t.Error("branch still exists")
	}

	os.RemoveAll(detached)
	if err := r.WorktreePrune(ctx); err != nil {
		t.Errorf("WorktreePrune: %v", err)
	}
}

func TestRepo_Config(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := New(setupTestRepo(t), 0)

	v, err := r.ConfigGet(ctx, "autobuild.missing")
	if err != nil || v != "" {
		t.Errorf("missing key = %q, %v", v, err)
	}
	if err := r.ConfigSet(ctx, "core.bare", "true"); err != nil {
		t.Fatalf("ConfigSet: %v", err)
	}
	if v, _ := r.ConfigGet(ctx, "core.bare"); v != "true" {
		t.Errorf("core.bare = %q", v)
	}
}

func TestRepo_Status(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("clean after commit", func(t *testing.T) {
		t.Parallel()
		dir := setupTestRepo(t)
		commitFile(t, dir, "a.txt")
		status, err := New(dir, 0).Status(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !status.Clean {
			t.Errorf("expected clean, got %v", status.Files)
		}
	})

	t.Run("modified and untracked files", func(t *testing.T) {
		t.Parallel()
		dir := setupTestRepo(t)
		commitFile(t, dir, "tracked.txt")
		os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("modified"), 0644)
		os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("x"), 0644)

		status, err := New(dir, 0).Status(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Clean || len(status.Files) != 2 {
			t.Fatalf("unexpected status %+v", status)
		}
		if status.Files[0] != "tracked.txt" || status.Files[1] != "untracked.txt" {
			t.Errorf("files = %q", status.Files)
		}
	})
}

func TestRepo_RunErrors(t *testing.T) {
	t.Run("command error carries output", func(t *testing.T) {
		_, err := New(t.TempDir(), 0).Run(context.Background(), "rev-parse", "--git-dir")
		var ce *CommandError
		if !errors.As(err, &ce) {
			t.Fatalf("expected CommandError, got %v", err)
		}
		if ce.Output == "" {
			t.Error("expected git output on error")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		orig := CommandContext
		CommandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "sleep", "5")
		}
		t.Cleanup(func() { CommandContext = orig })

		_, err := New(t.TempDir(), 50*time.Millisecond).Run(context.Background(), "status")
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})
}
