package executor

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/testutil"
)

func stubLookPath(t *testing.T, err error) {
	t.Helper()
	orig := LookPath
	LookPath = func(string) (string, error) { return "/usr/bin/claude", err }
	t.Cleanup(func() { LookPath = orig })
}

func stubCommand(t *testing.T, fn func(ctx context.Context, name string, args ...string) *exec.Cmd) {
	t.Helper()
	orig := CommandContext
	CommandContext = fn
	t.Cleanup(func() { CommandContext = orig })
}

func TestCheckRepository(t *testing.T) {
	ctx := context.Background()

	if err := CheckRepository(ctx, testutil.TempDir(t)); !task.IsRemediation(err, task.KindRepositoryNotReady) {
		t.Errorf("plain directory: expected RepositoryNotReady, got %v", err)
	}

	empty := testutil.TempDir(t)
	testutil.Git(t, empty, "init", "-b", "main")
	err := CheckRepository(ctx, empty)
	var re *task.RemediationError
	if !errors.As(err, &re) || re.Message != "Repository has no commits" {
		t.Errorf("repository without commits: got %v", err)
	}

	if err := CheckRepository(ctx, testutil.InitRepo(t)); err != nil {
		t.Errorf("ready repository: %v", err)
	}
}

func TestCheckAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("missing binary", func(t *testing.T) {
		stubLookPath(t, exec.ErrNotFound)
		if err := CheckAuth(ctx, "claude"); !task.IsRemediation(err, task.KindAuthenticationRequired) {
			t.Errorf("expected AuthenticationRequired, got %v", err)
		}
	})

	t.Run("not authenticated", func(t *testing.T) {
		stubLookPath(t, nil)
		stubCommand(t, testutil.FailingCommandFunc())
		err := CheckAuth(ctx, "claude")
		var re *task.RemediationError
		if !errors.As(err, &re) || re.Kind != task.KindAuthenticationRequired {
			t.Fatalf("expected AuthenticationRequired, got %v", err)
		}
		if re.Help != "Run 'claude auth' to authenticate." {
			t.Errorf("help = %q", re.Help)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		stubLookPath(t, nil)
		stubCommand(t, testutil.MockCommandFunc("ok"))
		if err := CheckAuth(ctx, "claude"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestPreflight(t *testing.T) {
	stubLookPath(t, nil)
	stubCommand(t, testutil.MockCommandFunc("ok"))
	check := NewPreflight("")

	if err := check(context.Background(), testutil.TempDir(t)); !task.IsRemediation(err, task.KindRepositoryNotReady) {
		t.Errorf("expected RepositoryNotReady, got %v", err)
	}
	if err := check(context.Background(), testutil.InitRepo(t)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
