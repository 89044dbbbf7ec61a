package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pablasso/autobuild/internal/executor"
	"github.com/pablasso/autobuild/internal/git"
)

// stateDirs are created under the state directory by init.
var stateDirs = []string{"specs", "worktrees", "logs"}

// checkPrerequisites validates the repository before init and returns its
// top-level directory. Agent authentication is checked when a task starts.
func checkPrerequisites(ctx context.Context, dir string) (string, error) {
	if err := executor.CheckRepository(ctx, dir); err != nil {
		return "", err
	}
	root, err := git.New(dir, 0).Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return root, nil
}

// IsInitialized checks if the state directory exists in projectDir.
func IsInitialized(projectDir, autoBuildDir string) bool {
	info, err := os.Stat(filepath.Join(projectDir, autoBuildDir))
	return err == nil && info.IsDir()
}
