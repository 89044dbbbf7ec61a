package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/pablasso/autobuild/internal/config"
	"github.com/pablasso/autobuild/internal/testutil"
)

// setupProject points the CLI at a fresh repository with an isolated home
// directory and projects file.
func setupProject(t *testing.T) string {
	t.Helper()
	home := testutil.TempDir(t)
	t.Setenv("HOME", home)
	t.Setenv(config.EnvProjectsFile, filepath.Join(home, "projects.json"))
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvAutoBuildDir, "")
	t.Setenv(config.EnvVerbose, "")

	repo := testutil.InitRepo(t)
	projectFlag = repo
	t.Cleanup(func() { projectFlag = "" })
	return repo
}

// newTestCmd returns a command whose output is captured and whose input
// reads from in.
func newTestCmd(in string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(in))
	cmd.SetContext(context.Background())
	return cmd, out
}

func initProject(t *testing.T) string {
	t.Helper()
	repo := setupProject(t)
	cmd, _ := newTestCmd("")
	if err := runInit(cmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	return repo
}
