package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pablasso/autobuild/internal/specs"
	"github.com/pablasso/autobuild/internal/tasks"
	"github.com/pablasso/autobuild/internal/worktree"
)

var (
	deinitForce bool
)

var deinitCmd = &cobra.Command{
	Use:   "deinit",
	Short: "Remove autobuild from the current repository",
	Long:  "Removes every worktree, the state directory and all specs, and unregisters the project. This action cannot be undone.",
	Args:  cobra.NoArgs,
	RunE:  runDeinit,
}

func init() {
	deinitCmd.Flags().BoolVarP(&deinitForce, "force", "f", false, "Skip confirmation prompt")
}

func runDeinit(cmd *cobra.Command, args []string) error {
	a, err := openApp(tasks.Hooks{})
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	stateDir := a.project.StateDir()

	list, err := a.svc.ListTasks(ctx, a.project.ID, true)
	if err != nil {
		return err
	}
	for _, t := range list {
		if a.svc.IsRunning(a.project.ID, t.SpecID) {
			return fmt.Errorf("task %s is running; stop it first", t.SpecID)
		}
	}

	specCount, totalSize, err := calculateDirStats(stateDir)
	if err != nil {
		return fmt.Errorf("failed to analyze %s: %w", stateDir, err)
	}

	if !deinitForce {
		prompt := fmt.Sprintf("This will delete %s (%d specs, %s) and all task worktrees. Continue?", stateDir, specCount, formatSize(totalSize))
		if !confirm(cmd.InOrStdin(), out, prompt) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := removeWorktrees(ctx, a.worktrees(a.project)); err != nil {
		return err
	}
	a.Close()
	if err := os.RemoveAll(stateDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", stateDir, err)
	}
	if err := removeFromGitignore(a.project.Path, a.project.AutoBuildPath+"/"); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}
	if err := a.registry.Remove(a.project.ID); err != nil {
		return err
	}

	fmt.Fprintln(out, "autobuild has been removed from this repository.")
	return nil
}

// removeWorktrees unregisters every worktree so git forgets them before the
// state directory is deleted. Task branches are kept.
func removeWorktrees(ctx context.Context, m *worktree.Manager) error {
	for _, kind := range []worktree.Kind{worktree.KindTask, worktree.KindTerminal} {
		configs, err := m.List(ctx, kind)
		if err != nil {
			return err
		}
		for _, c := range configs {
			if _, err := m.Remove(ctx, kind, c.Name, false); err != nil {
				return fmt.Errorf("failed to remove worktree %s: %w", c.Name, err)
			}
		}
	}
	return m.Prune(ctx)
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	reader := bufio.NewReader(in)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func calculateDirStats(dir string) (specCount int, totalSize int64, err error) {
	entries, readErr := os.ReadDir(filepath.Join(dir, specs.DirName))
	if readErr == nil {
		for _, e := range entries {
			if e.IsDir() {
				specCount++
			}
		}
	}

	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	return
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1fMB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1fKB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
