package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize autobuild in the current repository",
	Long:  "Creates the state directory for specs, worktrees and logs and registers the project.",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := workingDir()
	if err != nil {
		return err
	}
	root, err := checkPrerequisites(commandContext(cmd), dir)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	registry := newRegistry(cfg)
	if IsInitialized(root, cfg.AutoBuildDir) {
		if _, err := registry.FindByPath(root); err == nil {
			return fmt.Errorf("autobuild is already initialized in this repository")
		}
	}

	for _, name := range stateDirs {
		path := filepath.Join(root, cfg.AutoBuildDir, name)
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	if err := addToGitignore(root, cfg.AutoBuildDir+"/"); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}
	p, err := registry.Add(root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized autobuild in %s (project %s)\n", filepath.Join(root, cfg.AutoBuildDir), p.ID)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Run: autobuild task create \"<title>\" --description \"<what to build>\"")
	fmt.Fprintln(out, "  2. Run: autobuild task start <spec-id>")
	return nil
}
