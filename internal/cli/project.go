package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pablasso/autobuild/internal/display"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/tasks"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry()
		if err != nil {
			return err
		}
		projects, err := registry.List()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), display.Projects(projects))
		return nil
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a project directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry()
		if err != nil {
			return err
		}
		p, err := registry.Add(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", p.Path, p.ID)
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unregister a project; its files are left in place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry()
		if err != nil {
			return err
		}
		if err := registry.Remove(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unregistered project %s\n", args[0])
		return nil
	},
}

var projectSetBranchCmd = &cobra.Command{
	Use:   "set-branch <branch>",
	Short: "Set the base branch new task worktrees start from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()
		settings := a.project.Settings
		settings.MainBranch = args[0]
		if _, err := a.registry.UpdateSettings(a.project.ID, settings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Base branch for %s set to %s\n", a.project.Name, args[0])
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectListCmd, projectAddCmd, projectRemoveCmd, projectSetBranchCmd)
}

func openRegistry() (*project.Registry, error) {
	dir, err := workingDir()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}
	return newRegistry(cfg), nil
}
