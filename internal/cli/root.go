// Package cli implements the autobuild command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pablasso/autobuild/internal/version"
)

var (
	projectFlag string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "autobuild",
	Short: "Run autonomous coding tasks in isolated git worktrees",
	Long: `autobuild drives a coding agent through planning, coding and QA for each task.
Every task runs in its own git worktree and all state lives in JSON files under the project.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "Project directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.SetVersionTemplate(fmt.Sprintf("autobuild {{.Version}} (commit %s, built %s)\n", version.CommitSHA, version.BuildDate))

	rootCmd.AddCommand(initCmd, deinitCmd, projectCmd, taskCmd, worktreeCmd, configCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
