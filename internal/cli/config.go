package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pablasso/autobuild/internal/config"
	"github.com/pablasso/autobuild/internal/display"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every configuration value and where it came from",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workingDir()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if p, err := newRegistry(cfg).FindByPath(dir); err == nil {
			dir = p.Path
			fmt.Fprintf(out, "Project config: %s\n\n", config.ProjectConfigPath(p.Path, p.AutoBuildPath))
		}
		values, err := config.Resolve(dir, flagConfig())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, display.Config(values))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
