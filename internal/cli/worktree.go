package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pablasso/autobuild/internal/display"
	"github.com/pablasso/autobuild/internal/tasks"
	"github.com/pablasso/autobuild/internal/worktree"
)

var (
	worktreeBaseBranch   string
	worktreeCreateBranch bool
	worktreeKind         string
	worktreeDeleteBranch bool
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Manage task and terminal worktrees",
}

var worktreeCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a terminal worktree for manual work",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		req := worktree.CreateRequest{
			Kind:         worktree.KindTerminal,
			BaseBranch:   worktreeBaseBranch,
			CreateBranch: worktreeCreateBranch,
		}
		if len(args) == 1 {
			req.Name = args[0]
			req.TerminalID = args[0]
		}
		cfg, err := a.worktrees(a.project).Create(commandContext(cmd), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, display.SuccessStyle.Render("Created worktree "+cfg.Name))
		fmt.Fprintf(out, "  Path:   %s\n", cfg.WorktreePath)
		if cfg.BranchName != "" {
			fmt.Fprintf(out, "  Branch: %s\n", cfg.BranchName)
		}
		fmt.Fprintf(out, "  Base:   %s\n", cfg.BaseBranch)
		return nil
	},
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		kinds := []worktree.Kind{worktree.KindTask, worktree.KindTerminal}
		if worktreeKind != "" {
			kind, err := worktree.ParseKind(worktreeKind)
			if err != nil {
				return err
			}
			kinds = []worktree.Kind{kind}
		}

		m := a.worktrees(a.project)
		var all []worktree.Config
		for _, kind := range kinds {
			configs, err := m.List(commandContext(cmd), kind)
			if err != nil {
				return err
			}
			all = append(all, configs...)
		}
		fmt.Fprintln(cmd.OutOrStdout(), display.Worktrees(all))
		return nil
	},
}

var worktreeRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		kind, err := worktree.ParseKind(worktreeKind)
		if err != nil {
			return err
		}
		if kind == worktree.KindTask && a.svc.IsRunning(a.project.ID, args[0]) {
			return fmt.Errorf("%w: %s", tasks.ErrTaskRunning, args[0])
		}
		res, err := a.worktrees(a.project).Remove(commandContext(cmd), kind, args[0], worktreeDeleteBranch)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Removed worktree %s\n", res.Path)
		if res.HadChanges {
			fmt.Fprintln(out, display.WarningStyle.Render("  It had uncommitted changes, which were discarded."))
		}
		switch {
		case res.BranchDeleted:
			fmt.Fprintf(out, "  Deleted branch %s\n", res.Branch)
		case res.BranchErr != nil:
			fmt.Fprintln(out, display.WarningStyle.Render(fmt.Sprintf("  Kept branch %s: %v", res.Branch, res.BranchErr)))
		}
		a.svc.Scanner().Invalidate(a.project.ID)
		return nil
	},
}

func init() {
	worktreeCreateCmd.Flags().StringVar(&worktreeBaseBranch, "base-branch", "", "Branch to start from")
	worktreeCreateCmd.Flags().BoolVar(&worktreeCreateBranch, "branch", false, "Create a terminal/<name> branch instead of a detached checkout")
	worktreeListCmd.Flags().StringVar(&worktreeKind, "kind", "", "Only list this kind (task or terminal)")
	worktreeRemoveCmd.Flags().StringVar(&worktreeKind, "kind", "", "Worktree kind (task or terminal, default task)")
	worktreeRemoveCmd.Flags().BoolVar(&worktreeDeleteBranch, "delete-branch", false, "Also delete the worktree's branch")

	worktreeCmd.AddCommand(worktreeCreateCmd, worktreeListCmd, worktreeRemoveCmd)
}
