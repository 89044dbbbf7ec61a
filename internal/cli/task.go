package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pablasso/autobuild/internal/display"
	"github.com/pablasso/autobuild/internal/executor"
	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/recovery"
	"github.com/pablasso/autobuild/internal/specs"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/tasks"
)

var (
	taskDescription   string
	taskSourceType    string
	taskBaseBranch    string
	taskModel         string
	taskRequireReview bool
	taskRefresh       bool
	taskArchived      bool
	taskForceCleanup  bool
	taskApprove       bool
	taskReject        bool
	taskFeedback      string
	taskTargetStatus  string
	taskRestart       bool
	taskDeleteForce   bool
	taskNoStart       bool
)

// recentEvents is how many event log entries task show prints.
const recentEvents = 8

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, run and review tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		created, err := a.svc.CreateTask(commandContext(cmd), a.project.ID, strings.Join(args, " "), taskDescription, tasks.CreateOptions{
			SourceType:    taskSourceType,
			BaseBranch:    taskBaseBranch,
			Model:         taskModel,
			RequireReview: taskRequireReview,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created task %s\n", created.SpecID)
		fmt.Fprintf(cmd.OutOrStdout(), "  Start it with: autobuild task start %s\n", created.SpecID)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the task board",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.svc.ListTasks(commandContext(cmd), a.project.ID, taskRefresh)
		if err != nil {
			return err
		}
		visible := list[:0]
		for _, t := range list {
			if taskArchived || !t.Archived {
				visible = append(visible, t)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), display.Board(visible))
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <spec-id>",
	Short: "Show one task and its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.svc.GetTask(commandContext(cmd), a.project.ID, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, display.TaskDetail(t))
		events, err := plan.ReadEvents(filepath.Join(specs.Dir(a.project.Path, a.project.AutoBuildPath), t.SpecID))
		if err != nil {
			a.logger.Debug("could not read event log", "spec", t.SpecID, "err", err)
		}
		if len(events) > 0 {
			fmt.Fprintln(out, display.TitleStyle.Render("\nRecent events"))
			fmt.Fprintln(out, display.Events(events, recentEvents))
		}
		if a.svc.IsRunning(a.project.ID, t.SpecID) {
			fmt.Fprintln(out, display.SuccessStyle.Render("Agent is running."))
		} else if t.Status.IsActive() {
			fmt.Fprintln(out, display.WarningStyle.Render(
				fmt.Sprintf("No agent is running. Run 'autobuild task recover %s' to repair it.", t.SpecID)))
		}
		return nil
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <spec-id>",
	Short: "Run the agent for a task in its worktree",
	Long:  "Runs the agent in the foreground with a live status line. Ctrl-C stops the agent and parks the task.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	specID := args[0]
	out := cmd.OutOrStdout()
	disp := display.New(out)
	exited := make(chan error, 1)

	var a *app
	a, err := openApp(tasks.Hooks{
		OnPhase: func(projectID, id string, res tasks.PhaseResult) {
			if res.Warning != "" {
				disp.PrintAbove("%s", display.WarningStyle.Render("⚠ "+res.Warning))
				return
			}
			if res.Applied {
				disp.UpdatePhase(res.Phase)
			}
			if res.Status != "" {
				disp.UpdateStatus(res.Status)
			}
			if t, err := a.svc.GetTask(context.Background(), projectID, id); err == nil {
				disp.UpdateProgress(display.Completed(t.Subtasks), len(t.Subtasks))
			}
		},
		OnExit: func(projectID, id string, err error) {
			exited <- err
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := a.svc.GetTask(ctx, a.project.ID, specID)
	if err != nil {
		return err
	}
	// The agent outlives ctx; a signal stops it through StopTask.
	res, err := a.svc.StartTask(commandContext(cmd), a.project.ID, specID)
	if err != nil {
		return err
	}
	if res.CreatedWorktree {
		fmt.Fprintf(out, "Created worktree %s on branch %s\n", res.WorktreePath, res.BranchName)
	}
	logPath := filepath.Join(specs.WorktreeDir(a.project.Path, a.project.AutoBuildPath, specID), specID, plan.OutputLogFileName)
	fmt.Fprintf(out, "Agent output: %s\n\n", logPath)

	disp.UpdateTask(specID, t.Title)
	disp.UpdateStatus(task.StatusInProgress)
	disp.UpdateProgress(display.Completed(t.Subtasks), len(t.Subtasks))
	disp.Start()

	var exitErr error
	select {
	case exitErr = <-exited:
	case <-ctx.Done():
		disp.PrintAbove("Stopping agent...")
		res, err := a.svc.StopTask(commandContext(cmd), a.project.ID, specID)
		if err != nil {
			disp.Stop()
			return err
		}
		exitErr = <-exited
		if err := <-res.Done; err != nil {
			disp.PrintAbove("%s", display.WarningStyle.Render(fmt.Sprintf("⚠ status not saved: %v", err)))
		}
	}
	disp.Stop()

	final, err := a.svc.GetTask(commandContext(cmd), a.project.ID, specID)
	if err != nil {
		return err
	}
	switch {
	case errors.Is(exitErr, executor.ErrStopped):
		fmt.Fprintf(out, "Stopped. Task %s is %s.\n", specID, final.Status)
	case exitErr != nil:
		fmt.Fprintln(out, display.ErrorStyle.Render(fmt.Sprintf("Agent failed: %v", exitErr)))
		fmt.Fprintf(out, "Task %s is %s.\n", specID, final.Status)
	default:
		fmt.Fprintf(out, "Agent finished. Task %s is %s (%s subtasks done).\n", specID, final.Status, display.Progress(final.Subtasks))
	}
	return nil
}

var taskStopCmd = &cobra.Command{
	Use:   "stop <spec-id>",
	Short: "Stop the agent of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.svc.StopTask(commandContext(cmd), a.project.ID, args[0])
		if err != nil {
			return err
		}
		if err := <-res.Done; err != nil {
			return fmt.Errorf("agent stopped but the status was not saved: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s. Task is now %s.\n", args[0], res.Status)
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <spec-id> <status>",
	Short: "Set the status of a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, ok := task.ParseStatus(args[1])
		if !ok {
			return fmt.Errorf("unknown status %q", args[1])
		}
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.svc.UpdateStatus(commandContext(cmd), a.project.ID, args[0], status, tasks.UpdateOptions{ForceCleanup: taskForceCleanup})
		if err != nil {
			return err
		}
		return printUpdate(cmd, args[0], res)
	},
}

func printUpdate(cmd *cobra.Command, specID string, res tasks.UpdateResult) error {
	out := cmd.OutOrStdout()
	if res.WorktreeExists {
		return fmt.Errorf("task %s still has a worktree at %s; merge or discard it, or rerun with --force-cleanup to delete it", specID, res.WorktreePath)
	}
	if res.WorktreeRemoved {
		fmt.Fprintf(out, "Removed worktree %s\n", res.WorktreePath)
	}
	if res.Report.Diverged() {
		fmt.Fprintln(out, display.WarningStyle.Render(fmt.Sprintf("Some plan copies were not updated: %v", res.Report.Err())))
	}
	fmt.Fprintf(out, "Task %s is now %s.\n", specID, res.Status)
	return nil
}

var taskReviewCmd = &cobra.Command{
	Use:   "review <spec-id>",
	Short: "Approve or reject a task waiting for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if taskApprove == taskReject {
			return errors.New("pass exactly one of --approve or --reject")
		}
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}

		// A rejected task is restarted by runTaskStart below so the agent
		// runs in the foreground, not by the service.
		res, err := a.svc.ReviewTask(commandContext(cmd), a.project.ID, args[0], tasks.Review{
			Approved:     taskApprove,
			Feedback:     taskFeedback,
			ForceCleanup: taskForceCleanup,
		})
		a.Close()
		if err != nil {
			return err
		}
		if taskApprove {
			return printUpdate(cmd, args[0], res)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Feedback saved for the agent.")
		if taskNoStart {
			fmt.Fprintf(out, "Task %s stays in %s. Run 'autobuild task start %s' to apply the fixes.\n", args[0], res.Status, args[0])
			return nil
		}
		return runTaskStart(cmd, args[:1])
	},
}

var taskRecoverCmd = &cobra.Command{
	Use:   "recover <spec-id>",
	Short: "Repair a task whose agent died",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := recovery.Options{AutoRestart: taskRestart}
		if taskTargetStatus != "" {
			status, ok := task.ParseStatus(taskTargetStatus)
			if !ok {
				return fmt.Errorf("unknown status %q", taskTargetStatus)
			}
			opts.TargetStatus = status
		}
		if taskRestart {
			// A restarted agent runs in the foreground like task start.
			return recoverAndFollow(cmd, args[0], opts)
		}

		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.svc.Recover(commandContext(cmd), a.project.ID, args[0], opts)
		if err != nil {
			return err
		}
		printRecovery(cmd, args[0], res)
		return nil
	},
}

func recoverAndFollow(cmd *cobra.Command, specID string, opts recovery.Options) error {
	opts.AutoRestart = false
	a, err := openApp(tasks.Hooks{})
	if err != nil {
		return err
	}
	res, err := a.svc.Recover(commandContext(cmd), a.project.ID, specID, opts)
	a.Close()
	if err != nil {
		return err
	}
	printRecovery(cmd, specID, res)
	return runTaskStart(cmd, []string{specID})
}

func printRecovery(cmd *cobra.Command, specID string, res recovery.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recovered %s. Task is now %s.\n", specID, res.Status)
	if len(res.ResetSubtasks) > 0 {
		fmt.Fprintf(out, "  Reset subtasks: %s\n", strings.Join(res.ResetSubtasks, ", "))
	}
	if res.Report.Diverged() {
		fmt.Fprintln(out, display.WarningStyle.Render(fmt.Sprintf("  Some plan copies were not updated: %v", res.Report.Err())))
	}
	if res.RestartErr != nil {
		fmt.Fprintln(out, display.ErrorStyle.Render(fmt.Sprintf("  Restart failed: %v", res.RestartErr)))
	}
}

var taskStuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List tasks that claim an agent is running when none is",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(tasks.Hooks{})
		if err != nil {
			return err
		}
		defer a.Close()

		stuck, err := a.svc.DetectStuck(commandContext(cmd), a.project.ID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(stuck) == 0 {
			fmt.Fprintln(out, display.SuccessStyle.Render("No stuck tasks."))
			return nil
		}
		fmt.Fprintln(out, display.Board(stuck))
		fmt.Fprintln(out, display.SubtleStyle.Render("\nRun 'autobuild task recover <spec-id>' to repair a task."))
		return nil
	},
}

var taskArchiveCmd = &cobra.Command{
	Use:   "archive <spec-id>",
	Short: "Hide a task from the board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.svc.ArchiveTask(commandContext(cmd), a.project.ID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", args[0])
			return nil
		})
	},
}

var taskUnarchiveCmd = &cobra.Command{
	Use:   "unarchive <spec-id>",
	Short: "Show an archived task on the board again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.svc.UnarchiveTask(commandContext(cmd), a.project.ID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unarchived %s\n", args[0])
			return nil
		})
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <spec-id>",
	Short: "Delete a task, its worktree and its branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			out := cmd.OutOrStdout()
			if !taskDeleteForce && !confirm(cmd.InOrStdin(), out, fmt.Sprintf("Delete task %s, its worktree and its branch?", args[0])) {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
			res, err := a.svc.DeleteTask(commandContext(cmd), a.project.ID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %s", args[0])
			if res.WorktreeRemoved {
				fmt.Fprint(out, " and its worktree")
			}
			fmt.Fprintln(out)
			return nil
		})
	},
}

func withApp(fn func(a *app) error) error {
	a, err := openApp(tasks.Hooks{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func init() {
	taskCreateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "What the agent should build")
	taskCreateCmd.Flags().StringVar(&taskSourceType, "source-type", "", "Where the task came from (manual, direct, ideation, roadmap, insights)")
	taskCreateCmd.Flags().StringVar(&taskBaseBranch, "base-branch", "", "Branch the task worktree starts from")
	taskCreateCmd.Flags().StringVar(&taskModel, "model", "", "Model passed to the agent")
	taskCreateCmd.Flags().BoolVar(&taskRequireReview, "require-review", false, "Stop for plan review before coding")

	taskListCmd.Flags().BoolVar(&taskRefresh, "refresh", false, "Bypass the scan cache")
	taskListCmd.Flags().BoolVar(&taskArchived, "archived", false, "Include archived tasks")

	taskStatusCmd.Flags().BoolVar(&taskForceCleanup, "force-cleanup", false, "Delete the task worktree and branch when marking done")

	taskReviewCmd.Flags().BoolVar(&taskApprove, "approve", false, "Approve the work and mark the task done")
	taskReviewCmd.Flags().BoolVar(&taskReject, "reject", false, "Send the task back to the agent")
	taskReviewCmd.Flags().StringVar(&taskFeedback, "feedback", "", "Feedback for the agent when rejecting")
	taskReviewCmd.Flags().BoolVar(&taskForceCleanup, "force-cleanup", false, "Delete the task worktree and branch when approving")
	taskReviewCmd.Flags().BoolVar(&taskNoStart, "no-start", false, "Only save the feedback; do not start the agent")

	taskRecoverCmd.Flags().StringVar(&taskTargetStatus, "target-status", "", "Status to set instead of the one derived from subtasks")
	taskRecoverCmd.Flags().BoolVar(&taskRestart, "restart", false, "Start the agent again after recovering")

	taskDeleteCmd.Flags().BoolVarP(&taskDeleteForce, "force", "f", false, "Skip confirmation prompt")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskStartCmd, taskStopCmd, taskStatusCmd,
		taskReviewCmd, taskRecoverCmd, taskStuckCmd, taskArchiveCmd, taskUnarchiveCmd, taskDeleteCmd)
}
