package executor

import (
	"context"
	"os/exec"

	"github.com/pablasso/autobuild/internal/git"
	"github.com/pablasso/autobuild/internal/task"
)

// LookPath finds the agent binary. Tests replace it.
var LookPath = exec.LookPath

// Preflight verifies that a task can be started in projectDir.
type Preflight func(ctx context.Context, projectDir string) error

// NewPreflight returns the checks run before starting or restarting a task:
// a git repository with at least one commit and an authenticated agent CLI.
func NewPreflight(agentCommand string) Preflight {
	if agentCommand == "" {
		agentCommand = DefaultAgentCommand
	}
	return func(ctx context.Context, projectDir string) error {
		if err := CheckRepository(ctx, projectDir); err != nil {
			return err
		}
		return CheckAuth(ctx, agentCommand)
	}
}

// CheckRepository verifies projectDir is a git repository with commits.
func CheckRepository(ctx context.Context, projectDir string) error {
	repo := git.New(projectDir, 0)
	if !repo.IsRepo(ctx) {
		return &task.RemediationError{
			Kind:    task.KindRepositoryNotReady,
			Check:   "Git repository",
			Message: "Not a git repository",
			Help:    "autobuild requires a git repository. Run 'git init' first.",
		}
	}
	if !repo.HasCommits(ctx) {
		return &task.RemediationError{
			Kind:    task.KindRepositoryNotReady,
			Check:   "Git repository",
			Message: "Repository has no commits",
			Help:    "Worktrees need a commit to branch from. Run 'git add -A && git commit -m \"initial commit\"'.",
		}
	}
	return nil
}

// CheckAuth verifies the agent CLI is installed and authenticated.
func CheckAuth(ctx context.Context, agentCommand string) error {
	if _, err := LookPath(agentCommand); err != nil {
		return &task.RemediationError{
			Kind:    task.KindAuthenticationRequired,
			Check:   "Claude Code CLI",
			Message: agentCommand + " not found",
			Help:    "Install Claude Code: https://claude.ai/code",
		}
	}

	// claude auth status returns 0 if authenticated
	cmd := CommandContext(ctx, agentCommand, "auth", "status")
	if err := cmd.Run(); err != nil {
		return &task.RemediationError{
			Kind:    task.KindAuthenticationRequired,
			Check:   "Claude Code authentication",
			Message: "Claude Code not authenticated",
			Help:    "Run '" + agentCommand + " auth' to authenticate.",
		}
	}
	return nil
}
