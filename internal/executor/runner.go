// Package executor runs the external coding agent for a task and reports
// its phase changes and exit.
package executor

import (
	"context"
	"errors"
	"os/exec"

	"github.com/pablasso/autobuild/internal/phase"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

var (
	// ErrAlreadyRunning is returned by Start when the task has a live agent.
	ErrAlreadyRunning = errors.New("agent is already running for this task")
	// ErrNotRunning is returned by Stop when no agent is alive.
	ErrNotRunning = errors.New("agent is not running for this task")
	// ErrStopped is passed to OnExit when the agent was killed by Stop.
	ErrStopped = errors.New("agent stopped")
)

// AgentRunner spawns and supervises one agent process per task.
type AgentRunner interface {
	Start(ctx context.Context, req StartRequest) error
	Stop(specID string) error
	IsRunning(specID string) bool
}

// Events receives agent callbacks. Both are optional and are invoked from
// the goroutine supervising the process.
type Events struct {
	OnPhase func(specID string, p phase.ExecutionPhase, message string)
	OnExit  func(specID string, err error)
}

// StartRequest describes one agent run.
type StartRequest struct {
	SpecID string
	// SpecDir is the main spec directory. The run lock and output log live there.
	SpecDir string
	// WorkDir is the checkout the agent works in, normally the task worktree.
	WorkDir string
	// AgentSpecDir is the spec directory as seen from WorkDir.
	AgentSpecDir string

	Title       string
	Description string
	Model       string
	// Resume is set when the task already has completed subtasks.
	Resume bool

	Events Events
}
