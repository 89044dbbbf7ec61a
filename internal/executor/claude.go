package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pablasso/autobuild/internal/logging"
	"github.com/pablasso/autobuild/internal/phase"
	"github.com/pablasso/autobuild/internal/plan"
)

// DefaultAgentCommand is the agent CLI used when none is configured.
const DefaultAgentCommand = "claude"

// stopGrace bounds how long Stop waits for a killed process to be reaped.
const stopGrace = 10 * time.Second

// ClaudeOptions configures a ClaudeRunner.
type ClaudeOptions struct {
	Command string
	// Args are appended after the prompt flags.
	Args []string
	// SpecsDir is the main specs directory of the project. It locates run
	// locks for tasks started by an earlier process.
	SpecsDir string
	Logger   *log.Logger
	Now      func() time.Time
}

type process struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// ClaudeRunner runs the Claude Code CLI, one process per task.
type ClaudeRunner struct {
	command  string
	args     []string
	specsDir string
	logger   *log.Logger
	now      func() time.Time

	mu    sync.Mutex
	procs map[string]*process
}

// NewClaudeRunner creates a runner for one project.
func NewClaudeRunner(opts ClaudeOptions) *ClaudeRunner {
	command := opts.Command
	if command == "" {
		command = DefaultAgentCommand
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ClaudeRunner{
		command:  command,
		args:     opts.Args,
		specsDir: opts.SpecsDir,
		logger:   logging.Component(opts.Logger, "runner"),
		now:      now,
		procs:    make(map[string]*process),
	}
}

// Start spawns the agent for req and returns once it is running. The
// process outlives ctx only through Stop; cancelling ctx kills it.
func (r *ClaudeRunner) Start(ctx context.Context, req StartRequest) error {
	if req.SpecID == "" || req.SpecDir == "" {
		return errors.New("start request needs a spec id and spec directory")
	}
	if r.IsRunning(req.SpecID) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, req.SpecID)
	}

	logFile, err := os.OpenFile(filepath.Join(req.SpecDir, plan.OutputLogFileName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output log: %w", err)
	}
	fmt.Fprintf(logFile, "\n=== Agent run for %s ===\nStarted: %s\n\n", req.SpecID, r.now().Format(time.RFC3339))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	args := append([]string{"-p", buildPrompt(req), "--dangerously-skip-permissions"}, r.args...)
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	cmd := CommandContext(runCtx, r.command, args...)
	cmd.Dir = req.WorkDir
	cmd.WaitDelay = stopGrace

	out := &phaseWriter{
		underlying: logFile,
		onPhase: func(p phase.ExecutionPhase, message string) {
			r.logger.Debug("agent phase", "spec", req.SpecID, "phase", p, "message", message)
			if req.Events.OnPhase != nil {
				req.Events.OnPhase(req.SpecID, p, message)
			}
		},
	}
	cmd.Stdout = out
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		cancel()
		logFile.Close()
		return fmt.Errorf("failed to start %s: %w", r.command, err)
	}

	lock := plan.NewLock(req.SpecDir)
	if err := lock.Acquire(cmd.Process.Pid); err != nil {
		cancel()
		cmd.Wait()
		logFile.Close()
		return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
	}

	proc := &process{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.procs[req.SpecID] = proc
	r.mu.Unlock()

	r.logger.Info("agent started", "spec", req.SpecID, "pid", cmd.Process.Pid, "dir", req.WorkDir)

	// Cancelling the caller's context kills the agent like Stop does.
	stopOnCancel := context.AfterFunc(ctx, func() { r.Stop(req.SpecID) })

	go func() {
		waitErr := cmd.Wait()
		out.Flush()
		stopOnCancel()

		r.mu.Lock()
		stopped := proc.stopped
		delete(r.procs, req.SpecID)
		r.mu.Unlock()

		if err := lock.Release(); err != nil {
			r.logger.Warn("failed to release run lock", "spec", req.SpecID, "err", err)
		}
		result := "SUCCESS"
		switch {
		case stopped:
			waitErr = ErrStopped
			result = "STOPPED"
		case waitErr != nil:
			waitErr = fmt.Errorf("%s exited with error: %w", r.command, waitErr)
			result = "FAILED"
		}
		fmt.Fprintf(logFile, "\n=== %s: %s ===\n", req.SpecID, result)
		logFile.Close()
		cancel()

		r.logger.Info("agent exited", "spec", req.SpecID, "result", strings.ToLower(result))
		if req.Events.OnExit != nil {
			req.Events.OnExit(req.SpecID, waitErr)
		}
		close(proc.done)
	}()

	return nil
}

// Stop kills the agent of a task and waits for it to be reaped. A process
// started by an earlier orchestrator is signalled through its run lock.
func (r *ClaudeRunner) Stop(specID string) error {
	r.mu.Lock()
	proc, ok := r.procs[specID]
	if ok {
		proc.stopped = true
	}
	r.mu.Unlock()

	if ok {
		proc.cancel()
		select {
		case <-proc.done:
		case <-time.After(stopGrace + time.Second):
			return fmt.Errorf("agent for %s did not exit within %s", specID, stopGrace)
		}
		return nil
	}

	pid, err := r.lockFor(specID).PID()
	if err != nil || pid == 0 {
		return fmt.Errorf("%w: %s", ErrNotRunning, specID)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal agent %d: %w", pid, err)
	}
	r.logger.Info("signalled orphaned agent", "spec", specID, "pid", pid)
	return r.lockFor(specID).Release()
}

// IsRunning reports whether an agent is alive for specID, either started by
// this runner or recorded in a live run lock.
func (r *ClaudeRunner) IsRunning(specID string) bool {
	r.mu.Lock()
	_, ok := r.procs[specID]
	r.mu.Unlock()
	if ok {
		return true
	}
	if r.specsDir == "" {
		return false
	}
	locked, err := r.lockFor(specID).IsLocked()
	if err != nil {
		r.logger.Debug("could not read run lock", "spec", specID, "err", err)
		return false
	}
	return locked
}

func (r *ClaudeRunner) lockFor(specID string) *plan.Lock {
	return plan.NewLock(filepath.Join(r.specsDir, specID))
}

// buildPrompt constructs the prompt for the agent.
func buildPrompt(req StartRequest) string {
	var sb strings.Builder

	sb.WriteString("You are executing an autonomous coding task.\n\n")
	sb.WriteString("## Task\n")
	sb.WriteString(fmt.Sprintf("**ID**: %s\n", req.SpecID))
	sb.WriteString(fmt.Sprintf("**Title**: %s\n", req.Title))
	if req.Description != "" {
		sb.WriteString(fmt.Sprintf("**Description**: %s\n", req.Description))
	}
	sb.WriteString("\n")

	specDir := req.AgentSpecDir
	if specDir == "" {
		specDir = req.SpecDir
	}
	sb.WriteString("## Files\n")
	sb.WriteString(fmt.Sprintf("- Spec directory: %s\n", specDir))
	sb.WriteString(fmt.Sprintf("- Plan: %s\n", filepath.Join(specDir, plan.FileName)))
	sb.WriteString(fmt.Sprintf("- QA fix requests, if any: %s\n\n", filepath.Join(specDir, plan.QAFixRequestFileName)))

	if req.Resume {
		sb.WriteString("**Note**: This task was interrupted. Subtasks marked completed are done; ")
		sb.WriteString("resume from the first subtask that is not completed.\n\n")
	}

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. If the plan has no phases, write one with subtasks before coding\n")
	sb.WriteString("2. Implement the subtasks in order, updating each subtask status in the plan as you go\n")
	sb.WriteString("3. Review your work and write the verdict (APPROVED or REJECTED) to QA_REPORT.md in the spec directory\n")
	sb.WriteString("4. Commit your changes on the current branch\n\n")

	sb.WriteString("## Progress reporting\n")
	sb.WriteString("Whenever you move to a new phase, print a single line:\n")
	sb.WriteString(PhaseMarker + `{"phase":"<phase>","message":"<short note>"}` + "\n")
	sb.WriteString("Phases in order: planning, coding, qa_review, qa_fixing, complete. Print failed if you cannot finish.\n")

	return sb.String()
}
