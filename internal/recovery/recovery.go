// Package recovery repairs tasks whose status claims an agent is working
// when none is, using only the subtask evidence in their plans.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pablasso/autobuild/internal/executor"
	"github.com/pablasso/autobuild/internal/logging"
	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/specs"
	"github.com/pablasso/autobuild/internal/task"
)

// ErrProcessAlive is returned when the task still has a live agent.
var ErrProcessAlive = errors.New("agent process is still running; task is not stuck")

// DefaultReason is recorded on the recovery note when the caller gives none.
const DefaultReason = "agent process exited without finishing"

// Options controls a recovery.
type Options struct {
	// TargetStatus overrides the status computed from subtask evidence.
	TargetStatus task.Status
	// AutoRestart starts the agent again once the plan is repaired.
	AutoRestart bool
	Reason      string
}

// Result is the outcome of a recovery.
type Result struct {
	Status        task.Status
	Recovered     bool
	AutoRestarted bool
	// RestartErr is set when AutoRestart was requested and failed. The
	// recovery itself still stands.
	RestartErr    error
	ResetSubtasks []string
	Report        plan.WriteReport
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Scanner   *specs.Scanner
	Runner    func(project.Project) executor.AgentRunner
	Preflight executor.Preflight
	// Restart starts the agent for a recovered task.
	Restart func(ctx context.Context, p project.Project, specID string) error
	Logger  *log.Logger
	Now     func() time.Time
}

// Engine recovers stuck tasks.
type Engine struct {
	deps   Deps
	logger *log.Logger
	now    func() time.Time
}

// New returns an Engine.
func New(deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{deps: deps, logger: logging.Component(deps.Logger, "recovery"), now: now}
}

// Recover repairs specID. Completed subtasks are never touched; when all of
// them are completed the task goes to human review without any subtask
// change. Every copy of the plan is written before the scanner cache is
// invalidated.
func (e *Engine) Recover(ctx context.Context, p project.Project, specID string, opts Options) (Result, error) {
	if e.deps.Runner != nil && e.deps.Runner(p).IsRunning(specID) {
		return Result{}, fmt.Errorf("%w: %s", ErrProcessAlive, specID)
	}
	if opts.TargetStatus != "" && !opts.TargetStatus.IsValid() {
		return Result{}, fmt.Errorf("invalid target status %q", opts.TargetStatus)
	}

	copies, err := specs.Locate(p, specID)
	if err != nil {
		return Result{}, err
	}
	paths := copies.PlanPaths()
	loaded := plan.Load(paths[0])
	switch {
	case loaded.Missing:
		return Result{}, fmt.Errorf("%w: %s", plan.ErrMissing, paths[0])
	case loaded.Err != nil:
		return Result{}, fmt.Errorf("cannot recover %s: %w", specID, loaded.Err)
	}

	current := loaded.Plan
	counts := current.Counts()
	previous := current.Status

	var (
		status task.Status
		reset  []string
	)
	if counts.AllCompleted() {
		status = task.StatusHumanReview
	} else {
		current.EachSubtask(func(s *plan.Subtask) {
			if s.Status.Resettable() {
				reset = append(reset, string(s.ID))
			}
		})
		status = task.StatusBacklog
		if counts.Completed > 0 || counts.InProgress > 0 {
			status = task.StatusInProgress
		}
	}
	if opts.TargetStatus != "" {
		status = opts.TargetStatus
	}

	reason := opts.Reason
	if reason == "" {
		reason = DefaultReason
	}
	now := e.now()
	note := &plan.RecoveryNote{
		ID:             uuid.NewString(),
		RecoveredAt:    plan.NewTimestamp(now),
		PreviousStatus: previous,
		ResetSubtasks:  reset,
		Reason:         reason,
	}
	allCompleted := counts.AllCompleted()

	report := plan.WriteAll(paths, func(pl *plan.Plan) error {
		if !allCompleted {
			pl.EachSubtask(func(s *plan.Subtask) {
				if s.Status.Resettable() {
					s.Reset()
				}
			})
		}
		pl.Status = string(status)
		pl.ExecutionPhase = ""
		pl.RecoveryNote = note
		pl.Touch(now)
		return nil
	})
	result := Result{Status: status, ResetSubtasks: reset, Report: report}
	if !report.OK() {
		e.logger.Error("recovery write failed", "spec", specID, "err", report.Err())
		return result, report.Err()
	}
	if report.Diverged() {
		e.logger.Warn("recovery did not reach every plan copy", "spec", specID, "err", report.Err())
	}
	result.Recovered = true

	if e.deps.Scanner != nil {
		e.deps.Scanner.Invalidate(p.ID)
	}
	if err := plan.NewEventLog(copies.Main).TaskRecovered(previous, string(status), reset); err != nil {
		e.logger.Debug("failed to record recovery event", "spec", specID, "err", err)
	}
	e.logger.Info("task recovered", "spec", specID, "from", previous, "to", status, "reset", len(reset))

	if opts.AutoRestart {
		if err := e.restart(ctx, p, specID); err != nil {
			e.logger.Warn("auto restart failed", "spec", specID, "err", err)
			result.RestartErr = err
		} else {
			result.AutoRestarted = true
			result.Status = task.StatusInProgress
		}
	}
	return result, nil
}

func (e *Engine) restart(ctx context.Context, p project.Project, specID string) error {
	if e.deps.Restart == nil {
		return errors.New("restart is not configured")
	}
	if e.deps.Preflight != nil {
		if err := e.deps.Preflight(ctx, p.Path); err != nil {
			return err
		}
	}
	return e.deps.Restart(ctx, p, specID)
}

// DetectStuck returns the tasks whose status implies a running agent while
// none is alive. Archived tasks are ignored.
func (e *Engine) DetectStuck(ctx context.Context, p project.Project) ([]task.Task, error) {
	if e.deps.Scanner == nil || e.deps.Runner == nil {
		return nil, errors.New("stuck detection needs a scanner and a runner")
	}
	tasks, err := e.deps.Scanner.GetTasks(ctx, p, true)
	if err != nil {
		return nil, err
	}
	runner := e.deps.Runner(p)
	var stuck []task.Task
	for _, t := range tasks {
		if t.Archived || !t.Status.IsActive() {
			continue
		}
		if !runner.IsRunning(t.SpecID) {
			stuck = append(stuck, t)
		}
	}
	return stuck, nil
}
