package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pablasso/autobuild/internal/executor"
	"github.com/pablasso/autobuild/internal/phase"
	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/recovery"
	"github.com/pablasso/autobuild/internal/specs"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/worktree"
)

// Files that belong to one spec copy and are never copied into a worktree.
var localOnlyFiles = map[string]bool{
	plan.LockFileName:      true,
	plan.OutputLogFileName: true,
	plan.EventLogFileName:  true,
}

// StartResult reports where a task was started.
type StartResult struct {
	WorktreePath    string
	BranchName      string
	CreatedWorktree bool
}

// StartTask isolates a task in its worktree and starts the agent there.
func (s *Service) StartTask(ctx context.Context, projectID, specID string) (StartResult, error) {
	p, err := s.project(projectID)
	if err != nil {
		return StartResult{}, err
	}
	unlock := s.lockTask(projectID, specID)
	defer unlock()

	if s.deps.Preflight != nil {
		if err := s.deps.Preflight(ctx, p.Path); err != nil {
			return StartResult{}, err
		}
	}
	return s.startLocked(ctx, p, specID)
}

// startLocked expects the task lock to be held and preflight to have run.
func (s *Service) startLocked(ctx context.Context, p project.Project, specID string) (StartResult, error) {
	runner := s.runnerFor(p)
	if runner.IsRunning(specID) {
		return StartResult{}, fmt.Errorf("%w: %s", executor.ErrAlreadyRunning, specID)
	}

	copies, err := specs.Locate(p, specID)
	if err != nil {
		return StartResult{}, err
	}
	meta, err := plan.LoadMetadata(copies.Main)
	if err != nil {
		return StartResult{}, err
	}
	current, err := s.freshTask(ctx, p, specID)
	if err != nil {
		return StartResult{}, err
	}
	if current.Corrupted {
		return StartResult{}, fmt.Errorf("cannot start %s: %w", specID, plan.ErrCorrupted)
	}

	var result StartResult
	wm := s.worktreesFor(p)
	var cfg *worktree.Config
	if wm.Exists(worktree.KindTask, specID) {
		cfg, err = wm.Get(worktree.KindTask, specID)
		if errors.Is(err, worktree.ErrNotFound) {
			// Checked out by hand or its record was lost; git still knows the branch.
			cfg = &worktree.Config{
				Name:         specID,
				WorktreePath: wm.PathFor(worktree.KindTask, specID),
				BranchName:   worktree.BranchFor(worktree.KindTask, specID, true),
			}
		} else if err != nil {
			return result, err
		}
	} else {
		if _, err := wm.Get(worktree.KindTask, specID); err == nil {
			s.logger.Info("dropping stale worktree record", "spec", specID)
			if _, err := wm.Remove(ctx, worktree.KindTask, specID, false); err != nil {
				return result, err
			}
		}
		cfg, err = wm.Create(ctx, worktree.CreateRequest{
			Name:       specID,
			Kind:       worktree.KindTask,
			TaskID:     specID,
			BaseBranch: meta.BaseBranch,
		})
		if err != nil {
			return result, err
		}
		result.CreatedWorktree = true
	}
	result.WorktreePath = cfg.WorktreePath
	result.BranchName = cfg.BranchName

	agentSpecDir := filepath.Join(specs.WorktreeDir(p.Path, p.AutoBuildPath, specID), specID)
	if !isDir(agentSpecDir) {
		if err := copyDir(copies.Main, agentSpecDir); err != nil {
			return result, fmt.Errorf("failed to copy spec into worktree: %w", err)
		}
	}

	// Read before the status write clears executionPhase.
	var done []phase.ExecutionPhase
	if loaded := plan.Load(copies.PlanPaths()[0]); loaded.OK() {
		done = finishedPhases(loaded.Plan)
	}

	previous := current.Status
	if _, err := s.writeStatus(p, specID, func(pl *plan.Plan) {
		pl.Status = string(task.StatusInProgress)
		pl.ExecutionPhase = ""
		pl.PlanStatus = ""
	}); err != nil {
		return result, err
	}
	s.resetTracker(p.ID, specID, done)

	projectID := p.ID
	err = runner.Start(ctx, executor.StartRequest{
		SpecID:       specID,
		SpecDir:      copies.Main,
		WorkDir:      result.WorktreePath,
		AgentSpecDir: agentSpecDir,
		Title:        current.Title,
		Description:  current.Description,
		Model:        meta.Model,
		Resume:       countCompleted(current.Subtasks) > 0,
		Events: executor.Events{
			OnPhase: func(specID string, next phase.ExecutionPhase, message string) {
				s.HandlePhase(projectID, specID, next, message)
			},
			OnExit: func(specID string, err error) {
				s.HandleExit(projectID, specID, err)
			},
		},
	})
	if err != nil {
		if relocated, lerr := specs.Locate(p, specID); lerr == nil {
			copies = relocated
		}
		if _, report := plan.PersistStatusAll(copies.PlanPaths(), previous, s.now()); !report.OK() {
			s.logger.Warn("failed to restore status after start failure", "spec", specID, "err", report.Err())
		}
		s.deps.Scanner.Invalidate(p.ID)
		return result, err
	}

	s.logEvent(specID, s.events(p, specID).Log(plan.EventTaskStarted, map[string]any{
		"worktree": result.WorktreePath,
		"branch":   result.BranchName,
		"created":  result.CreatedWorktree,
	}))
	s.logger.Info("task started", "spec", specID, "worktree", result.WorktreePath)
	return result, nil
}

// finishedPhases infers from a plan which phases earlier runs got through.
// Subtasks only exist once planning finished; coding is over once every
// subtask is done or the agent has reported QA.
func finishedPhases(pl *plan.Plan) []phase.ExecutionPhase {
	counts := pl.Counts()
	if counts.Total == 0 {
		return nil
	}
	done := []phase.ExecutionPhase{phase.Planning}
	last, ok := phase.Parse(pl.ExecutionPhase)
	if counts.AllCompleted() || (ok && phase.Rank(last) >= phase.Rank(phase.QAReview)) {
		done = append(done, phase.Coding)
	}
	return done
}

func countCompleted(subtasks []task.Subtask) int {
	n := 0
	for _, st := range subtasks {
		if st.Status == string(plan.SubtaskCompleted) {
			n++
		}
	}
	return n
}

// StopResult reports the status a stopped task was left in.
type StopResult struct {
	// Status is reported before it reaches disk.
	Status task.Status
	// Done receives the outcome of the deferred plan write and is then
	// closed.
	Done <-chan error
}

// StopTask kills the agent and parks the task: in human review when
// planning produced subtasks, otherwise back in the backlog. The status is
// returned at once and written in the background; a crash before the write
// lands leaves the task for recovery.
func (s *Service) StopTask(ctx context.Context, projectID, specID string) (StopResult, error) {
	p, err := s.project(projectID)
	if err != nil {
		return StopResult{}, err
	}
	// The runner reports the exit before Stop returns, so the task lock
	// must not be held here.
	if err := s.runnerFor(p).Stop(specID); err != nil {
		return StopResult{}, err
	}

	current, err := s.freshTask(ctx, p, specID)
	if err != nil {
		return StopResult{}, err
	}
	status := task.StatusBacklog
	if len(current.Subtasks) > 0 {
		status = task.StatusHumanReview
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- s.parkStopped(p, specID, status)
	}()
	return StopResult{Status: status, Done: done}, nil
}

func (s *Service) parkStopped(p project.Project, specID string, status task.Status) error {
	unlock := s.lockTask(p.ID, specID)
	defer unlock()

	// Restarted before the write landed.
	if s.runnerFor(p).IsRunning(specID) {
		return nil
	}
	if _, err := s.writeStatus(p, specID, func(pl *plan.Plan) {
		pl.Status = string(status)
		pl.ExecutionPhase = ""
	}); err != nil {
		s.logger.Error("failed to persist stopped status", "spec", specID, "status", status, "err", err)
		return err
	}
	last := s.dropTracker(p.ID, specID)

	s.logEvent(specID, s.events(p, specID).Log(plan.EventTaskStopped, map[string]any{
		"phase":  string(last),
		"status": string(status),
	}))
	s.logger.Info("task stopped", "spec", specID, "status", status)
	return nil
}

// PhaseResult is the outcome of one phase report from the agent.
type PhaseResult struct {
	Decision phase.Decision
	Phase    phase.ExecutionPhase
	Status   task.Status
	Applied  bool
	// Warning is set when the phase change was rejected. Rejections never
	// stop the agent.
	Warning string
	Report  plan.WriteReport
}

// HandlePhase validates a phase reported by the agent and persists the
// status it projects to every copy of the plan.
func (s *Service) HandlePhase(projectID, specID string, next phase.ExecutionPhase, message string) PhaseResult {
	res := s.handlePhase(projectID, specID, next, message)
	if s.deps.Hooks.OnPhase != nil {
		s.deps.Hooks.OnPhase(projectID, specID, res)
	}
	return res
}

func (s *Service) handlePhase(projectID, specID string, next phase.ExecutionPhase, message string) PhaseResult {
	p, err := s.project(projectID)
	if err != nil {
		s.logger.Warn("phase for unknown project", "project", projectID, "spec", specID)
		return PhaseResult{Warning: err.Error()}
	}
	unlock := s.lockTask(projectID, specID)
	defer unlock()

	tracker := s.tracker(projectID, specID)
	from := tracker.Current()
	events := s.events(p, specID)

	reject := func(d phase.Decision) PhaseResult {
		s.logger.Warn("phase transition rejected", "spec", specID, "from", from, "to", next,
			"reason", d.Reason, "detail", d.Detail, "completed", tracker.Completed())
		s.logEvent(specID, events.TransitionRejected(string(from), string(next), string(d.Reason), d.Detail))
		return PhaseResult{Decision: d, Warning: d.Err().Error()}
	}

	if next == phase.Complete || next == phase.Failed {
		// Terminal phases need a plan with subtasks before they can end up
		// in human review.
		count := 0
		if copies, err := specs.Locate(p, specID); err == nil {
			if res := plan.Load(copies.PlanPaths()[0]); res.OK() {
				count = res.Plan.Counts().Total
			}
		}
		if projected, ok := phase.StatusFor(next); ok {
			if d := phase.CanSetStatus(projected, count); !d.Allowed {
				return reject(d)
			}
		}
	}

	d, status, ok := tracker.Apply(next)
	if !d.Allowed {
		return reject(d)
	}
	s.logEvent(specID, events.PhaseChanged(string(from), string(next), message))

	result := PhaseResult{Decision: d, Phase: next, Applied: true}
	if !ok {
		return result
	}
	report, err := s.writeStatus(p, specID, func(pl *plan.Plan) {
		pl.Status = string(status)
		pl.ExecutionPhase = string(next)
	})
	result.Report = report
	if err != nil {
		s.logger.Error("failed to persist phase status", "spec", specID, "phase", next, "err", err)
		result.Warning = err.Error()
		return result
	}
	result.Status = status
	return result
}

// HandleExit settles the status of a task whose agent exited on its own.
func (s *Service) HandleExit(projectID, specID string, exitErr error) {
	if s.deps.Hooks.OnExit != nil {
		defer s.deps.Hooks.OnExit(projectID, specID, exitErr)
	}
	if errors.Is(exitErr, executor.ErrStopped) {
		return
	}
	p, err := s.project(projectID)
	if err != nil {
		return
	}
	unlock := s.lockTask(projectID, specID)
	defer unlock()

	last := s.dropTracker(projectID, specID)
	if phase.IsTerminal(last) {
		return
	}

	copies, err := specs.Locate(p, specID)
	if err != nil {
		s.logger.Warn("exited task disappeared", "spec", specID, "err", err)
		return
	}
	loaded := plan.Load(copies.PlanPaths()[0])
	if !loaded.OK() {
		s.logger.Warn("cannot settle exited task", "spec", specID, "err", loaded.Err)
		return
	}
	counts := loaded.Plan.Counts()

	var status task.Status
	failRunning := false
	switch {
	case counts.Total == 0:
		// Planning never produced subtasks, whatever the exit code.
		status = task.StatusError
	case exitErr != nil:
		status, failRunning = task.StatusHumanReview, true
	case counts.AllCompleted():
		// The agent runs its own QA pass before exiting, so nothing is left
		// for an AI review to do.
		status = task.StatusHumanReview
	case counts.Failed > 0:
		status = task.StatusHumanReview
	default:
		// A clean exit with work left is what recovery is for.
		s.logger.Info("agent exited with work remaining", "spec", specID, "pending", counts.Pending, "in_progress", counts.InProgress)
		return
	}

	now := s.now()
	if _, err := s.writeStatus(p, specID, func(pl *plan.Plan) {
		if failRunning {
			pl.EachSubtask(func(st *plan.Subtask) {
				if st.Status == plan.SubtaskInProgress {
					st.Status = plan.SubtaskFailed
					st.CompletedAt = plan.NewTimestamp(now)
				}
			})
		}
		pl.Status = string(status)
		pl.ExecutionPhase = ""
	}); err != nil {
		s.logger.Error("failed to settle exited task", "spec", specID, "err", err)
		return
	}
	reason := "agent exited"
	if exitErr != nil {
		reason = exitErr.Error()
	}
	s.logEvent(specID, s.events(p, specID).StatusChanged(string(loaded.Plan.Status), string(status), reason))
}

// Recover repairs a stuck task.
func (s *Service) Recover(ctx context.Context, projectID, specID string, opts recovery.Options) (recovery.Result, error) {
	p, err := s.project(projectID)
	if err != nil {
		return recovery.Result{}, err
	}
	unlock := s.lockTask(projectID, specID)
	defer unlock()

	result, err := s.recovery.Recover(ctx, p, specID, opts)
	if err == nil && !result.AutoRestarted {
		s.dropTracker(projectID, specID)
	}
	return result, err
}

// DetectStuck lists tasks that claim an agent is working when none is.
func (s *Service) DetectStuck(ctx context.Context, projectID string) ([]task.Task, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	return s.recovery.DetectStuck(ctx, p)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// copyDir copies the regular files of src into dst, skipping files local
// to one copy.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() || localOnlyFiles[d.Name()] {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
