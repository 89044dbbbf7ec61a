package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pablasso/autobuild/internal/phase"
	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/specs"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/worktree"
)

// UpdateOptions controls UpdateStatus.
type UpdateOptions struct {
	// ForceCleanup removes the task worktree and branch before marking the
	// task done.
	ForceCleanup bool
	Reason       string
}

// UpdateResult reports what UpdateStatus did.
type UpdateResult struct {
	Status  task.Status
	Updated bool
	// WorktreeExists is set when the update was refused because the task
	// still has a worktree.
	WorktreeExists  bool
	WorktreePath    string
	WorktreeRemoved bool
	BranchDeleted   bool
	Report          plan.WriteReport
	// RestartErr is set when a rejected task could not be handed back to
	// the agent. The feedback stays on disk for the next start.
	RestartErr error
}

// UpdateStatus sets the status of a task on every copy of its plan.
// Marking a task done while its worktree exists is refused unless
// ForceCleanup is set.
func (s *Service) UpdateStatus(ctx context.Context, projectID, specID string, status task.Status, opts UpdateOptions) (UpdateResult, error) {
	if !status.IsValid() {
		return UpdateResult{}, fmt.Errorf("invalid status %q", status)
	}
	p, err := s.project(projectID)
	if err != nil {
		return UpdateResult{}, err
	}

	unlock := s.lockTask(projectID, specID)
	defer unlock()
	return s.updateStatusLocked(ctx, p, specID, status, opts)
}

func (s *Service) updateStatusLocked(ctx context.Context, p project.Project, specID string, status task.Status, opts UpdateOptions) (UpdateResult, error) {
	current, err := s.freshTask(ctx, p, specID)
	if err != nil {
		return UpdateResult{}, err
	}
	if d := phase.CanSetStatus(status, len(current.Subtasks)); !d.Allowed {
		return UpdateResult{Status: current.Status}, d.Err()
	}

	result := UpdateResult{Status: current.Status}
	if status == task.StatusDone {
		wm := s.worktreesFor(p)
		if wm.Exists(worktree.KindTask, specID) {
			result.WorktreePath = wm.PathFor(worktree.KindTask, specID)
			if !opts.ForceCleanup {
				result.WorktreeExists = true
				return result, nil
			}
			if s.runnerFor(p).IsRunning(specID) {
				return result, fmt.Errorf("%w: %s", ErrTaskRunning, specID)
			}
			removed, err := wm.Remove(ctx, worktree.KindTask, specID, true)
			if err != nil {
				return result, fmt.Errorf("failed to clean up worktree: %w", err)
			}
			result.WorktreeRemoved = removed.Removed
			result.BranchDeleted = removed.BranchDeleted
			s.logEvent(specID, s.events(p, specID).Log(plan.EventWorktreeRemoved, map[string]any{
				"path":           removed.Path,
				"branch":         removed.Branch,
				"branch_deleted": removed.BranchDeleted,
			}))
		}
	}

	report, err := s.writeStatus(p, specID, func(pl *plan.Plan) {
		pl.Status = string(status)
		pl.ExecutionPhase = ""
	})
	result.Report = report
	if err != nil {
		return result, err
	}
	result.Status = status
	result.Updated = true

	reason := opts.Reason
	if reason == "" {
		reason = "user"
	}
	s.logEvent(specID, s.events(p, specID).StatusChanged(string(current.Status), string(status), reason))
	s.logger.Info("status updated", "spec", specID, "from", current.Status, "to", status)
	return result, nil
}

// Review is the user's verdict on finished work.
type Review struct {
	Approved bool
	Feedback string
	// ForceCleanup is passed through to UpdateStatus on approval.
	ForceCleanup bool
	// Restart starts the agent on the feedback right away. Without it the
	// task stays in review until the next start.
	Restart bool
}

// ReviewTask records the user's verdict on a task waiting for review.
// Approval marks it done. Rejection leaves feedback for the agent and, with
// Restart, starts it again so the task is only in_progress while an agent
// is working on the fixes.
func (s *Service) ReviewTask(ctx context.Context, projectID, specID string, review Review) (UpdateResult, error) {
	if review.Approved {
		return s.UpdateStatus(ctx, projectID, specID, task.StatusDone, UpdateOptions{ForceCleanup: review.ForceCleanup, Reason: "approved"})
	}

	p, err := s.project(projectID)
	if err != nil {
		return UpdateResult{}, err
	}
	unlock := s.lockTask(projectID, specID)
	defer unlock()

	current, err := s.freshTask(ctx, p, specID)
	if err != nil {
		return UpdateResult{}, err
	}
	if current.Status != task.StatusHumanReview && current.Status != task.StatusAIReview {
		return UpdateResult{Status: current.Status}, fmt.Errorf("task %s is %s, not waiting for review", specID, current.Status)
	}

	copies, err := specs.Locate(p, specID)
	if err != nil {
		return UpdateResult{}, err
	}
	for _, dir := range copies.Dirs() {
		if err := plan.WriteQAFixRequest(dir, review.Feedback, s.now()); err != nil {
			return UpdateResult{Status: current.Status}, fmt.Errorf("failed to write fix request: %w", err)
		}
	}
	s.logger.Info("review rejected", "spec", specID, "restart", review.Restart)

	result := UpdateResult{Status: current.Status}
	if !review.Restart {
		return result, nil
	}
	if s.deps.Preflight != nil {
		if err := s.deps.Preflight(ctx, p.Path); err != nil {
			result.RestartErr = err
			return result, nil
		}
	}
	if _, err := s.startLocked(ctx, p, specID); err != nil {
		s.logger.Warn("restart after rejection failed", "spec", specID, "err", err)
		result.RestartErr = err
		return result, nil
	}
	result.Status = task.StatusInProgress
	result.Updated = true
	s.logEvent(specID, s.events(p, specID).StatusChanged(string(current.Status), string(task.StatusInProgress), "rejected"))
	return result, nil
}

// ArchiveTask hides a task from the default task list.
func (s *Service) ArchiveTask(ctx context.Context, projectID, specID string) error {
	now := s.now()
	return s.setArchived(projectID, specID, &now)
}

// UnarchiveTask restores an archived task.
func (s *Service) UnarchiveTask(ctx context.Context, projectID, specID string) error {
	return s.setArchived(projectID, specID, nil)
}

func (s *Service) setArchived(projectID, specID string, at *time.Time) error {
	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	unlock := s.lockTask(projectID, specID)
	defer unlock()

	copies, err := specs.Locate(p, specID)
	if err != nil {
		return err
	}
	// The main copy decides archival; worktree copies follow best-effort.
	for i, dir := range []string{copies.Main, copies.Worktree} {
		if dir == "" {
			continue
		}
		m, err := plan.LoadMetadata(dir)
		if err == nil {
			m.ArchivedAt = at
			err = plan.SaveMetadata(dir, m)
		}
		if err != nil {
			if i == 0 {
				return err
			}
			s.logger.Warn("failed to update worktree metadata", "spec", specID, "err", err)
		}
	}
	s.deps.Scanner.Invalidate(p.ID)
	return nil
}

// DeleteResult reports what DeleteTask removed.
type DeleteResult struct {
	WorktreeRemoved bool
	BranchDeleted   bool
	RemovedDirs     []string
}

// DeleteTask removes the task worktree, its branch and every spec copy.
func (s *Service) DeleteTask(ctx context.Context, projectID, specID string) (DeleteResult, error) {
	p, err := s.project(projectID)
	if err != nil {
		return DeleteResult{}, err
	}
	unlock := s.lockTask(projectID, specID)
	defer unlock()

	if s.runnerFor(p).IsRunning(specID) {
		return DeleteResult{}, fmt.Errorf("%w: %s", ErrTaskRunning, specID)
	}
	copies, err := specs.Locate(p, specID)
	if err != nil {
		return DeleteResult{}, err
	}

	var result DeleteResult
	removed, err := s.worktreesFor(p).Remove(ctx, worktree.KindTask, specID, true)
	switch {
	case err == nil:
		result.WorktreeRemoved = removed.Removed
		result.BranchDeleted = removed.BranchDeleted
	case errors.Is(err, worktree.ErrNotFound):
	default:
		return result, fmt.Errorf("failed to remove worktree: %w", err)
	}

	for _, dir := range []string{copies.Worktree, copies.Main} {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.deps.Scanner.Invalidate(p.ID)
			return result, fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		result.RemovedDirs = append(result.RemovedDirs, dir)
	}

	s.dropTracker(projectID, specID)
	s.deps.Scanner.Invalidate(p.ID)
	s.logger.Info("task deleted", "spec", specID)
	return result, nil
}
