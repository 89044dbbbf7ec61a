// Package tasks is the entry point for every task operation. A Service is
// built once by the CLI and owns the scanner cache, phase trackers and
// per-task serialization.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pablasso/autobuild/internal/executor"
	"github.com/pablasso/autobuild/internal/logging"
	"github.com/pablasso/autobuild/internal/phase"
	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/recovery"
	"github.com/pablasso/autobuild/internal/specs"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/worktree"
)

// ErrTaskRunning is returned for operations that need the agent stopped.
var ErrTaskRunning = errors.New("task is running; stop it first")

// Deps are the collaborators of a Service.
type Deps struct {
	Projects *project.Registry
	Scanner  *specs.Scanner
	// Worktrees and Runner build the per-project collaborators. Each is
	// called once per project and the result is reused.
	Worktrees func(project.Project) *worktree.Manager
	Runner    func(project.Project) executor.AgentRunner
	Preflight executor.Preflight
	Hooks     Hooks
	Logger    *log.Logger
	Now       func() time.Time
}

// Hooks observe agent activity after the service has handled it. Both are
// optional and run on the goroutine supervising the agent.
type Hooks struct {
	OnPhase func(projectID, specID string, res PhaseResult)
	OnExit  func(projectID, specID string, err error)
}

// Service runs task operations. Operations on the same task are serialized.
type Service struct {
	deps     Deps
	logger   *log.Logger
	now      func() time.Time
	recovery *recovery.Engine

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	trackers  map[string]*phase.Tracker
	runners   map[string]executor.AgentRunner
	worktrees map[string]*worktree.Manager
}

// NewService returns a Service.
func NewService(deps Deps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if deps.Scanner == nil {
		deps.Scanner = specs.NewScanner(specs.Options{Logger: deps.Logger})
	}
	s := &Service{
		deps:      deps,
		logger:    logging.Component(deps.Logger, "tasks"),
		now:       now,
		locks:     make(map[string]*sync.Mutex),
		trackers:  make(map[string]*phase.Tracker),
		runners:   make(map[string]executor.AgentRunner),
		worktrees: make(map[string]*worktree.Manager),
	}
	s.recovery = recovery.New(recovery.Deps{
		Scanner:   deps.Scanner,
		Runner:    s.runnerFor,
		Preflight: deps.Preflight,
		Restart: func(ctx context.Context, p project.Project, specID string) error {
			_, err := s.startLocked(ctx, p, specID)
			return err
		},
		Logger: deps.Logger,
		Now:    now,
	})
	return s
}

// Scanner returns the scanner whose cache the service invalidates.
func (s *Service) Scanner() *specs.Scanner {
	return s.deps.Scanner
}

func (s *Service) project(projectID string) (project.Project, error) {
	if s.deps.Projects == nil {
		return project.Project{}, fmt.Errorf("%w: %s", task.ErrProjectNotFound, projectID)
	}
	return s.deps.Projects.Get(projectID)
}

func taskKey(projectID, specID string) string {
	return projectID + "/" + specID
}

// lockTask serializes operations on one task and returns the unlock func.
func (s *Service) lockTask(projectID, specID string) func() {
	key := taskKey(projectID, specID)
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) tracker(projectID, specID string) *phase.Tracker {
	key := taskKey(projectID, specID)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[key]
	if !ok {
		t = phase.NewTracker()
		s.trackers[key] = t
	}
	return t
}

// resetTracker starts a fresh phase history for a new agent run, with done
// as the phases the plan shows were finished by earlier runs.
func (s *Service) resetTracker(projectID, specID string, done []phase.ExecutionPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[taskKey(projectID, specID)] = phase.NewTrackerFrom(phase.Idle, done)
}

func (s *Service) dropTracker(projectID, specID string) phase.ExecutionPhase {
	key := taskKey(projectID, specID)
	s.mu.Lock()
	defer s.mu.Unlock()
	current := phase.Idle
	if t, ok := s.trackers[key]; ok {
		current = t.Current()
	}
	delete(s.trackers, key)
	return current
}

func (s *Service) runnerFor(p project.Project) executor.AgentRunner {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[p.ID]
	if !ok {
		r = s.deps.Runner(p)
		s.runners[p.ID] = r
	}
	return r
}

func (s *Service) worktreesFor(p project.Project) *worktree.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.worktrees[p.ID]
	if !ok {
		m = s.deps.Worktrees(p)
		s.worktrees[p.ID] = m
	}
	return m
}

// ListTasks returns the tasks of a project.
func (s *Service) ListTasks(ctx context.Context, projectID string, forceRefresh bool) ([]task.Task, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	return s.deps.Scanner.GetTasks(ctx, p, forceRefresh)
}

// GetTask returns one task, read fresh from disk.
func (s *Service) GetTask(ctx context.Context, projectID, specID string) (task.Task, error) {
	p, err := s.project(projectID)
	if err != nil {
		return task.Task{}, err
	}
	return s.freshTask(ctx, p, specID)
}

func (s *Service) freshTask(ctx context.Context, p project.Project, specID string) (task.Task, error) {
	s.deps.Scanner.Invalidate(p.ID)
	return s.deps.Scanner.FindTask(ctx, p, specID)
}

// writeStatus persists status to every copy of the plan. The scanner cache
// is invalidated only when the primary copy was written.
func (s *Service) writeStatus(p project.Project, specID string, mutate func(*plan.Plan)) (plan.WriteReport, error) {
	copies, err := specs.Locate(p, specID)
	if err != nil {
		return plan.WriteReport{}, err
	}
	now := s.now()
	report := plan.WriteAll(copies.PlanPaths(), func(pl *plan.Plan) error {
		mutate(pl)
		pl.Touch(now)
		return nil
	})
	if !report.OK() {
		return report, report.Err()
	}
	if report.Diverged() {
		s.logger.Warn("plan copies diverged", "spec", specID, "err", report.Err())
	}
	s.deps.Scanner.Invalidate(p.ID)
	return report, nil
}

// events returns the event log of the main spec copy.
func (s *Service) events(p project.Project, specID string) *plan.EventLog {
	return plan.NewEventLog(specDir(p, specID))
}

func (s *Service) logEvent(specID string, err error) {
	if err != nil {
		s.logger.Debug("failed to write event log", "spec", specID, "err", err)
	}
}

// IsRunning reports whether an agent is alive for a task.
func (s *Service) IsRunning(projectID, specID string) bool {
	p, err := s.project(projectID)
	if err != nil {
		return false
	}
	return s.runnerFor(p).IsRunning(specID)
}
