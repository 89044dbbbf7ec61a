package specs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pablasso/autobuild/internal/logging"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/worktree"
)

// DefaultTTL is how long a scan result is served from cache.
const DefaultTTL = 3 * time.Second

// Options configures a Scanner.
type Options struct {
	TTL    time.Duration
	Merge  MergePolicy
	Logger *log.Logger
}

type cacheEntry struct {
	tasks   []task.Task
	scanned time.Time
}

// Scanner builds the task list of a project from disk and caches it per
// project for a short TTL. Mutations must call Invalidate before their effect
// is expected to be visible.
type Scanner struct {
	ttl    time.Duration
	merge  MergePolicy
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
	// generation is bumped on invalidation so a scan that raced with it is
	// not stored.
	generation map[string]uint64
}

// NewScanner returns a Scanner.
func NewScanner(opts Options) *Scanner {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	merge := opts.Merge
	if merge == nil {
		merge = PreferWorktree
	}
	return &Scanner{
		ttl:        ttl,
		merge:      merge,
		logger:     logging.Component(opts.Logger, "scanner"),
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
		generation: make(map[string]uint64),
	}
}

// WithClock replaces the clock used for cache expiry.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Invalidate drops the cached tasks of one project.
func (s *Scanner) Invalidate(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, projectID)
	s.generation[projectID]++
}

// GetTasks returns the tasks of a project sorted by spec id. forceRefresh
// bypasses the cache. The returned slice is a copy.
func (s *Scanner) GetTasks(ctx context.Context, p project.Project, forceRefresh bool) ([]task.Task, error) {
	s.mu.Lock()
	entry, ok := s.cache[p.ID]
	gen := s.generation[p.ID]
	fresh := ok && s.now().Sub(entry.scanned) < s.ttl
	s.mu.Unlock()

	if fresh && !forceRefresh {
		return cloneTasks(entry.tasks), nil
	}

	tasks, err := s.scan(ctx, p)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.generation[p.ID] == gen {
		s.cache[p.ID] = cacheEntry{tasks: tasks, scanned: s.now()}
	}
	s.mu.Unlock()

	return cloneTasks(tasks), nil
}

// FindTask returns one task of a project.
func (s *Scanner) FindTask(ctx context.Context, p project.Project, specID string) (task.Task, error) {
	tasks, err := s.GetTasks(ctx, p, false)
	if err != nil {
		return task.Task{}, err
	}
	for _, t := range tasks {
		if t.SpecID == specID {
			return t, nil
		}
	}
	return task.Task{}, fmt.Errorf("%w: %s", task.ErrTaskNotFound, specID)
}

func (s *Scanner) scan(ctx context.Context, p project.Project) ([]task.Task, error) {
	mainDirs, err := specDirs(Dir(p.Path, p.AutoBuildPath))
	if err != nil {
		return nil, err
	}
	worktreeDirs, err := s.worktreeSpecDirs(p)
	if err != nil {
		return nil, err
	}

	tasks := make([]task.Task, 0, len(mainDirs))
	seen := make(map[string]bool, len(mainDirs))
	for _, dir := range mainDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mainRec := LoadRecord(dir, task.LocationMain)
		seen[mainRec.SpecID] = true

		var wtRec *SpecRecord
		if wtDir, ok := worktreeDirs[mainRec.SpecID]; ok {
			r := LoadRecord(wtDir, task.LocationWorktree)
			wtRec = &r
		}

		winner, diverged := s.merge(mainRec, wtRec)
		if diverged {
			s.logger.Warn("plan copies disagree", "spec", mainRec.SpecID,
				"main", mainRec.rawStatus(), "worktree", wtRec.rawStatus())
		}
		if winner.MetadataErr != nil {
			s.logger.Warn("unreadable task metadata", "spec", winner.SpecID, "err", winner.MetadataErr)
		}
		switch {
		case winner.Plan.Corrupted():
			s.logger.Warn("corrupted plan", "spec", winner.SpecID, "path", winner.Dir, "err", winner.Plan.Err)
		case winner.Plan.Err != nil:
			s.logger.Warn("unreadable plan", "spec", winner.SpecID, "path", winner.Dir, "err", winner.Plan.Err)
		}

		t := BuildTask(p.ID, winner, mainRec)
		t.Diverged = diverged
		tasks = append(tasks, t)
	}

	for id := range worktreeDirs {
		if !seen[id] {
			s.logger.Debug("ignoring worktree-only spec", "spec", id)
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].SpecID < tasks[j].SpecID })
	return tasks, nil
}

// worktreeSpecDirs indexes spec directories found in any task worktree. The
// copy inside the worktree named after the spec wins over strays.
func (s *Scanner) worktreeSpecDirs(p project.Project) (map[string]string, error) {
	root := worktree.KindDir(p.Path, p.AutoBuildPath, worktree.KindTask)
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read worktrees directory: %w", err)
	}

	index := make(map[string]string)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs, err := specDirs(WorktreeDir(p.Path, p.AutoBuildPath, e.Name()))
		if err != nil {
			s.logger.Debug("skipping worktree specs", "worktree", e.Name(), "err", err)
			continue
		}
		for _, dir := range dirs {
			id := filepath.Base(dir)
			if _, taken := index[id]; !taken || id == e.Name() {
				index[id] = dir
			}
		}
	}
	return index, nil
}

// specDirs lists the spec directories under specsDir. A missing directory
// has no specs.
func specDirs(specsDir string) ([]string, error) {
	entries, err := os.ReadDir(specsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read specs directory %s: %w", specsDir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(specsDir, e.Name()))
		}
	}
	return dirs, nil
}

func cloneTasks(tasks []task.Task) []task.Task {
	out := make([]task.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
