// Package worktree creates and tears down the git worktrees that isolate
// each task (and each ad-hoc terminal session) from the main checkout.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pablasso/autobuild/internal/git"
	"github.com/pablasso/autobuild/internal/logging"
	"github.com/pablasso/autobuild/internal/task"
)

// Options configures a Manager.
type Options struct {
	ProjectDir   string
	AutoBuildDir string

	// MainBranch is the project's configured base branch.
	MainBranch string
	// DefaultBranch comes from the environment or config files.
	DefaultBranch string

	SymlinkDirs []string
	GitTimeout  time.Duration
	Logger      *log.Logger
	Now         func() time.Time
}

// Manager owns the worktrees of one project.
type Manager struct {
	projectDir    string
	root          string
	mainBranch    string
	defaultBranch string
	symlinkDirs   []string
	repo          *git.Repo
	meta          *metaStore
	logger        *log.Logger
	now           func() time.Time

	mu sync.Mutex
}

// Root returns the directory holding every worktree of a project.
func Root(projectDir, autoBuildDir string) string {
	return filepath.Join(projectDir, autoBuildDir, "worktrees")
}

// KindDir returns the directory holding worktrees of one kind.
func KindDir(projectDir, autoBuildDir string, kind Kind) string {
	return filepath.Join(Root(projectDir, autoBuildDir), kind.dirName())
}

// NewManager returns a Manager for a project.
func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	root := Root(opts.ProjectDir, opts.AutoBuildDir)
	return &Manager{
		projectDir:    opts.ProjectDir,
		root:          root,
		mainBranch:    opts.MainBranch,
		defaultBranch: opts.DefaultBranch,
		symlinkDirs:   opts.SymlinkDirs,
		repo:          git.New(opts.ProjectDir, opts.GitTimeout),
		meta:          &metaStore{dir: filepath.Join(root, metaDirName)},
		logger:        logging.Component(opts.Logger, "worktree"),
		now:           now,
	}
}

// PathFor returns where a worktree lives, whether or not it exists.
func (m *Manager) PathFor(kind Kind, name string) string {
	return filepath.Join(m.root, kind.dirName(), name)
}

// Exists reports whether the worktree directory is present.
func (m *Manager) Exists(kind Kind, name string) bool {
	info, err := os.Stat(m.PathFor(kind, name))
	return err == nil && info.IsDir()
}

// CreateRequest describes a new worktree.
type CreateRequest struct {
	// Name is the spec id for task worktrees. Terminal worktrees get a
	// generated name when it is empty.
	Name       string
	Kind       Kind
	TaskID     string
	TerminalID string
	// BaseBranch overrides every other base branch source.
	BaseBranch string
	// CreateBranch gives terminal worktrees their own branch instead of a
	// detached checkout. Task worktrees always get a branch.
	CreateBranch bool
}

// Create checks out a new worktree and records its metadata.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Config, error) {
	if req.Kind == "" {
		req.Kind = KindTask
	}
	if req.Name == "" && req.Kind == KindTerminal {
		req.Name = "term-" + uuid.NewString()[:8]
	}
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.HealBareRepository(ctx); err != nil {
		return nil, err
	}
	if err := m.checkRepository(ctx); err != nil {
		return nil, err
	}

	path := m.PathFor(req.Kind, req.Name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	if m.meta.exists(req.Kind, req.Name) {
		return nil, fmt.Errorf("%w: metadata for %s %q", ErrAlreadyExists, req.Kind, req.Name)
	}

	base, err := m.resolveBaseBranch(ctx, req.BaseBranch)
	if err != nil {
		return nil, err
	}
	startPoint, err := m.resolveStartPoint(ctx, base)
	if err != nil {
		return nil, err
	}

	branch := BranchFor(req.Kind, req.Name, req.CreateBranch)
	addOpts := git.WorktreeAddOptions{StartPoint: startPoint}
	switch {
	case branch == "":
		addOpts.Detach = true
	case m.repo.BranchExists(ctx, branch):
		// A branch left behind by an earlier worktree keeps its commits.
		addOpts.StartPoint = branch
		m.logger.Info("reusing existing branch", "branch", branch)
	default:
		addOpts.NewBranch = branch
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktree directory: %w", err)
	}
	if err := m.repo.WorktreeAdd(ctx, path, addOpts); err != nil {
		m.cleanupFailedCreate(ctx, path)
		return nil, fmt.Errorf("failed to create worktree %s: %w", req.Name, err)
	}

	if linked := m.linkDependencies(path); len(linked) > 0 {
		m.logger.Debug("linked dependency directories", "name", req.Name, "dirs", linked)
	}

	cfg := &Config{
		Name:         req.Name,
		Kind:         req.Kind,
		WorktreePath: path,
		BranchName:   branch,
		BaseBranch:   base,
		HasGitBranch: branch != "",
		TaskID:       req.TaskID,
		TerminalID:   req.TerminalID,
		CreatedAt:    m.now(),
	}
	if req.Kind == KindTask && cfg.TaskID == "" {
		cfg.TaskID = req.Name
	}
	if err := m.meta.save(cfg); err != nil {
		if rmErr := m.repo.WorktreeRemove(ctx, path, true); rmErr != nil {
			m.logger.Debug("worktree remove after metadata failure", "error", rmErr)
		}
		m.cleanupFailedCreate(ctx, path)
		return nil, err
	}

	m.logger.Info("worktree created", "kind", req.Kind, "name", req.Name, "branch", branch, "base", startPoint)
	return cfg, nil
}

// checkRepository requires a git repository with at least one commit.
func (m *Manager) checkRepository(ctx context.Context) error {
	if !m.repo.IsRepo(ctx) {
		return &task.RemediationError{
			Kind:    task.KindRepositoryNotReady,
			Check:   "Git repository",
			Message: "Not a git repository.",
			Help:    "Run 'git init' in " + m.projectDir + " first.",
		}
	}
	if !m.repo.HasCommits(ctx) {
		return &task.RemediationError{
			Kind:    task.KindRepositoryNotReady,
			Check:   "Git history",
			Message: "The repository has no commits yet.",
			Help:    "Create an initial commit: git add -A && git commit -m 'Initial commit'",
		}
	}
	return nil
}

// resolveBaseBranch picks the branch a new worktree is cut from: the
// explicit override, then the project setting, then the configured default,
// then main or master, then whatever is checked out.
func (m *Manager) resolveBaseBranch(ctx context.Context, override string) (string, error) {
	for _, candidate := range []string{override, m.mainBranch, m.defaultBranch} {
		if candidate == "" {
			continue
		}
		if !m.repo.ValidBranchName(ctx, candidate) {
			return "", fmt.Errorf("%w: base branch %q", ErrInvalidBranch, candidate)
		}
		return candidate, nil
	}

	for _, candidate := range []string{"main", "master"} {
		if m.repo.BranchExists(ctx, candidate) || m.repo.RefExists(ctx, "origin/"+candidate) {
			return candidate, nil
		}
	}

	current, err := m.repo.CurrentBranch(ctx)
	if err != nil {
		return "", fmt.Errorf("could not determine a base branch: %w", err)
	}
	return current, nil
}

// resolveStartPoint refreshes the remote tip of base when there is a remote
// and prefers it over the local branch.
func (m *Manager) resolveStartPoint(ctx context.Context, base string) (string, error) {
	if m.repo.HasRemote(ctx, "origin") {
		if err := m.repo.Fetch(ctx, "origin", base); err != nil {
			m.logger.Debug("fetch failed, using local ref", "branch", base, "error", err)
		}
		if remote := "origin/" + base; m.repo.RefExists(ctx, remote) {
			return remote, nil
		}
	}
	if !m.repo.RefExists(ctx, base) {
		return "", fmt.Errorf("%w: base branch %q does not exist", ErrInvalidBranch, base)
	}
	return base, nil
}

func (m *Manager) cleanupFailedCreate(ctx context.Context, path string) {
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("failed to remove partial worktree", "path", path, "error", err)
	}
	if err := m.repo.WorktreePrune(ctx); err != nil {
		m.logger.Debug("worktree prune failed", "error", err)
	}
}

// List returns the worktrees of one kind sorted by name. Legacy in-worktree
// configs are migrated to the metadata directory, and records whose
// worktree directory is gone are deleted.
func (m *Manager) List(ctx context.Context, kind Kind) ([]Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.HealBareRepository(ctx); err != nil {
		return nil, err
	}

	records, err := m.meta.list(kind)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*Config, len(records))
	for _, cfg := range records {
		byName[cfg.Name] = cfg
	}

	entries, err := os.ReadDir(filepath.Join(m.root, kind.dirName()))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read worktree directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if cfg := m.migrateLegacy(kind, entry.Name(), byName[entry.Name()]); cfg != nil {
			byName[entry.Name()] = cfg
		}
	}

	result := make([]Config, 0, len(byName))
	for name, cfg := range byName {
		if !m.Exists(kind, name) {
			if err := m.meta.delete(kind, name); err != nil {
				m.logger.Warn("failed to delete stale worktree metadata", "name", name, "error", err)
			} else {
				m.logger.Info("removed stale worktree metadata", "kind", kind, "name", name)
			}
			continue
		}
		cfg.WorktreePath = m.PathFor(kind, name)
		result = append(result, *cfg)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// migrateLegacy moves an in-worktree config into the metadata directory.
// When current is non-nil the metadata record wins and the legacy file is
// only removed. It returns the migrated record, or nil.
func (m *Manager) migrateLegacy(kind Kind, name string, current *Config) *Config {
	legacyPath := legacyConfigPath(m.PathFor(kind, name))
	legacy, err := readConfig(legacyPath, kind)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("unreadable legacy worktree config", "path", legacyPath, "error", err)
		}
		return nil
	}

	var migrated *Config
	if current == nil {
		legacy.Name = name
		if err := m.meta.save(legacy); err != nil {
			m.logger.Warn("failed to migrate legacy worktree config", "name", name, "error", err)
			return legacy
		}
		m.logger.Info("migrated legacy worktree config", "kind", kind, "name", name)
		migrated = legacy
	}

	os.Remove(legacyPath)
	os.Remove(filepath.Dir(legacyPath))
	return migrated
}

// Get returns the record of one worktree.
func (m *Manager) Get(kind Kind, name string) (*Config, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	cfg, err := m.meta.load(kind, name)
	if err == nil {
		cfg.Name = name
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg := m.migrateLegacy(kind, name, nil); cfg != nil {
		return cfg, nil
	}
	return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
}

// RemoveResult reports what Remove did.
type RemoveResult struct {
	Path          string
	Removed       bool
	HadChanges    bool
	Branch        string
	BranchDeleted bool
	// BranchErr is set when the branch was kept, e.g. because its recorded
	// name failed validation.
	BranchErr error
}

// Remove deletes a worktree, optionally deletes its branch, and deletes its
// metadata last.
func (m *Manager) Remove(ctx context.Context, kind Kind, name string, deleteBranch bool) (RemoveResult, error) {
	if err := ValidateName(name); err != nil {
		return RemoveResult{}, err
	}

	cfg, err := m.Get(kind, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("ignoring unreadable worktree metadata", "name", name, "error", err)
		cfg = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.HealBareRepository(ctx); err != nil {
		return RemoveResult{}, err
	}

	path := m.PathFor(kind, name)
	result := RemoveResult{Path: path}
	exists := m.Exists(kind, name)
	if !exists && cfg == nil {
		return result, fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
	}

	if exists {
		if status, err := git.New(path, m.repo.Timeout).Status(ctx); err == nil && !status.Clean {
			result.HadChanges = true
		}
		if err := m.repo.WorktreeRemove(ctx, path, true); err != nil {
			m.logger.Debug("git worktree remove failed, deleting directory", "path", path, "error", err)
			if err := os.RemoveAll(path); err != nil {
				return result, fmt.Errorf("failed to remove worktree directory: %w", err)
			}
		}
		result.Removed = true
	}
	if err := m.repo.WorktreePrune(ctx); err != nil {
		m.logger.Debug("worktree prune failed", "error", err)
	}

	if deleteBranch && cfg == nil && kind == KindTask {
		// No record survived; task branches follow a fixed name, which
		// deleteBranch still validates.
		cfg = &Config{Name: name, BranchName: BranchFor(KindTask, name, true), HasGitBranch: true}
	}
	if deleteBranch && cfg != nil && cfg.HasGitBranch {
		result.Branch = cfg.BranchName
		result.BranchErr = m.deleteBranch(ctx, cfg)
		result.BranchDeleted = result.BranchErr == nil && cfg.BranchName != ""
		if result.BranchErr != nil {
			m.logger.Warn("branch kept", "branch", cfg.BranchName, "error", result.BranchErr)
		}
	}

	if err := m.meta.delete(kind, name); err != nil {
		return result, fmt.Errorf("failed to delete worktree metadata: %w", err)
	}

	m.logger.Info("worktree removed", "kind", kind, "name", name, "branch_deleted", result.BranchDeleted)
	return result, nil
}

// deleteBranch re-validates the recorded branch name before handing it to
// git, since the metadata file may have been edited.
func (m *Manager) deleteBranch(ctx context.Context, cfg *Config) error {
	branch := cfg.BranchName
	if branch == "" {
		return nil
	}
	if !safeBranchName(branch) || !m.repo.ValidBranchName(ctx, branch) {
		return fmt.Errorf("%w: recorded branch %q", ErrInvalidBranch, branch)
	}
	if branch == cfg.BaseBranch || branch == m.mainBranch {
		return fmt.Errorf("%w: refusing to delete base branch %q", ErrInvalidBranch, branch)
	}
	if !m.repo.BranchExists(ctx, branch) {
		return nil
	}
	if err := m.repo.DeleteBranch(ctx, branch, true); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	return nil
}

// Prune drops git registrations of worktrees whose directories are gone.
func (m *Manager) Prune(ctx context.Context) error {
	return m.repo.WorktreePrune(ctx)
}
