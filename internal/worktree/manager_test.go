package worktree

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/testutil"
)

var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, dir string, mutate ...func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		ProjectDir:   dir,
		AutoBuildDir: ".auto-build",
		SymlinkDirs:  []string{"node_modules"},
		Now:          func() time.Time { return fixedNow },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return NewManager(opts)
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"001-fix-login-bug", true},
		{"dev.shell_2", true},
		{"A", true},
		{strings.Repeat("a", 100), true},
		{strings.Repeat("a", 101), false},
		{"", false},
		{"-leading", false},
		{".hidden", false},
		{"a..b", false},
		{"with space", false},
		{"slash/name", false},
		{"semi;colon", false},
		{"x.lock", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidName) {
				t.Errorf("expected ErrInvalidName, got %v", err)
			}
		})
	}
}

func TestSafeBranchName(t *testing.T) {
	tests := []struct {
		branch string
		safe   bool
	}{
		{"auto-build/001-x", true},
		{"terminal/dev", true},
		{"-D", false},
		{"a..b", false},
		{"a//b", false},
		{"trailing/", false},
		{"$(rm -rf)", false},
		{"x.lock", false},
	}
	for _, tt := range tests {
		if got := safeBranchName(tt.branch); got != tt.safe {
			t.Errorf("safeBranchName(%q) = %v, want %v", tt.branch, got, tt.safe)
		}
	}
}

func TestCreate_TaskWorktree(t *testing.T) {
	ctx := context.Background()
	dir := testutil.InitRepo(t)
	os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0755)
	m := newTestManager(t, dir)

	cfg, err := m.Create(ctx, CreateRequest{Name: "001-fix-login-bug", Kind: KindTask})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wantPath := filepath.Join(dir, ".auto-build", "worktrees", "tasks", "001-fix-login-bug")
	if cfg.WorktreePath != wantPath {
		t.Errorf("WorktreePath = %q, want %q", cfg.WorktreePath, wantPath)
	}
	if cfg.BranchName != "auto-build/001-fix-login-bug" || !cfg.HasGitBranch {
		t.Errorf("unexpected branch %q (has=%v)", cfg.BranchName, cfg.HasGitBranch)
	}
	if cfg.BaseBranch != "main" || cfg.TaskID != "001-fix-login-bug" || !cfg.CreatedAt.Equal(fixedNow) {
		t.Errorf("unexpected config %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(wantPath, "README.md")); err != nil {
		t.Errorf("worktree not checked out: %v", err)
	}
	if out := testutil.Git(t, dir, "branch", "--list", "auto-build/001-fix-login-bug"); out == "" {
		t.Error("task branch not created")
	}

	metaPath := filepath.Join(dir, ".auto-build", "worktrees", ".meta", "tasks", "001-fix-login-bug.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	for _, key := range []string{"name", "worktreePath", "branchName", "baseBranch", "hasGitBranch", "taskId", "createdAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("metadata missing %q: %s", key, data)
		}
	}

	link := filepath.Join(wantPath, "node_modules")
	if info, err := os.Lstat(link); err != nil || info.Mode()&os.ModeSymlink == 0 {
		t.Errorf("node_modules not symlinked: %v", err)
	}

	if _, err := m.Create(ctx, CreateRequest{Name: "001-fix-login-bug", Kind: KindTask}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create: expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreate_RejectsBeforeMutation(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid name", func(t *testing.T) {
		dir := testutil.InitRepo(t)
		_, err := newTestManager(t, dir).Create(ctx, CreateRequest{Name: "../escape", Kind: KindTerminal})
		if !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName, got %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, ".auto-build")); !os.IsNotExist(err) {
			t.Error("nothing should be created for an invalid name")
		}
	})

	t.Run("existing metadata", func(t *testing.T) {
		dir := testutil.InitRepo(t)
		m := newTestManager(t, dir)
		m.meta.save(&Config{Name: "dev", Kind: KindTerminal})
		if _, err := m.Create(ctx, CreateRequest{Name: "dev", Kind: KindTerminal}); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("not a repository", func(t *testing.T) {
		dir := testutil.TempDir(t)
		_, err := newTestManager(t, dir).Create(ctx, CreateRequest{Name: "x"})
		if !task.IsRemediation(err, task.KindRepositoryNotReady) {
			t.Errorf("expected RepositoryNotReady, got %v", err)
		}
	})

	t.Run("repository without commits", func(t *testing.T) {
		dir := testutil.TempDir(t)
		testutil.Git(t, dir, "init")
		_, err := newTestManager(t, dir).Create(ctx, CreateRequest{Name: "x"})
		var re *task.RemediationError
		if !errors.As(err, &re) || !strings.Contains(re.Help, "commit") {
			t.Errorf("expected commit remediation, got %v", err)
		}
	})
}

func TestCreate_BaseBranchPriority(t *testing.T) {
	ctx := context.Background()
	dir := testutil.InitRepo(t)
	testutil.Git(t, dir, "branch", "develop")
	testutil.Git(t, dir, "branch", "release")
	testutil.Git(t, dir, "branch", "staging")

	tests := []struct {
		name     string
		override string
		project  string
		env      string
		want     string
	}{
		{"override wins", "develop", "release", "staging", "develop"},
		{"project setting", "", "release", "staging", "release"},
		{"environment default", "", "", "staging", "staging"},
		{"auto-detect main", "", "", "", "main"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, dir, func(o *Options) {
				o.MainBranch = tt.project
				o.DefaultBranch = tt.env
			})
			cfg, err := m.Create(ctx, CreateRequest{
				Name:       "base-" + string(rune('a'+i)),
				Kind:       KindTerminal,
				BaseBranch: tt.override,
			})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if cfg.BaseBranch != tt.want {
				t.Errorf("BaseBranch = %q, want %q", cfg.BaseBranch, tt.want)
			}
		})
	}

	t.Run("invalid override", func(t *testing.T) {
		_, err := newTestManager(t, dir).Create(ctx, CreateRequest{Name: "bad", Kind: KindTerminal, BaseBranch: "bad..name"})
		if !errors.Is(err, ErrInvalidBranch) {
			t.Errorf("expected ErrInvalidBranch, got %v", err)
		}
	})

	t.Run("missing base branch", func(t *testing.T) {
		_, err := newTestManager(t, dir).Create(ctx, CreateRequest{Name: "gone", Kind: KindTerminal, BaseBranch: "nope"})
		if !errors.Is(err, ErrInvalidBranch) {
			t.Errorf("expected ErrInvalidBranch, got %v", err)
		}
	})
}

func TestCreate_FallsBackToCurrentBranch(t *testing.T) {
	dir := testutil.TempDir(t)
	testutil.Git(t, dir, "init", "-b", "trunk")
	testutil.Git(t, dir, "config", "user.email", "test@test.com")
	testutil.Git(t, dir, "config", "user.name", "Test User")
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644)
	testutil.Git(t, dir, "add", "-A")
	testutil.Git(t, dir, "-c", "commit.gpgsign=false", "commit", "-m", "init")

	cfg, err := newTestManager(t, dir).Create(context.Background(), CreateRequest{Name: "t1", Kind: KindTerminal})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if cfg.BaseBranch != "trunk" {
		t.Errorf("BaseBranch = %q, want trunk", cfg.BaseBranch)
	}
}

func TestCreate_PrefersRemoteTip(t *testing.T) {
	ctx := context.Background()
	origin := testutil.InitRepo(t)
	parent := testutil.TempDir(t)
	testutil.Git(t, parent, "clone", origin, "project")
	project := filepath.Join(parent, "project")

	// New upstream work the local main has not seen.
	os.WriteFile(filepath.Join(origin, "upstream.txt"), []byte("new"), 0644)
	testutil.Git(t, origin, "add", "upstream.txt")
	testutil.Git(t, origin, "commit", "-m", "upstream change")

	cfg, err := newTestManager(t, project).Create(ctx, CreateRequest{Name: "001-remote", Kind: KindTask})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.WorktreePath, "upstream.txt")); err != nil {
		t.Errorf("worktree should start from origin/main: %v", err)
	}
}

func TestCreate_TerminalWorktrees(t *testing.T) {
	ctx := context.Background()
	dir := testutil.InitRepo(t)
	m := newTestManager(t, dir)

	detached, err := m.Create(ctx, CreateRequest{Name: "scratch", Kind: KindTerminal, TerminalID: "term-1"})
	if err != nil {
		t.Fatalf("Create detached: %v", err)
	}
	if detached.HasGitBranch || detached.BranchName != "" || detached.TerminalID != "term-1" {
		t.Errorf("unexpected detached config %+v", detached)
	}

	branched, err := m.Create(ctx, CreateRequest{Name: "feature", Kind: KindTerminal, CreateBranch: true})
	if err != nil {
		t.Fatalf("Create branched: %v", err)
	}
	if branched.BranchName != "terminal/feature" || !branched.HasGitBranch {
		t.Errorf("unexpected branched config %+v", branched)
	}

	generated, err := m.Create(ctx, CreateRequest{Kind: KindTerminal})
	if err != nil {
		t.Fatalf("Create generated: %v", err)
	}
	if !strings.HasPrefix(generated.Name, "term-") || ValidateName(generated.Name) != nil {
		t.Errorf("unexpected generated name %q", generated.Name)
	}
}

func TestCreate_CleansUpOnGitFailure(t *testing.T) {
	ctx := context.Background()
	dir := testutil.InitRepo(t)
	// The branch is checked out in the main worktree, so git refuses to
	// check it out a second time.
	testutil.Git(t, dir, "checkout", "-b", "terminal/busy")
	m := newTestManager(t, dir, func(o *Options) { o.MainBranch = "main" })

	_, err := m.Create(ctx, CreateRequest{Name: "busy", Kind: KindTerminal, CreateBranch: true})
	if err == nil {
		t.Fatal("expected git failure")
	}
	if m.Exists(KindTerminal, "busy") {
		t.Error("partial worktree directory left behind")
	}
	if m.meta.exists(KindTerminal, "busy") {
		t.Error("metadata written for failed create")
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	dir := testutil.InitRepo(t)
	m := newTestManager(t, dir)

	for _, name := range []string{"002-b", "001-a"} {
		if _, err := m.Create(ctx, CreateRequest{Name: name, Kind: KindTask}); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	// Legacy worktree: config lives inside the checkout.
	legacyPath := m.PathFor(KindTask, "003-legacy")
	testutil.Git(t, dir, "worktree", "add", "--detach", legacyPath)
	legacy := Config{Name: "003-legacy", WorktreePath: legacyPath, BaseBranch: "main", CreatedAt: fixedNow}
	data, _ := json.Marshal(legacy)
	os.MkdirAll(filepath.Join(legacyPath, legacyConfigDir), 0755)
	os.WriteFile(legacyConfigPath(legacyPath), data, 0644)

	// Stale record: metadata without a directory.
	m.meta.save(&Config{Name: "004-stale", Kind: KindTask})

	configs, err := m.List(ctx, KindTask)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, c := range configs {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "001-a,002-b,003-legacy" {
		t.Errorf("names = %v", names)
	}

	if !m.meta.exists(KindTask, "003-legacy") {
		t.Error("legacy config not migrated to metadata directory")
	}
	if _, err := os.Stat(legacyConfigPath(legacyPath)); !os.IsNotExist(err) {
		t.Error("legacy config file not removed after migration")
	}
	if m.meta.exists(KindTask, "004-stale") {
		t.Error("stale metadata not deleted")
	}

	terminals, err := m.List(ctx, KindTerminal)
	if err != nil || len(terminals) != 0 {
		t.Errorf("terminal list = %v, %v", terminals, err)
	}
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	dir := testutil.InitRepo(t)
	m := newTestManager(t, dir)

	if _, err := m.Get(KindTask, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	m.Create(ctx, CreateRequest{Name: "001-a", Kind: KindTask})
	cfg, err := m.Get(KindTask, "001-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.Kind != KindTask || cfg.BranchName != "auto-build/001-a" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("removes worktree, branch and metadata", func(t *testing.T) {
		dir := testutil.InitRepo(t)
		m := newTestManager(t, dir)
		m.Create(ctx, CreateRequest{Name: "001-a", Kind: KindTask})
		os.WriteFile(filepath.Join(m.PathFor(KindTask, "001-a"), "wip.txt"), []byte("x"), 0644)

		result, err := m.Remove(ctx, KindTask, "001-a", true)
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if !result.Removed || !result.BranchDeleted || !result.HadChanges || result.BranchErr != nil {
			t.Errorf("unexpected result %+v", result)
		}
		if m.Exists(KindTask, "001-a") || m.meta.exists(KindTask, "001-a") {
			t.Error("worktree or metadata left behind")
		}
		if out := testutil.Git(t, dir, "branch", "--list", "auto-build/001-a"); out != "" {
			t.Errorf("branch not deleted: %q", out)
		}
	})

	t.Run("keeps branch when not asked", func(t *testing.T) {
		dir := testutil.InitRepo(t)
		m := newTestManager(t, dir)
		m.Create(ctx, CreateRequest{Name: "001-a", Kind: KindTask})

		if _, err := m.Remove(ctx, KindTask, "001-a", false); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if out := testutil.Git(t, dir, "branch", "--list", "auto-build/001-a"); out == "" {
			t.Error("branch should be kept")
		}

		// Recreating reuses the surviving branch.
		cfg, err := m.Create(ctx, CreateRequest{Name: "001-a", Kind: KindTask})
		if err != nil || cfg.BranchName != "auto-build/001-a" {
			t.Errorf("recreate = %+v, %v", cfg, err)
		}
	})

	t.Run("tampered branch name is not used", func(t *testing.T) {
		dir := testutil.InitRepo(t)
		m := newTestManager(t, dir)
		cfg, _ := m.Create(ctx, CreateRequest{Name: "001-a", Kind: KindTask})

		for _, branch := range []string{"--delete-everything", "main"} {
			cfg.BranchName = branch
			m.meta.save(cfg)

			result, err := m.Remove(ctx, KindTask, "001-a", true)
			if err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if !errors.Is(result.BranchErr, ErrInvalidBranch) || result.BranchDeleted {
				t.Errorf("branch %q: expected ErrInvalidBranch, got %+v", branch, result)
			}
		}
		if out := testutil.Git(t, dir, "branch", "--list", "main"); out == "" {
			t.Error("main must survive a tampered metadata file")
		}
	})

	t.Run("lost record still deletes the task branch", func(t *testing.T) {
		dir := testutil.InitRepo(t)
		m := newTestManager(t, dir)
		if _, err := m.Create(ctx, CreateRequest{Name: "001-a", Kind: KindTask}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := m.meta.delete(KindTask, "001-a"); err != nil {
			t.Fatalf("delete metadata: %v", err)
		}

		result, err := m.Remove(ctx, KindTask, "001-a", true)
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if !result.Removed || !result.BranchDeleted || result.Branch != "auto-build/001-a" {
			t.Errorf("unexpected result %+v", result)
		}
		if out := testutil.Git(t, dir, "branch", "--list", "auto-build/001-a"); out != "" {
			t.Errorf("branch not deleted: %q", out)
		}
	})

	t.Run("metadata only", func(t *testing.T) {
		dir := testutil.InitRepo(t)
		m := newTestManager(t, dir)
		m.meta.save(&Config{Name: "ghost", Kind: KindTerminal})

		result, err := m.Remove(ctx, KindTerminal, "ghost", false)
		if err != nil || result.Removed {
			t.Errorf("Remove = %+v, %v", result, err)
		}
		if m.meta.exists(KindTerminal, "ghost") {
			t.Error("metadata not deleted")
		}
	})

	t.Run("not found", func(t *testing.T) {
		m := newTestManager(t, testutil.InitRepo(t))
		if _, err := m.Remove(ctx, KindTask, "nope", false); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestHealBareRepository(t *testing.T) {
	ctx := context.Background()
	dir := testutil.InitRepo(t)
	testutil.Git(t, dir, "config", "core.bare", "true")
	m := newTestManager(t, dir)

	healed, err := m.HealBareRepository(ctx)
	if err != nil || !healed {
		t.Fatalf("HealBareRepository = %v, %v; want true, nil", healed, err)
	}
	if out := strings.TrimSpace(testutil.Git(t, dir, "config", "core.bare")); out != "false" {
		t.Errorf("core.bare = %q", out)
	}

	healed, err = m.HealBareRepository(ctx)
	if err != nil || healed {
		t.Errorf("second call = %v, %v; want false, nil", healed, err)
	}

	// Worktree operations heal before running.
	testutil.Git(t, dir, "config", "core.bare", "true")
	if _, err := m.Create(ctx, CreateRequest{Name: "001-a", Kind: KindTask}); err != nil {
		t.Errorf("Create after heal: %v", err)
	}
}

func TestHasProjectMarkers(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  bool
	}{
		{"empty", nil, false},
		{"go module", []string{"go.mod"}, true},
		{"solution glob", []string{"App.sln"}, true},
		{"unrelated file", []string{"notes.txt"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				os.WriteFile(filepath.Join(dir, f), nil, 0644)
			}
			if got := hasProjectMarkers(dir); got != tt.want {
				t.Errorf("hasProjectMarkers = %v, want %v", got, tt.want)
			}
		})
	}
}
