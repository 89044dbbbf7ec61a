// Package project keeps the registry of projects autobuild manages.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/util"
)

// Settings are per-project overrides.
type Settings struct {
	// MainBranch is the base branch for new worktrees.
	MainBranch string `json:"mainBranch,omitempty"`
}

// Project is one registered repository.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	// AutoBuildPath is the state directory name relative to Path.
	AutoBuildPath string    `json:"autoBuildPath"`
	Settings      Settings  `json:"settings"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StateDir returns the absolute state directory.
func (p Project) StateDir() string {
	return filepath.Join(p.Path, p.AutoBuildPath)
}

type registryFile struct {
	Projects []Project `json:"projects"`
}

// Registry persists projects in a single JSON file.
type Registry struct {
	path         string
	autoBuildDir string
	now          func() time.Time

	mu sync.Mutex
}

// NewRegistry returns a registry stored at path. New projects get
// autoBuildDir as their state directory.
func NewRegistry(path, autoBuildDir string) *Registry {
	return &Registry{path: path, autoBuildDir: autoBuildDir, now: time.Now}
}

func (r *Registry) load() ([]Project, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read project registry: %w", err)
	}
	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse project registry %s: %w", r.path, err)
	}
	return f.Projects, nil
}

func (r *Registry) save(projects []Project) error {
	if projects == nil {
		projects = []Project{}
	}
	return util.WriteJSONAtomic(r.path, registryFile{Projects: projects})
}

// Add registers the project at path. Adding a path twice returns the
// existing project.
func (r *Registry) Add(path string) (Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Project{}, fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return Project{}, fmt.Errorf("project path %s is not a directory", abs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load()
	if err != nil {
		return Project{}, err
	}
	for _, p := range projects {
		if p.Path == abs {
			return p, nil
		}
	}

	p := Project{
		ID:            uuid.NewString(),
		Name:          filepath.Base(abs),
		Path:          abs,
		AutoBuildPath: r.autoBuildDir,
		CreatedAt:     r.now(),
	}
	if err := r.save(append(projects, p)); err != nil {
		return Project{}, err
	}
	return p, nil
}

// Get returns the project with the given id.
func (r *Registry) Get(id string) (Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load()
	if err != nil {
		return Project{}, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, nil
		}
	}
	return Project{}, fmt.Errorf("%w: %s", task.ErrProjectNotFound, id)
}

// FindByPath returns the project containing path, preferring the deepest match.
func (r *Registry) FindByPath(path string) (Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Project{}, fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load()
	if err != nil {
		return Project{}, err
	}
	var best Project
	for _, p := range projects {
		rel, err := filepath.Rel(p.Path, abs)
		if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
			continue
		}
		if len(p.Path) > len(best.Path) {
			best = p
		}
	}
	if best.ID == "" {
		return Project{}, fmt.Errorf("%w: no project registered for %s", task.ErrProjectNotFound, abs)
	}
	return best, nil
}

// List returns every project sorted by name.
func (r *Registry) List() ([]Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// Remove unregisters a project. Its files are left alone.
func (r *Registry) Remove(id string) error {
	return r.update(id, func(projects []Project, i int) []Project {
		return append(projects[:i], projects[i+1:]...)
	})
}

// UpdateSettings replaces a project's settings.
func (r *Registry) UpdateSettings(id string, s Settings) (Project, error) {
	var updated Project
	err := r.update(id, func(projects []Project, i int) []Project {
		projects[i].Settings = s
		updated = projects[i]
		return projects
	})
	return updated, err
}

func (r *Registry) update(id string, fn func([]Project, int) []Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load()
	if err != nil {
		return err
	}
	for i, p := range projects {
		if p.ID == id {
			return r.save(fn(projects, i))
		}
	}
	return fmt.Errorf("%w: %s", task.ErrProjectNotFound, id)
}
