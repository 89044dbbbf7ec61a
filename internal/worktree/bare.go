package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// projectMarkers are files or directories whose presence at the repository
// root means it has a working tree and cannot be a bare repository.
var projectMarkers = []string{
	".git",
	"package.json",
	"go.mod",
	"pyproject.toml",
	"requirements.txt",
	"setup.py",
	"Cargo.toml",
	"pom.xml",
	"build.gradle",
	"composer.json",
	"Gemfile",
	"Makefile",
	"CMakeLists.txt",
	"src",
}

var projectMarkerGlobs = []string{"*.sln", "*.csproj"}

// hasProjectMarkers reports whether dir looks like a checked-out project.
func hasProjectMarkers(dir string) bool {
	for _, m := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	for _, g := range projectMarkerGlobs {
		if matches, _ := filepath.Glob(filepath.Join(dir, g)); len(matches) > 0 {
			return true
		}
	}
	return false
}

// HealBareRepository resets core.bare when the repository is marked bare but
// its root holds project files. git refuses most worktree commands in that
// state.
func (m *Manager) HealBareRepository(ctx context.Context) (bool, error) {
	bare, err := m.repo.ConfigGet(ctx, "core.bare")
	if err != nil || bare != "true" {
		return false, nil
	}
	if !hasProjectMarkers(m.projectDir) {
		return false, nil
	}
	if err := m.repo.ConfigSet(ctx, "core.bare", "false"); err != nil {
		return false, fmt.Errorf("failed to reset core.bare: %w", err)
	}
	m.logger.Warn("repository was marked bare despite having a working tree; reset core.bare=false", "path", m.projectDir)
	return true, nil
}
