package worktree

import (
	"os"
	"path/filepath"
)

// linkDependencies symlinks configured dependency directories from the
// project root into a new worktree so tooling works without a reinstall.
// Failures are logged and skipped.
func (m *Manager) linkDependencies(worktreePath string) []string {
	var linked []string
	for _, dir := range m.symlinkDirs {
		src := filepath.Join(m.projectDir, dir)
		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			continue
		}

		dst := filepath.Join(worktreePath, dir)
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			m.logger.Debug("skipping dependency link", "dir", dir, "error", err)
			continue
		}
		if err := os.Symlink(src, dst); err != nil {
			m.logger.Debug("skipping dependency link", "dir", dir, "error", err)
			continue
		}
		linked = append(linked, dir)
	}
	return linked
}
