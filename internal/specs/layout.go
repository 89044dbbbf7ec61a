// Package specs discovers task spec directories in the main checkout and in
// task worktrees, and projects them into tasks.
package specs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/util"
	"github.com/pablasso/autobuild/internal/worktree"
)

// DirName is the directory holding spec directories inside the state dir.
const DirName = "specs"

// Dir returns the main specs directory of a project.
func Dir(projectDir, autoBuildDir string) string {
	return filepath.Join(projectDir, autoBuildDir, DirName)
}

// WorktreeDir returns the specs directory inside the task worktree for specID.
func WorktreeDir(projectDir, autoBuildDir, specID string) string {
	return filepath.Join(worktree.KindDir(projectDir, autoBuildDir, worktree.KindTask), specID, autoBuildDir, DirName)
}

// Copies lists the on-disk copies of one spec directory.
type Copies struct {
	SpecID string
	Main   string
	// Worktree is empty when the task has no worktree copy.
	Worktree string
}

// Locate finds every copy of specID. The main copy must exist.
func Locate(p project.Project, specID string) (Copies, error) {
	if specID == "" || strings.ContainsAny(specID, `/\`) || specID == "." || specID == ".." {
		return Copies{}, fmt.Errorf("%w: %q", task.ErrTaskNotFound, specID)
	}
	c := Copies{
		SpecID: specID,
		Main:   filepath.Join(Dir(p.Path, p.AutoBuildPath), specID),
	}
	if !isDir(c.Main) {
		return Copies{}, fmt.Errorf("%w: %s", task.ErrTaskNotFound, specID)
	}
	if wt := filepath.Join(WorktreeDir(p.Path, p.AutoBuildPath, specID), specID); isDir(wt) {
		c.Worktree = wt
	}
	return c, nil
}

// Dirs returns the copies with the worktree copy first, since it is the one
// the scanner prefers.
func (c Copies) Dirs() []string {
	if c.Worktree == "" {
		return []string{c.Main}
	}
	return []string{c.Worktree, c.Main}
}

// PlanPaths returns the plan file of every copy, primary first.
func (c Copies) PlanPaths() []string {
	dirs := c.Dirs()
	paths := make([]string, len(dirs))
	for i, d := range dirs {
		paths[i] = filepath.Join(d, plan.FileName)
	}
	return paths
}

// NextSpecID returns the id for a new task titled title: the next free
// three-digit number followed by the kebab-case title.
func NextSpecID(specsDir, title string) (string, error) {
	entries, err := os.ReadDir(specsDir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read specs directory: %w", err)
	}
	highest := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := util.SpecNumber(e.Name()); ok && n > highest {
			highest = n
		}
	}
	return util.FormatSpecID(highest+1, title), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
