package worktree

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind separates per-task worktrees from ad-hoc terminal worktrees.
type Kind string

const (
	KindTask     Kind = "task"
	KindTerminal Kind = "terminal"
)

// ParseKind validates a user-supplied kind. Empty means task.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return KindTask, nil
	case KindTask, KindTerminal:
		return k, nil
	}
	return "", fmt.Errorf("unknown worktree kind %q (want task or terminal)", s)
}

// dirName is the directory under worktrees/ holding this kind.
func (k Kind) dirName() string {
	if k == KindTerminal {
		return "terminal"
	}
	return "tasks"
}

// TaskBranchPrefix prefixes the branch created for every task worktree.
const TaskBranchPrefix = "auto-build/"

// TerminalBranchPrefix prefixes branches created for terminal worktrees.
const TerminalBranchPrefix = "terminal/"

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,99}$`)
	// branchPattern is stricter than git's own rules; it is applied to
	// branch names read back from metadata before they reach a git command.
	branchPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,199}$`)
)

// ValidateName checks a worktree name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || strings.Contains(name, "..") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("%w: %q (use letters, digits, '.', '_' or '-', starting with a letter or digit)", ErrInvalidName, name)
	}
	return nil
}

// safeBranchName applies the conservative charset check.
func safeBranchName(branch string) bool {
	if !branchPattern.MatchString(branch) {
		return false
	}
	if strings.Contains(branch, "..") || strings.Contains(branch, "//") ||
		strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, ".lock") {
		return false
	}
	return true
}

// BranchFor returns the branch a new worktree gets, or "" for detached.
func BranchFor(kind Kind, name string, createBranch bool) string {
	switch {
	case kind == KindTask:
		return TaskBranchPrefix + name
	case createBranch:
		return TerminalBranchPrefix + name
	}
	return ""
}
