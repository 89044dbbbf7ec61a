// Package git runs the git CLI against a repository directory.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandContext is the function used to create git commands.
// Tests can replace it to avoid touching a real repository.
var CommandContext = exec.CommandContext

// DefaultTimeout bounds a git call when the caller gives none.
const DefaultTimeout = 30 * time.Second

var (
	// ErrDetachedHEAD is returned by CurrentBranch when HEAD is not on a branch.
	ErrDetachedHEAD = errors.New("HEAD is detached")
	// ErrTimeout is wrapped when a git call exceeds its timeout.
	ErrTimeout = errors.New("git command timed out")
)

// CommandError is a failed git invocation with its combined output.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, e.Output)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Repo runs git commands in Dir.
type Repo struct {
	Dir     string
	Timeout time.Duration
}

// New returns a Repo for dir. A zero timeout means DefaultTimeout.
func New(dir string, timeout time.Duration) *Repo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Repo{Dir: dir, Timeout: timeout}
}

// Run executes git with args and returns trimmed combined output.
func (r *Repo) Run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
		}
		return output, &CommandError{Args: args, Output: output, Err: err}
	}
	return output, nil
}

// IsRepo reports whether Dir is inside a git repository.
func (r *Repo) IsRepo(ctx context.Context) bool {
	_, err := r.Run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// HasCommits reports whether HEAD resolves to a commit.
func (r *Repo) HasCommits(ctx context.Context) bool {
	_, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	return err == nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	if out == "HEAD" {
		return "", ErrDetachedHEAD
	}
	return out, nil
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	_, err := r.Run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// RefExists reports whether ref resolves to a commit.
func (r *Repo) RefExists(ctx context.Context, ref string) bool {
	_, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

// HasRemote reports whether a remote is configured.
func (r *Repo) HasRemote(ctx context.Context, name string) bool {
	_, err := r.Run(ctx, "remote", "get-url", name)
	return err == nil
}

// Fetch updates remote-tracking refs for one branch.
func (r *Repo) Fetch(ctx context.Context, remote, branch string) error {
	_, err := r.Run(ctx, "fetch", remote, branch)
	return err
}

// ValidBranchName reports whether git accepts name as a branch name.
func (r *Repo) ValidBranchName(ctx context.Context, name string) bool {
	if name == "" || strings.HasPrefix(name, "-") {
		return false
	}
	_, err := r.Run(ctx, "check-ref-format", "--branch", name)
	return err == nil
}

// WorktreeAddOptions controls WorktreeAdd.
type WorktreeAddOptions struct {
	// NewBranch creates and checks out this branch. Empty with Detach false
	// checks out StartPoint as an existing branch.
	NewBranch  string
	StartPoint string
	Detach     bool
}

// WorktreeAdd registers a new worktree at path.
func (r *Repo) WorktreeAdd(ctx context.Context, path string, opts WorktreeAddOptions) error {
	args := []string{"worktree", "add"}
	switch {
	case opts.Detach:
		args = append(args, "--detach", path)
	case opts.NewBranch != "":
		args = append(args, "-b", opts.NewBranch, path)
	default:
		args = append(args, path)
	}
	if opts.StartPoint != "" {
		args = append(args, opts.StartPoint)
	}
	_, err := r.Run(ctx, args...)
	return err
}

// WorktreeRemove unregisters and deletes a worktree.
func (r *Repo) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	_, err := r.Run(ctx, append(args, path)...)
	return err
}

// WorktreePrune drops registrations whose directories are gone.
func (r *Repo) WorktreePrune(ctx context.Context) error {
	_, err := r.Run(ctx, "worktree", "prune")
	return err
}

// DeleteBranch deletes a local branch.
func (r *Repo) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := r.Run(ctx, "branch", flag, "--", name)
	return err
}

// ConfigGet reads a local config value. A missing key yields "" and no error.
func (r *Repo) ConfigGet(ctx context.Context, key string) (string, error) {
	out, err := r.Run(ctx, "config", "--local", "--get", key)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			var exitErr *exec.ExitError
			if errors.As(ce.Err, &exitErr) && exitErr.ExitCode() == 1 {
				return "", nil
			}
		}
		return "", err
	}
	return out, nil
}

// ConfigSet writes a local config value.
func (r *Repo) ConfigSet(ctx context.Context, key, value string) error {
	_, err := r.Run(ctx, "config", "--local", key, value)
	return err
}

// Status represents the git workspace status.
type Status struct {
	Clean bool
	Files []string
}

// Status returns the porcelain status of the working tree.
func (r *Repo) Status(ctx context.Context) (*Status, error) {
	out, err := r.Run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// XY filename; trimming the output may have eaten a leading space.
		if len(line) > 3 && line[2] == ' ' {
			files = append(files, line[3:])
		} else if len(line) > 2 && line[1] == ' ' {
			files = append(files, line[2:])
		} else {
			files = append(files, strings.TrimSpace(line))
		}
	}

	return &Status{
		Clean: len(files) == 0,
		Files: files,
	}, nil
}
