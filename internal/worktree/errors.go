package worktree

import "errors"

var (
	// ErrAlreadyExists is returned when a worktree directory or its metadata
	// is already present.
	ErrAlreadyExists = errors.New("worktree already exists")
	// ErrInvalidName is returned for names outside the allowed charset.
	ErrInvalidName = errors.New("invalid worktree name")
	// ErrInvalidBranch is returned for base or recorded branch names that
	// git would reject or that fail the conservative charset.
	ErrInvalidBranch = errors.New("invalid branch name")
	// ErrNotFound is returned when neither a worktree nor its metadata exists.
	ErrNotFound = errors.New("worktree not found")
)
