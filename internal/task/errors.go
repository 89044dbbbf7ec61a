package task

import (
	"errors"
	"fmt"
)

var (
	// ErrProjectNotFound is returned when a project id is not registered.
	ErrProjectNotFound = errors.New("project not found")

	// ErrTaskNotFound is returned when no spec directory exists for a task id.
	ErrTaskNotFound = errors.New("task not found")
)

// RemediationKind classifies a failure the user has to fix before retrying.
type RemediationKind string

const (
	KindRepositoryNotReady     RemediationKind = "RepositoryNotReady"
	KindAuthenticationRequired RemediationKind = "AuthenticationRequired"
)

// RemediationError is a user-facing failure carrying a fix-it hint.
type RemediationError struct {
	Kind    RemediationKind
	Check   string
	Message string
	Help    string
}

func (e *RemediationError) Error() string {
	return fmt.Sprintf("%s: %s\n\n%s", e.Check, e.Message, e.Help)
}

// IsRemediation reports whether err is a RemediationError of the given kind.
func IsRemediation(err error, kind RemediationKind) bool {
	var re *RemediationError
	return errors.As(err, &re) && re.Kind == kind
}
