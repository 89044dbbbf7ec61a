// Package task defines the user-facing task model shared by the scanner,
// the phase state machine and the task service.
package task

// Status is the coarse, user-facing state of a task.
type Status string

const (
	StatusBacklog     Status = "backlog"
	StatusInProgress  Status = "in_progress"
	StatusAIReview    Status = "ai_review"
	StatusHumanReview Status = "human_review"
	StatusDone        Status = "done"
	StatusPRCreated   Status = "pr_created"
	StatusError       Status = "error"
)

// ValidStatuses returns all valid status values in board order.
func ValidStatuses() []Status {
	return []Status{
		StatusBacklog, StatusInProgress, StatusAIReview, StatusHumanReview,
		StatusDone, StatusPRCreated, StatusError,
	}
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusAIReview, StatusHumanReview,
		StatusDone, StatusPRCreated, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is never recomputed away once persisted.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusPRCreated || s == StatusError
}

// IsActive reports whether s implies a supervising agent process.
func (s Status) IsActive() bool {
	return s == StatusInProgress || s == StatusAIReview
}

func (s Status) String() string { return string(s) }

// statusAliases maps raw persisted status strings, including the legacy and
// phase-flavoured values written by older agents, onto a Status.
var statusAliases = map[string]Status{
	"backlog":      StatusBacklog,
	"pending":      StatusBacklog,
	"in_progress":  StatusInProgress,
	"planning":     StatusInProgress,
	"coding":       StatusInProgress,
	"ai_review":    StatusAIReview,
	"qa_review":    StatusAIReview,
	"qa_fixing":    StatusAIReview,
	"human_review": StatusHumanReview,
	"review":       StatusHumanReview,
	"done":         StatusDone,
	"complete":     StatusDone,
	"completed":    StatusDone,
	"pr_created":   StatusPRCreated,
	"error":        StatusError,
	"failed":       StatusError,
}

// ParseStatus maps a raw persisted status string to a Status.
// The second return value is false for unknown or empty input.
func ParseStatus(raw string) (Status, bool) {
	s, ok := statusAliases[raw]
	return s, ok
}

// ReviewReason explains why a task sits in human_review.
type ReviewReason string

const (
	ReasonNone       ReviewReason = ""
	ReasonCompleted  ReviewReason = "completed"
	ReasonErrors     ReviewReason = "errors"
	ReasonQARejected ReviewReason = "qa_rejected"
	ReasonPlanReview ReviewReason = "plan_review"
)

// Location records which checkout a task's data was read from.
type Location string

const (
	LocationMain     Location = "main"
	LocationWorktree Location = "worktree"
)
