package phase

import (
	"errors"
	"fmt"

	"github.com/pablasso/autobuild/internal/task"
)

// ErrTransitionRejected is wrapped by Decision.Err for rejected transitions.
var ErrTransitionRejected = errors.New("phase transition rejected")

// RejectReason identifies which rule blocked a transition.
type RejectReason string

const (
	ReasonNone          RejectReason = ""
	ReasonUnknownPhase  RejectReason = "unknown_phase"
	ReasonTerminal      RejectReason = "terminal"
	ReasonRegression    RejectReason = "regression"
	ReasonPrerequisites RejectReason = "prerequisites"
	ReasonNoSubtasks    RejectReason = "no_subtasks"
)

// Decision is the outcome of a transition check.
type Decision struct {
	Allowed bool
	Reason  RejectReason
	Detail  string
}

// Err returns nil for allowed decisions and an ErrTransitionRejected wrapper otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrTransitionRejected, d.Reason, d.Detail)
}

func allow() Decision { return Decision{Allowed: true} }

func reject(reason RejectReason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// CanTransition checks whether the agent may move from current to next given
// the phases it has already completed.
func CanTransition(current, next ExecutionPhase, completed []ExecutionPhase) Decision {
	if Rank(current) < 0 {
		return reject(ReasonUnknownPhase, "current phase %q", current)
	}
	if Rank(next) < 0 {
		return reject(ReasonUnknownPhase, "next phase %q", next)
	}
	if IsTerminal(current) {
		return reject(ReasonTerminal, "%s is terminal", current)
	}
	if WouldRegress(current, next) {
		return reject(ReasonRegression, "%s -> %s", current, next)
	}

	done := make(map[ExecutionPhase]bool, len(completed))
	for _, p := range completed {
		done[p] = true
	}
	var missing []ExecutionPhase
	for _, p := range Prerequisites(next) {
		if !done[p] {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return reject(ReasonPrerequisites, "%s requires %v completed", next, missing)
	}
	return allow()
}

// CanSetStatus checks a direct status change against subtask evidence.
// human_review is meaningless before planning produced any subtasks.
func CanSetStatus(target task.Status, subtaskCount int) Decision {
	if target == task.StatusHumanReview && subtaskCount == 0 {
		return reject(ReasonNoSubtasks, "planning has not produced subtasks yet")
	}
	return allow()
}

// Tracker follows the phase history of a single task.
type Tracker struct {
	current   ExecutionPhase
	completed []ExecutionPhase
}

// NewTracker starts a tracker in the idle phase.
func NewTracker() *Tracker {
	return &Tracker{current: Idle}
}

// NewTrackerFrom resumes a tracker at current with the given phases already
// behind it, for an agent restarted on a plan it has worked on before.
func NewTrackerFrom(current ExecutionPhase, completed []ExecutionPhase) *Tracker {
	return &Tracker{current: current, completed: append([]ExecutionPhase(nil), completed...)}
}

// Current returns the active phase.
func (t *Tracker) Current() ExecutionPhase { return t.current }

// Completed returns the phases that were left behind, in order.
func (t *Tracker) Completed() []ExecutionPhase {
	out := make([]ExecutionPhase, len(t.completed))
	copy(out, t.completed)
	return out
}

// Apply validates and records a move to next. When allowed, the projected
// status is returned with ok=true if the phase has one.
func (t *Tracker) Apply(next ExecutionPhase) (d Decision, status task.Status, ok bool) {
	// Entering a phase marks the current one as finished, so the check runs
	// against the history including the phase being left.
	history := t.completed
	if t.current != Idle && t.current != next && !contains(history, t.current) {
		history = append(append([]ExecutionPhase(nil), history...), t.current)
	}

	d = CanTransition(t.current, next, history)
	if !d.Allowed {
		return d, "", false
	}
	t.completed = history
	t.current = next
	status, ok = StatusFor(next)
	return d, status, ok
}

func contains(list []ExecutionPhase, p ExecutionPhase) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}
