package specs

import (
	"github.com/pablasso/autobuild/internal/phase"
	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/task"
)

// CorruptedPrefix starts the description of a task whose plan cannot be parsed.
const CorruptedPrefix = "⚠️ Plan file is corrupted: "

// DeriveStatus computes the user-facing status of a spec record. Rules are
// applied in priority order; the first match wins.
func DeriveStatus(rec SpecRecord) (task.Status, task.ReviewReason) {
	if rec.Plan.Err != nil {
		return task.StatusHumanReview, task.ReasonErrors
	}

	var (
		p      *plan.Plan
		counts task.SubtaskCounts
	)
	if rec.Plan.OK() {
		p = rec.Plan.Plan
		counts = p.Counts()
	}

	stored, known := task.ParseStatus(rec.rawStatus())

	// 1. Terminal statuses are a fixed point.
	if known && stored.IsTerminal() {
		return stored, task.ReasonNone
	}

	// 2. An active phase holds in_progress while the agent runs.
	if p != nil && activeMarker(p) {
		return task.StatusInProgress, task.ReasonNone
	}

	// 3. Review statuses are preserved.
	if known && stored == task.StatusHumanReview {
		return stored, reviewReason(p, counts)
	}
	if known && stored == task.StatusAIReview {
		return stored, task.ReasonNone
	}

	// 4. QA report.
	switch rec.QA {
	case plan.QARejected:
		return task.StatusHumanReview, task.ReasonQARejected
	case plan.QAApproved:
		if counts.AllCompleted() {
			return task.StatusHumanReview, task.ReasonCompleted
		}
	}

	// 5. Subtask evidence.
	return fromCounts(counts, rec.Metadata.SourceType)
}

// activeMarker reports whether the persisted phase says a process is working.
// executionPhase is used when the agent wrote one, the status string otherwise.
func activeMarker(p *plan.Plan) bool {
	marker := p.ExecutionPhase
	if marker == "" {
		marker = p.Status
	}
	switch marker {
	case string(phase.Planning), string(phase.Coding), string(task.StatusInProgress):
		return true
	}
	return false
}

func reviewReason(p *plan.Plan, counts task.SubtaskCounts) task.ReviewReason {
	switch {
	case p != nil && p.PlanStatus == plan.PlanStatusReview:
		return task.ReasonPlanReview
	case counts.Failed > 0:
		return task.ReasonErrors
	case counts.AllCompleted():
		return task.ReasonCompleted
	}
	return task.ReasonNone
}

func fromCounts(c task.SubtaskCounts, source plan.SourceType) (task.Status, task.ReviewReason) {
	switch {
	case c.AllCompleted():
		if source.BypassesAIReview() {
			return task.StatusHumanReview, task.ReasonCompleted
		}
		return task.StatusAIReview, task.ReasonNone
	case c.Failed > 0:
		return task.StatusHumanReview, task.ReasonErrors
	case c.InProgress > 0 || c.Completed > 0:
		return task.StatusInProgress, task.ReasonNone
	}
	return task.StatusBacklog, task.ReasonNone
}
