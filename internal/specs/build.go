package specs

import (
	"os"
	"path/filepath"

	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/task"
)

// BuildTask builds the task for a spec. rec is the copy chosen by the merge
// policy; main is the main checkout copy, which owns archival.
func BuildTask(projectID string, rec, main SpecRecord) task.Task {
	if rec.Metadata.SourceType == "" {
		rec.Metadata.SourceType = main.Metadata.SourceType
	}
	status, reason := DeriveStatus(rec)
	t := task.Task{
		SpecID:       rec.SpecID,
		ProjectID:    projectID,
		Title:        rec.SpecID,
		Status:       status,
		ReviewReason: reason,
		Subtasks:     []task.Subtask{},
		Location:     rec.Location,
		SpecPath:     rec.Dir,
		SourceType:   string(rec.Metadata.SourceType),
		Archived:     main.Metadata.Archived() || rec.Metadata.Archived(),
		CreatedAt:    rec.ModTime,
		UpdatedAt:    rec.ModTime,
	}
	if status != task.StatusHumanReview {
		t.ReviewReason = task.ReasonNone
	}

	switch {
	case rec.Plan.Err != nil:
		t.Corrupted = true
		t.Description = CorruptedPrefix + rec.Plan.Err.Error()
	case rec.Plan.OK():
		p := rec.Plan.Plan
		if p.Feature != "" {
			t.Title = p.Feature
		}
		t.Description = p.Description
		t.Subtasks = p.Views()
		if !p.CreatedAt.Time.IsZero() {
			t.CreatedAt = p.CreatedAt.Time
		}
		if !p.UpdatedAt.Time.IsZero() {
			t.UpdatedAt = p.UpdatedAt.Time
		} else if info, err := os.Stat(filepath.Join(rec.Dir, plan.FileName)); err == nil {
			t.UpdatedAt = info.ModTime()
		}
	}
	return t
}
