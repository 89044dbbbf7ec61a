package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/specs"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/util"
)

// InitialPlanStatus is the raw status written into a new plan. It reads
// back as backlog.
const InitialPlanStatus = "pending"

// CreateOptions are optional task attributes.
type CreateOptions struct {
	SourceType string
	BaseBranch string
	Model      string
	// RequireReview stops the task for plan review before coding.
	RequireReview bool
}

func specDir(p project.Project, specID string) string {
	return filepath.Join(specs.Dir(p.Path, p.AutoBuildPath), specID)
}

// CreateTask writes a new spec directory with an empty plan.
func (s *Service) CreateTask(ctx context.Context, projectID, title, description string, opts CreateOptions) (task.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return task.Task{}, errors.New("task title cannot be empty")
	}
	source, err := plan.ParseSourceType(opts.SourceType)
	if err != nil {
		return task.Task{}, err
	}
	p, err := s.project(projectID)
	if err != nil {
		return task.Task{}, err
	}

	specsDir := specs.Dir(p.Path, p.AutoBuildPath)
	if err := os.MkdirAll(specsDir, 0755); err != nil {
		return task.Task{}, fmt.Errorf("failed to create specs directory: %w", err)
	}

	// Two creations racing for the same number collide on Mkdir; retry with
	// the next free number.
	var specID, dir string
	for attempt := 0; attempt < 3; attempt++ {
		specID, err = specs.NextSpecID(specsDir, title)
		if err != nil {
			return task.Task{}, err
		}
		dir = filepath.Join(specsDir, specID)
		if err = os.Mkdir(dir, 0755); err == nil || !os.IsExist(err) {
			break
		}
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to create spec directory: %w", err)
	}

	if err := s.writeSpecFiles(dir, title, description, source, opts); err != nil {
		os.RemoveAll(dir)
		return task.Task{}, err
	}

	s.logEvent(specID, s.events(p, specID).Log(plan.EventTaskCreated, map[string]any{
		"title":       title,
		"source_type": string(source),
	}))
	s.logger.Info("task created", "project", p.Name, "spec", specID)

	s.deps.Scanner.Invalidate(p.ID)
	return s.deps.Scanner.FindTask(ctx, p, specID)
}

func (s *Service) writeSpecFiles(dir, title, description string, source plan.SourceType, opts CreateOptions) error {
	now := s.now()
	planPath := filepath.Join(dir, plan.FileName)
	if _, err := plan.CreateIfMissing(planPath, title, description, InitialPlanStatus, now); err != nil {
		return err
	}
	if opts.RequireReview {
		report := plan.WriteAll([]string{planPath}, func(pl *plan.Plan) error {
			pl.PlanStatus = plan.PlanStatusReview
			return nil
		})
		if err := report.Err(); err != nil {
			return err
		}
	}

	reqDescription := description
	if reqDescription == "" {
		reqDescription = title
	}
	if err := plan.SaveRequirements(dir, plan.Requirements{
		TaskDescription: reqDescription,
		WorkflowType:    "feature",
	}); err != nil {
		return fmt.Errorf("failed to write requirements: %w", err)
	}

	spec := "# " + title + "\n"
	if description != "" {
		spec += "\n" + description + "\n"
	}
	if err := util.WriteFileAtomic(filepath.Join(dir, plan.SpecFileName), []byte(spec)); err != nil {
		return fmt.Errorf("failed to write spec: %w", err)
	}

	return plan.SaveMetadata(dir, plan.Metadata{
		SourceType:                source,
		RequireReviewBeforeCoding: opts.RequireReview,
		BaseBranch:                opts.BaseBranch,
		Model:                     opts.Model,
	})
}
