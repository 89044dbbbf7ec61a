package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pablasso/autobuild/internal/util"
)

// Spec directory file names.
const (
	MetadataFileName     = "task_metadata.json"
	RequirementsFileName = "requirements.json"
	SpecFileName         = "spec.md"
	QAReportFileName     = "QA_REPORT.md"
	QAFixRequestFileName = "QA_FIX_REQUEST.md"
	OutputLogFileName    = "output.log"
)

// SourceType records where a task came from.
type SourceType string

const (
	SourceManual   SourceType = "manual"
	SourceIdeation SourceType = "ideation"
	SourceRoadmap  SourceType = "roadmap"
	SourceImported SourceType = "imported"
	// SourceDirect tasks skip AI review and go straight to human review.
	SourceDirect SourceType = "direct"
)

// ParseSourceType validates a user-supplied source type. Empty means manual.
func ParseSourceType(s string) (SourceType, error) {
	switch st := SourceType(s); st {
	case "":
		return SourceManual, nil
	case SourceManual, SourceIdeation, SourceRoadmap, SourceImported, SourceDirect:
		return st, nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// BypassesAIReview reports whether finished work skips ai_review.
func (s SourceType) BypassesAIReview() bool {
	return s == SourceDirect
}

// Metadata is the task_metadata.json document.
type Metadata struct {
	SourceType                SourceType `json:"sourceType,omitempty"`
	RequireReviewBeforeCoding bool       `json:"requireReviewBeforeCoding,omitempty"`
	ArchivedAt                *time.Time `json:"archivedAt,omitempty"`
	BaseBranch                string     `json:"baseBranch,omitempty"`
	Model                     string     `json:"model,omitempty"`
}

// Archived reports whether the task has been retired.
func (m Metadata) Archived() bool {
	return m.ArchivedAt != nil
}

// LoadMetadata reads the metadata file in specDir. A missing file yields
// zero metadata.
func LoadMetadata(specDir string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(filepath.Join(specDir, MetadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, fmt.Errorf("failed to read %s: %w", MetadataFileName, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse %s: %w", MetadataFileName, err)
	}
	return m, nil
}

// SaveMetadata atomically writes the metadata file in specDir.
func SaveMetadata(specDir string, m Metadata) error {
	return util.WriteJSONAtomic(filepath.Join(specDir, MetadataFileName), m)
}

// Requirements is the requirements.json document written at creation.
type Requirements struct {
	TaskDescription string `json:"task_description"`
	WorkflowType    string `json:"workflow_type"`
}

// SaveRequirements atomically writes requirements.json in specDir.
func SaveRequirements(specDir string, r Requirements) error {
	return util.WriteJSONAtomic(filepath.Join(specDir, RequirementsFileName), r)
}
