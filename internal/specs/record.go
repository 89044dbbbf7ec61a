package specs

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/task"
)

// SpecRecord is everything read from one copy of a spec directory.
type SpecRecord struct {
	SpecID   string
	Dir      string
	Location task.Location
	Plan     plan.LoadResult
	Metadata plan.Metadata
	// MetadataErr is set when task_metadata.json exists but cannot be read.
	MetadataErr error
	QA          plan.QAVerdict
	ModTime     time.Time
}

// LoadRecord reads the spec directory at dir.
func LoadRecord(dir string, loc task.Location) SpecRecord {
	rec := SpecRecord{
		SpecID:   filepath.Base(dir),
		Dir:      dir,
		Location: loc,
		Plan:     plan.Load(filepath.Join(dir, plan.FileName)),
		QA:       plan.ReadQAReport(dir),
	}
	rec.Metadata, rec.MetadataErr = plan.LoadMetadata(dir)
	if info, err := os.Stat(dir); err == nil {
		rec.ModTime = info.ModTime()
	}
	return rec
}

// rawStatus returns the persisted status string, or "" without a plan.
func (r SpecRecord) rawStatus() string {
	if !r.Plan.OK() {
		return ""
	}
	return r.Plan.Plan.Status
}
