package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pablasso/autobuild/internal/task"
)

// WriteReport records the outcome of a multi-copy write. The first path
// given to WriteAll is the primary copy.
type WriteReport struct {
	Primary   string
	Succeeded []string
	Failed    map[string]error
}

// OK reports whether the primary copy was written.
func (r WriteReport) OK() bool {
	_, failed := r.Failed[r.Primary]
	return r.Primary != "" && !failed
}

// Diverged reports whether the primary was written but a secondary was not.
// The copies disagree until the next successful write or a scan flags them.
func (r WriteReport) Diverged() bool {
	return r.OK() && len(r.Failed) > 0
}

// Err returns a *WriteFailure when any copy failed, nil otherwise.
func (r WriteReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &WriteFailure{Primary: r.Primary, Failed: r.Failed}
}

// WriteFailure describes the copies a multi-copy write could not update.
type WriteFailure struct {
	Primary string
	Failed  map[string]error
}

// PrimaryFailed reports whether the failure includes the primary copy.
func (e *WriteFailure) PrimaryFailed() bool {
	_, ok := e.Failed[e.Primary]
	return ok
}

func (e *WriteFailure) Error() string {
	paths := make([]string, 0, len(e.Failed))
	for p := range e.Failed {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, fmt.Sprintf("%s: %v", p, e.Failed[p]))
	}
	if e.PrimaryFailed() {
		return "primary plan write failed: " + strings.Join(parts, "; ")
	}
	return "plan copies diverged: " + strings.Join(parts, "; ")
}

// WriteAll applies mutate to every copy of a plan and saves each one.
//
// The primary (paths[0]) is written first; if it cannot be loaded, mutated
// or saved, no secondary is touched. Each secondary is then loaded and
// mutated on its own, so fields the agent wrote only to that copy survive.
// A secondary failure is recorded and does not undo the primary write.
func WriteAll(paths []string, mutate func(*Plan) error) WriteReport {
	return eachCopy(paths, func(path string) error {
		return writeOne(path, mutate)
	})
}

// PersistStatusAll runs PersistStatus against every copy with the same
// primary-first rules as WriteAll. changed reports whether any copy was
// rewritten.
func PersistStatusAll(paths []string, status task.Status, now time.Time) (changed bool, report WriteReport) {
	report = eachCopy(paths, func(path string) error {
		c, err := PersistStatus(path, status, now)
		changed = changed || c
		return err
	})
	return changed, report
}

func eachCopy(paths []string, write func(path string) error) WriteReport {
	report := WriteReport{Failed: map[string]error{}}
	if len(paths) == 0 {
		return report
	}
	report.Primary = paths[0]

	seen := map[string]bool{}
	for i, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true

		if err := write(path); err != nil {
			report.Failed[path] = err
			if i == 0 {
				return report
			}
			continue
		}
		report.Succeeded = append(report.Succeeded, path)
	}
	return report
}

func writeOne(path string, mutate func(*Plan) error) error {
	p, err := load(path)
	if err != nil {
		return err
	}
	if err := mutate(p); err != nil {
		return err
	}
	return Save(path, p)
}
