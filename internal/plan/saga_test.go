package plan

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/pablasso/autobuild/internal/task"
)

func setStatus(status string) func(*Plan) error {
	return func(p *Plan) error {
		p.Status = status
		return nil
	}
}

func TestWriteAll(t *testing.T) {
	t.Run("all copies written", func(t *testing.T) {
		dir := t.TempDir()
		primary := filepath.Join(dir, "wt", FileName)
		secondary := filepath.Join(dir, "main", FileName)
		Save(primary, New("x", "", "in_progress", testNow))
		Save(secondary, New("x", "", "in_progress", testNow))

		report := WriteAll([]string{primary, secondary}, setStatus("human_review"))
		if !report.OK() || report.Diverged() || report.Err() != nil {
			t.Fatalf("unexpected report %+v", report)
		}
		if len(report.Succeeded) != 2 {
			t.Errorf("succeeded = %v", report.Succeeded)
		}
		for _, p := range []string{primary, secondary} {
			if got := Load(p).Plan.Status; got != "human_review" {
				t.Errorf("%s status = %q", p, got)
			}
		}
	})

	t.Run("primary failure aborts", func(t *testing.T) {
		dir := t.TempDir()
		primary := filepath.Join(dir, "wt", FileName)
		secondary := filepath.Join(dir, "main", FileName)
		writeRaw(t, primary, "{broken")
		Save(secondary, New("x", "", "in_progress", testNow))

		report := WriteAll([]string{primary, secondary}, setStatus("done"))
		if report.OK() {
			t.Fatal("expected primary failure")
		}
		if len(report.Succeeded) != 0 {
			t.Errorf("no copy should be written, got %v", report.Succeeded)
		}
		if got := Load(secondary).Plan.Status; got != "in_progress" {
			t.Errorf("secondary was written after primary failure: %q", got)
		}

		var wf *WriteFailure
		if !errors.As(report.Err(), &wf) || !wf.PrimaryFailed() {
			t.Errorf("expected primary WriteFailure, got %v", report.Err())
		}
	})

	t.Run("secondary failure diverges", func(t *testing.T) {
		dir := t.TempDir()
		primary := filepath.Join(dir, "wt", FileName)
		secondary := filepath.Join(dir, "main", FileName)
		Save(primary, New("x", "", "in_progress", testNow))
		writeRaw(t, secondary, "{broken")

		report := WriteAll([]string{primary, secondary}, setStatus("done"))
		if !report.OK() || !report.Diverged() {
			t.Fatalf("expected OK and diverged, got %+v", report)
		}
		if _, ok := report.Failed[secondary]; !ok {
			t.Errorf("secondary failure not recorded: %+v", report.Failed)
		}
		if got := Load(primary).Plan.Status; got != "done" {
			t.Errorf("primary status = %q", got)
		}
		var wf *WriteFailure
		if !errors.As(report.Err(), &wf) || wf.PrimaryFailed() {
			t.Errorf("expected secondary-only WriteFailure, got %v", report.Err())
		}
	})

	t.Run("mutate error counts as failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		Save(path, New("x", "", "backlog", testNow))

		report := WriteAll([]string{path}, func(*Plan) error { return errors.New("nope") })
		if report.OK() {
			t.Error("expected failure")
		}
	})

	t.Run("duplicate paths written once", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		Save(path, New("x", "", "backlog", testNow))

		calls := 0
		report := WriteAll([]string{path, path}, func(p *Plan) error {
			calls++
			return nil
		})
		if !report.OK() || calls != 1 {
			t.Errorf("calls = %d, report = %+v", calls, report)
		}
	})

	t.Run("no paths", func(t *testing.T) {
		if report := WriteAll(nil, setStatus("done")); report.OK() {
			t.Error("empty write should not be OK")
		}
	})
}

func TestPersistStatusAll(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "wt", FileName)
	secondary := filepath.Join(dir, "main", FileName)
	Save(primary, New("x", "", "in_progress", testNow))
	Save(secondary, New("x", "", "backlog", testNow))

	changed, report := PersistStatusAll([]string{primary, secondary}, task.StatusBacklog, testNow)
	if !report.OK() || report.Diverged() {
		t.Fatalf("unexpected report %+v", report)
	}
	if !changed {
		t.Error("expected the primary to be rewritten")
	}
	for _, path := range []string{primary, secondary} {
		if got := Load(path).Plan.Status; got != "backlog" {
			t.Errorf("%s status = %q", path, got)
		}
	}

	changed, _ = PersistStatusAll([]string{primary, secondary}, task.StatusBacklog, testNow)
	if changed {
		t.Error("second write should be a no-op")
	}
}
