package specs

import "github.com/pablasso/autobuild/internal/task"

// MergePolicy picks the record to project when a spec exists in the main
// checkout and possibly in its task worktree. diverged reports that the two
// copies disagree about status.
type MergePolicy func(main SpecRecord, wt *SpecRecord) (winner SpecRecord, diverged bool)

// PreferWorktree is the default policy: the worktree copy holds the freshest
// in-flight data and wins whenever it has a plan file.
func PreferWorktree(main SpecRecord, wt *SpecRecord) (SpecRecord, bool) {
	if wt == nil || wt.Plan.Missing {
		return main, false
	}
	return *wt, statusesDiffer(main, *wt)
}

func statusesDiffer(a, b SpecRecord) bool {
	if !a.Plan.OK() || !b.Plan.OK() {
		return false
	}
	ra, rb := a.rawStatus(), b.rawStatus()
	sa, okA := task.ParseStatus(ra)
	sb, okB := task.ParseStatus(rb)
	if okA && okB {
		return sa != sb
	}
	return ra != rb
}
