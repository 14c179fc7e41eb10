// Package status annotates a discovered stack with the flags a reviewer
// needs at a glance: base_mismatch, needs_sync, needs_push, and a summary.
// Flags derived purely from the PR graph are computed here; the two
// signals that require a VCS query (default-branch-advanced and
// remote-tracking divergence) are left for the orchestrator to enrich,
// per spec.md §4.2's explicit split.
package status

import "github.com/brdv/stck/internal/forge"

// Line is the per-PR annotation in a status report.
type Line struct {
	Branch string
	Number int
	State  forge.PRState
	Base   string
	Head   string

	BaseMismatch bool
	NeedsSync    bool
	NeedsPush    bool
}

// Flags returns this line's set flags in the fixed display order:
// base_mismatch, needs_sync, needs_push.
func (l Line) Flags() []string {
	var flags []string
	if l.BaseMismatch {
		flags = append(flags, "base_mismatch")
	}
	if l.NeedsSync {
		flags = append(flags, "needs_sync")
	}
	if l.NeedsPush {
		flags = append(flags, "needs_push")
	}
	return flags
}

// Report is the full status of a stack: one Line per PR plus aggregate
// counts.
type Report struct {
	Lines []Line

	BaseMismatchCount int
	NeedsSyncCount    int
	NeedsPushCount    int
}

// BuildReport computes the PR-graph-only flags for every PR in stack.
// needs_push is left false for every line; the orchestrator sets it after
// comparing each branch's local and remote-tracking heads. needs_sync may
// be further set by the orchestrator for the first open PR whose base is
// the default branch, if the remote-tracking default has advanced beyond
// it.
func BuildReport(stack []forge.PullRequest, defaultBranch string) Report {
	report := Report{Lines: make([]Line, len(stack))}

	for i, pr := range stack {
		expectedBase := defaultBranch
		if i > 0 {
			expectedBase = stack[i-1].HeadRef
		}
		baseMismatch := pr.BaseRef != expectedBase
		parentMerged := i > 0 && stack[i-1].IsMerged()
		needsSync := baseMismatch || parentMerged

		line := Line{
			Branch:       pr.HeadRef,
			Number:       pr.Number,
			State:        pr.State,
			Base:         pr.BaseRef,
			Head:         pr.HeadRef,
			BaseMismatch: baseMismatch,
			NeedsSync:    needsSync,
		}
		report.Lines[i] = line

		if baseMismatch {
			report.BaseMismatchCount++
		}
		if needsSync {
			report.NeedsSyncCount++
		}
	}

	return report
}

// MarkRootNeedsSync sets needs_sync on the first line (the stack root)
// when the orchestrator has determined that the remote-tracking default
// branch is not an ancestor of the root branch's tip.
func (r *Report) MarkRootNeedsSync() {
	if len(r.Lines) == 0 {
		return
	}
	if !r.Lines[0].NeedsSync {
		r.Lines[0].NeedsSync = true
		r.NeedsSyncCount++
	}
}

// MarkNeedsPush sets needs_push on the line for the given branch, if
// present, and updates the aggregate count.
func (r *Report) MarkNeedsPush(branch string) {
	for i := range r.Lines {
		if r.Lines[i].Branch == branch && !r.Lines[i].NeedsPush {
			r.Lines[i].NeedsPush = true
			r.NeedsPushCount++
			return
		}
	}
}
