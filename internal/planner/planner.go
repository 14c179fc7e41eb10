// Package planner computes the ordered steps that restore and propagate a
// stack: the sync planner's rebase sequence and the push planner's
// push/retarget sequence. Both planners work from pure PR-graph inputs;
// neither calls a gateway directly, which keeps them deterministic and
// unit-testable (see SPEC_FULL.md §4.3's rationale).
package planner

import "github.com/brdv/stck/internal/forge"

// SyncStep is a single `rebase --onto newBaseRef oldBaseRef branch`
// instruction.
type SyncStep struct {
	Branch     string `json:"branch"`
	OldBaseRef string `json:"old_base_ref"`
	NewBaseRef string `json:"new_base_ref"`
}

// RetargetStep changes a PR's base branch on the forge without touching
// its commits.
type RetargetStep struct {
	Branch  string `json:"branch"`
	NewBase string `json:"new_base"`
}

// BuildSyncPlan produces the minimal ordered list of SyncSteps that
// restores stack[i].BaseRef == expectedBase(i) and carries any rewrite
// forward to descendants.
//
// forceRewriteFirstOpen forces a rebase of the first open PR in the stack
// (and, by propagation, every open descendant) even when its recorded
// base already matches the default branch — used when the default branch
// itself has advanced past the stack root.
func BuildSyncPlan(stack []forge.PullRequest, defaultBranch string, forceRewriteFirstOpen bool) []SyncStep {
	var steps []SyncStep

	var prevOpen string
	haveePrevOpen := false
	prevRewritten := false
	firstOpenSeen := false

	for _, pr := range stack {
		if pr.IsMerged() {
			continue
		}

		targetBase := defaultBranch
		if haveePrevOpen {
			targetBase = prevOpen
		}

		baseChanged := pr.BaseRef != targetBase
		forceThis := forceRewriteFirstOpen && !firstOpenSeen
		needsRebase := baseChanged || prevRewritten || forceThis
		firstOpenSeen = true

		if needsRebase {
			steps = append(steps, SyncStep{
				Branch:     pr.HeadRef,
				OldBaseRef: pr.BaseRef,
				NewBaseRef: targetBase,
			})
		}

		prevOpen = pr.HeadRef
		haveePrevOpen = true
		prevRewritten = needsRebase
	}

	return steps
}

// BuildPushPlan derives the push and retarget lists for every open PR in
// the stack. pushBranches is the head ref of every open PR in stack order
// (the orchestrator is expected to filter this down to branches whose
// local head actually differs from their remote-tracking head before
// persisting state). retargets pairs each open PR's head with its correct
// base (the previous open PR's head, or defaultBranch for the first).
//
// If reuse is non-nil and its DefaultBranch matches defaultBranch, its
// Retargets are returned verbatim instead of being recomputed.
func BuildPushPlan(
	stack []forge.PullRequest,
	defaultBranch string,
	reuse *LastSyncPlan,
) (pushBranches []string, retargets []RetargetStep) {
	for _, pr := range stack {
		if pr.IsMerged() {
			continue
		}
		pushBranches = append(pushBranches, pr.HeadRef)
	}

	if reuse != nil && reuse.DefaultBranch == defaultBranch {
		return pushBranches, reuse.Retargets
	}

	var prevOpen string
	haveePrevOpen := false
	for _, pr := range stack {
		if pr.IsMerged() {
			continue
		}
		newBase := defaultBranch
		if haveePrevOpen {
			newBase = prevOpen
		}
		retargets = append(retargets, RetargetStep{Branch: pr.HeadRef, NewBase: newBase})
		prevOpen = pr.HeadRef
		haveePrevOpen = true
	}

	return pushBranches, retargets
}

// LastSyncPlan is the cached result of the most recent successful sync,
// consumed by the push planner to avoid recomputing retargets when the
// default branch has not changed. It mirrors opstate.LastSyncPlan's shape
// without importing that package, to keep planner free of persistence
// concerns.
type LastSyncPlan struct {
	DefaultBranch string         `json:"default_branch"`
	Retargets     []RetargetStep `json:"retargets"`
}
