package planner

import (
	"emperror.dev/errors"
	"github.com/brdv/stck/internal/vcs"
)

// RebaseBoundary derives the commit to pass as rebase --onto's oldBase
// argument for a single SyncStep, since the recorded base ref's tip may
// have advanced since the PR's metadata was last read. Candidates are
// tried in order, stopping at first success, grounded verbatim on
// original_source's derive_rebase_boundary:
//
//  1. fork-point between a resolvable candidate for oldBaseRef (local
//     head, then remote-tracking) and the branch's local head.
//  2. merge-base between the same candidates and the branch head.
//  3. merge-base between candidates for newBaseRef and the branch head.
//  4. the raw resolved SHA of the old base ref (local preferred over
//     remote).
func RebaseBoundary(gw vcs.Gateway, step SyncStep) (string, error) {
	branchRef := vcs.LocalRef(step.Branch)

	oldBaseCandidates := resolvableRefs(gw, step.OldBaseRef)
	for _, candidate := range oldBaseCandidates {
		if sha, err := gw.ForkPoint(candidate, branchRef); err == nil {
			return sha, nil
		}
	}

	for _, candidate := range oldBaseCandidates {
		if sha, err := gw.MergeBase(candidate, branchRef); err == nil {
			return sha, nil
		}
	}

	newBaseCandidates := resolvableRefs(gw, step.NewBaseRef)
	for _, candidate := range newBaseCandidates {
		if sha, err := gw.MergeBase(candidate, branchRef); err == nil {
			return sha, nil
		}
	}

	return resolveOldBaseRaw(gw, step.OldBaseRef)
}

// resolvableRefs returns the local and remote-tracking ref forms of
// branch that actually resolve, local first.
func resolvableRefs(gw vcs.Gateway, branch string) []string {
	var out []string
	local := vcs.LocalRef(branch)
	if exists, err := gw.BranchExists(branch); err == nil && exists {
		out = append(out, local)
	}
	if exists, err := gw.RemoteBranchExists(branch); err == nil && exists {
		out = append(out, vcs.RemoteTrackingRef(vcs.DefaultRemoteName, branch))
	}
	return out
}

func resolveOldBaseRaw(gw vcs.Gateway, baseBranch string) (string, error) {
	if sha, err := gw.ResolveRef(vcs.LocalRef(baseBranch)); err == nil {
		return sha, nil
	}
	if sha, err := gw.ResolveRef(vcs.RemoteTrackingRef(vcs.DefaultRemoteName, baseBranch)); err == nil {
		return sha, nil
	}
	return "", errors.Errorf(
		"could not resolve old base branch %s locally or on origin; fetch and/or restore the branch, then rerun `stck sync`",
		baseBranch,
	)
}
