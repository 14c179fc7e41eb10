// Package discovery builds the linear stack implied by a repository's
// GitHub pull requests, per spec.md §4.1: GitHub's PR graph is treated as
// the authoritative stack topology, since local branch graphs are
// unreliable once a branch has been merged or squashed.
package discovery

import (
	"strings"

	"emperror.dev/errors"
	"github.com/brdv/stck/internal/forge"
	"golang.org/x/exp/slices"
)

// DiscoverStack builds the linear stack of pull requests rooted at
// defaultBranch and passing through currentBranch, by walking downward
// toward the default branch via base refs and upward toward descendants
// via a single-child scan. Merged and closed ancestors remain in the
// returned sequence; they are part of the stack's historical shape and
// inform the planner.
func DiscoverStack(prs []forge.PullRequest, currentBranch, defaultBranch string) ([]forge.PullRequest, error) {
	byHead := make(map[string]forge.PullRequest, len(prs))
	for _, pr := range prs {
		byHead[pr.HeadRef] = pr
	}

	current, ok := byHead[currentBranch]
	if !ok {
		return nil, errors.Errorf("no PR found for branch %s; create a PR first", currentBranch)
	}

	downward, err := walkDownward(byHead, current, defaultBranch)
	if err != nil {
		return nil, err
	}

	upward, err := walkUpward(prs, current)
	if err != nil {
		return nil, err
	}

	stack := make([]forge.PullRequest, 0, len(downward)+1+len(upward))
	stack = append(stack, downward...)
	stack = append(stack, current)
	stack = append(stack, upward...)
	return stack, nil
}

// walkDownward follows baseRef links from current toward defaultBranch,
// returning the ancestor chain in ancestor-first order (current excluded).
func walkDownward(
	byHead map[string]forge.PullRequest,
	current forge.PullRequest,
	defaultBranch string,
) ([]forge.PullRequest, error) {
	var reversed []forge.PullRequest
	seen := map[string]bool{current.HeadRef: true}

	cursor := current
	for cursor.BaseRef != defaultBranch {
		parent, ok := byHead[cursor.BaseRef]
		if !ok {
			return nil, errors.Errorf("no PR found for branch %s; create a PR first", cursor.BaseRef)
		}
		if seen[parent.HeadRef] {
			return nil, errors.Errorf("cycle detected in stack at branch %s", parent.HeadRef)
		}
		seen[parent.HeadRef] = true
		reversed = append(reversed, parent)
		cursor = parent
	}

	// reversed is deepest-first (closest ancestor to current first); the
	// caller wants ancestor-first (closest to the default branch first).
	out := make([]forge.PullRequest, len(reversed))
	for i, pr := range reversed {
		out[len(reversed)-1-i] = pr
	}
	return out, nil
}

// walkUpward scans for single-child descendants of current, stopping at
// the first fanout or dead end.
func walkUpward(prs []forge.PullRequest, current forge.PullRequest) ([]forge.PullRequest, error) {
	var upward []forge.PullRequest
	cursor := current
	for {
		var candidates []forge.PullRequest
		for _, pr := range prs {
			if pr.BaseRef == cursor.HeadRef {
				candidates = append(candidates, pr)
			}
		}
		slices.SortFunc(candidates, func(a, b forge.PullRequest) int {
			return strings.Compare(a.HeadRef, b.HeadRef)
		})

		switch len(candidates) {
		case 0:
			return upward, nil
		case 1:
			cursor = candidates[0]
			upward = append(upward, cursor)
		default:
			heads := make([]string, len(candidates))
			for i, c := range candidates {
				heads[i] = c.HeadRef
			}
			return nil, errors.Errorf(
				"non-linear stack detected at %s; child candidates: %s",
				cursor.HeadRef,
				strings.Join(heads, ", "),
			)
		}
	}
}
