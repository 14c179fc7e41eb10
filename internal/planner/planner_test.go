package planner_test

import (
	"testing"

	"github.com/brdv/stck/internal/forge"
	"github.com/brdv/stck/internal/planner"
	"github.com/stretchr/testify/assert"
)

func pr(number int, head, base string, state forge.PRState) forge.PullRequest {
	return forge.PullRequest{Number: number, HeadRef: head, BaseRef: base, State: state}
}

// S1: aligned stack of only open PRs produces an empty plan.
func TestBuildSyncPlan_S1_LinearAligned(t *testing.T) {
	stack := []forge.PullRequest{
		pr(100, "feature-base", "main", forge.PRStateOpen),
		pr(101, "feature-mid", "feature-base", forge.PRStateOpen),
		pr(102, "feature-top", "feature-mid", forge.PRStateOpen),
	}

	steps := planner.BuildSyncPlan(stack, "main", false)
	assert.Empty(t, steps)
}

// S2: parent merged propagates a rebase to every open descendant, even
// when its own recorded base already matches.
func TestBuildSyncPlan_S2_ParentMerged(t *testing.T) {
	stack := []forge.PullRequest{
		pr(100, "feature-base", "main", forge.PRStateMerged),
		pr(101, "feature-mid", "feature-base", forge.PRStateOpen),
		pr(102, "feature-top", "feature-mid", forge.PRStateOpen),
	}

	steps := planner.BuildSyncPlan(stack, "main", false)
	assert.Equal(t, []planner.SyncStep{
		{Branch: "feature-mid", OldBaseRef: "feature-base", NewBaseRef: "main"},
		{Branch: "feature-top", OldBaseRef: "feature-mid", NewBaseRef: "feature-mid"},
	}, steps)
}

// S3: base mismatch emits a single corrective step.
func TestBuildSyncPlan_S3_BaseMismatch(t *testing.T) {
	stack := []forge.PullRequest{
		pr(100, "feature-a", "main", forge.PRStateOpen),
		pr(101, "feature-b", "main", forge.PRStateOpen),
	}

	steps := planner.BuildSyncPlan(stack, "main", false)
	assert.Equal(t, []planner.SyncStep{
		{Branch: "feature-b", OldBaseRef: "main", NewBaseRef: "feature-a"},
	}, steps)
}

func TestBuildSyncPlan_ForceRewriteFirstOpen(t *testing.T) {
	stack := []forge.PullRequest{
		pr(100, "feature-base", "main", forge.PRStateOpen),
		pr(101, "feature-mid", "feature-base", forge.PRStateOpen),
	}

	steps := planner.BuildSyncPlan(stack, "main", true)
	assert.Equal(t, []planner.SyncStep{
		{Branch: "feature-base", OldBaseRef: "main", NewBaseRef: "main"},
		{Branch: "feature-mid", OldBaseRef: "feature-base", NewBaseRef: "feature-base"},
	}, steps)
}

func TestBuildPushPlan_Ordering(t *testing.T) {
	stack := []forge.PullRequest{
		pr(100, "feature-branch", "main", forge.PRStateOpen),
		pr(101, "feature-child", "feature-branch", forge.PRStateOpen),
	}

	pushBranches, retargets := planner.BuildPushPlan(stack, "main", nil)
	assert.Equal(t, []string{"feature-branch", "feature-child"}, pushBranches)
	assert.Equal(t, []planner.RetargetStep{
		{Branch: "feature-branch", NewBase: "main"},
		{Branch: "feature-child", NewBase: "feature-branch"},
	}, retargets)
}

func TestBuildPushPlan_ReusesLastSyncPlan(t *testing.T) {
	stack := []forge.PullRequest{
		pr(100, "feature-branch", "main", forge.PRStateOpen),
	}
	reuse := &planner.LastSyncPlan{
		DefaultBranch: "main",
		Retargets:     []planner.RetargetStep{{Branch: "feature-branch", NewBase: "cached-base"}},
	}

	_, retargets := planner.BuildPushPlan(stack, "main", reuse)
	assert.Equal(t, reuse.Retargets, retargets)
}

func TestBuildPushPlan_SkipsReuseWhenDefaultBranchChanged(t *testing.T) {
	stack := []forge.PullRequest{
		pr(100, "feature-branch", "main", forge.PRStateOpen),
	}
	reuse := &planner.LastSyncPlan{
		DefaultBranch: "develop",
		Retargets:     []planner.RetargetStep{{Branch: "feature-branch", NewBase: "cached-base"}},
	}

	_, retargets := planner.BuildPushPlan(stack, "main", reuse)
	assert.Equal(t, []planner.RetargetStep{{Branch: "feature-branch", NewBase: "main"}}, retargets)
}

func TestBuildSyncPlan_MergedAreSkippedEntirely(t *testing.T) {
	stack := []forge.PullRequest{
		pr(100, "feature-a", "main", forge.PRStateMerged),
		pr(101, "feature-b", "feature-a", forge.PRStateMerged),
		pr(102, "feature-c", "feature-b", forge.PRStateOpen),
	}

	steps := planner.BuildSyncPlan(stack, "main", false)
	assert.Equal(t, []planner.SyncStep{
		{Branch: "feature-c", OldBaseRef: "feature-b", NewBaseRef: "main"},
	}, steps)
}
