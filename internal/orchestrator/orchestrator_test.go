package orchestrator_test

import (
	"testing"

	"github.com/brdv/stck/internal/forge"
	"github.com/brdv/stck/internal/opstate"
	"github.com/brdv/stck/internal/orchestrator"
	"github.com/brdv/stck/internal/planner"
	"github.com/brdv/stck/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVCS is an in-memory vcs.Gateway that tracks branch heads and
// records every mutating call, so tests can assert ordering (S5) and
// resume behavior (S6) without a real git checkout.
type fakeVCS struct {
	heads          map[string]string // local ref -> sha
	remoteHeads    map[string]string // remote-tracking ref -> sha
	upstreams      map[string]bool
	localBranches  map[string]bool
	remoteBranches map[string]bool
	rebaseInProg   bool

	pushedWithLease []string
	pushedUpstream  []string
	rebasesRun      []string
	actionLog       []string

	failRebaseOnBranch string
	failPushOnBranch   string
	noCommitsBranches  map[string]bool
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		heads:             map[string]string{},
		remoteHeads:       map[string]string{},
		upstreams:         map[string]bool{},
		localBranches:     map[string]bool{},
		remoteBranches:    map[string]bool{},
		noCommitsBranches: map[string]bool{},
	}
}

func (f *fakeVCS) GitDir() (string, error)        { return "/repo/.git", nil }
func (f *fakeVCS) CurrentBranch() (string, error) { return "feature-top", nil }
func (f *fakeVCS) OnNamedBranch() (bool, error)   { return true, nil }

func (f *fakeVCS) ResolveRef(ref string) (string, error) {
	if sha, ok := f.heads[ref]; ok {
		return sha, nil
	}
	if sha, ok := f.remoteHeads[ref]; ok {
		return sha, nil
	}
	return "", assertError("unresolvable ref " + ref)
}

func (f *fakeVCS) IsAncestor(ancestor, descendant string) (bool, error) { return true, nil }
func (f *fakeVCS) RevListCount(ancestor, descendant string) (int, error) {
	return 1, nil
}
func (f *fakeVCS) ForkPoint(base, branch string) (string, error) {
	return "", assertError("no fork point")
}
func (f *fakeVCS) MergeBase(refs ...string) (string, error) { return "merge-base-sha", nil }

func (f *fakeVCS) RebaseOnto(newBase, oldBase, branch string) error {
	f.rebasesRun = append(f.rebasesRun, branch)
	f.actionLog = append(f.actionLog, "rebase:"+branch)
	if branch == f.failRebaseOnBranch {
		return assertError("rebase conflict in " + branch)
	}
	f.heads[vcs.LocalRef(branch)] = "rebased-" + branch
	return nil
}

func (f *fakeVCS) RebaseInProgress() (bool, error) { return f.rebaseInProg, nil }

func (f *fakeVCS) ForcePushWithLease(branch string) error {
	if branch == f.failPushOnBranch {
		return assertError("push rejected for " + branch)
	}
	f.pushedWithLease = append(f.pushedWithLease, branch)
	f.actionLog = append(f.actionLog, "push:"+branch)
	f.remoteHeads[vcs.RemoteTrackingRef(vcs.DefaultRemoteName, branch)] = f.heads[vcs.LocalRef(branch)]
	return nil
}

func (f *fakeVCS) PushSetUpstream(branch string) error {
	if branch == f.failPushOnBranch {
		return assertError("push rejected for " + branch)
	}
	f.pushedUpstream = append(f.pushedUpstream, branch)
	f.upstreams[branch] = true
	f.remoteHeads[vcs.RemoteTrackingRef(vcs.DefaultRemoteName, branch)] = f.heads[vcs.LocalRef(branch)]
	return nil
}

func (f *fakeVCS) Checkout(branch string) error                { return nil }
func (f *fakeVCS) CheckoutNew(branch, startPoint string) error { return nil }

func (f *fakeVCS) BranchExists(branch string) (bool, error) {
	return f.localBranches[branch], nil
}
func (f *fakeVCS) RemoteBranchExists(branch string) (bool, error) {
	return f.remoteBranches[branch], nil
}
func (f *fakeVCS) HasUpstream(branch string) (bool, error) { return f.upstreams[branch], nil }
func (f *fakeVCS) HasCommitsBetween(base, head string) (bool, error) {
	return !f.noCommitsBranches[head], nil
}
func (f *fakeVCS) FetchOrigin() error                { return nil }
func (f *fakeVCS) OriginRemoteExists() (bool, error) { return true, nil }
func (f *fakeVCS) WorkingTreeClean() (bool, error)   { return true, nil }

var _ vcs.Gateway = (*fakeVCS)(nil)

type fakeForge struct {
	prs []forge.PullRequest

	editedRetargets []string
	failRetarget    string

	// actionLog, if set, receives a "retarget:<branch>" entry for every
	// successful EditBase, so it can share fakeVCS's log for ordering checks.
	actionLog *[]string
}

func (f *fakeForge) ListAll() ([]forge.PullRequest, error) { return f.prs, nil }

func (f *fakeForge) ViewByHead(branch string) (forge.PullRequest, error) {
	for _, pr := range f.prs {
		if pr.HeadRef == branch {
			return pr, nil
		}
	}
	return forge.PullRequest{}, &forge.ErrNotFound{Branch: branch}
}

func (f *fakeForge) Create(opts forge.CreateOpts) (forge.PullRequest, error) {
	pr := forge.PullRequest{Number: len(f.prs) + 1, HeadRef: opts.Head, BaseRef: opts.Base, State: forge.PRStateOpen}
	f.prs = append(f.prs, pr)
	return pr, nil
}

func (f *fakeForge) EditBase(number int, newBase string) error {
	if f.failRetarget != "" {
		for _, pr := range f.prs {
			if pr.Number == number && pr.HeadRef == f.failRetarget {
				return assertError("retarget failed for " + f.failRetarget)
			}
		}
	}
	f.editedRetargets = append(f.editedRetargets, newBase)
	for i, pr := range f.prs {
		if pr.Number == number {
			f.prs[i].BaseRef = newBase
			if f.actionLog != nil {
				*f.actionLog = append(*f.actionLog, "retarget:"+pr.HeadRef)
			}
		}
	}
	return nil
}

func (f *fakeForge) DefaultBranch() (string, error) { return "main", nil }
func (f *fakeForge) AuthStatus() error               { return nil }

var _ forge.Gateway = (*fakeForge)(nil)

type assertError string

func (e assertError) Error() string { return string(e) }

func pr(number int, head, base string, state forge.PRState) forge.PullRequest {
	return forge.PullRequest{Number: number, HeadRef: head, BaseRef: base, State: state}
}

func linearStack() []forge.PullRequest {
	return []forge.PullRequest{
		pr(100, "feature-base", "main", forge.PRStateOpen),
		pr(101, "feature-mid", "feature-base", forge.PRStateOpen),
		pr(102, "feature-top", "feature-mid", forge.PRStateOpen),
	}
}

func TestSync_AlreadyUpToDate_NoStateFileLeftBehind(t *testing.T) {
	gw := newFakeVCS()
	fg := &fakeForge{prs: linearStack()}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	upToDate, err := orch.Sync("feature-mid", "main", false, false)
	require.NoError(t, err)
	assert.True(t, upToDate)

	_, err = store.LoadSync()
	assert.ErrorIs(t, err, opstate.ErrNoOperationInProgress)
	assert.Empty(t, gw.rebasesRun)
}

// S2: parent merged propagates through the orchestrator end to end.
func TestSync_ParentMerged_RunsPropagatedRebases(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-base")] = "sha-base"
	gw.heads[vcs.LocalRef("feature-mid")] = "sha-mid"
	gw.heads[vcs.LocalRef("feature-top")] = "sha-top"

	stack := []forge.PullRequest{
		pr(100, "feature-base", "main", forge.PRStateMerged),
		pr(101, "feature-mid", "feature-base", forge.PRStateOpen),
		pr(102, "feature-top", "feature-mid", forge.PRStateOpen),
	}
	fg := &fakeForge{prs: stack}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	_, err := orch.Sync("feature-mid", "main", false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature-mid", "feature-top"}, gw.rebasesRun)

	_, err = store.LoadSync()
	assert.ErrorIs(t, err, opstate.ErrNoOperationInProgress)

	plan, err := store.LoadLastSyncPlan()
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "main", plan.DefaultBranch)
}

// S6: a failed rebase persists state; --continue while the branch head
// is unchanged (aborted) must refuse to resume.
func TestSync_ContinueAfterAbort_Refuses(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-base")] = "sha-base"
	gw.heads[vcs.LocalRef("feature-mid")] = "sha-mid"
	gw.failRebaseOnBranch = "feature-mid"

	fg := &fakeForge{prs: []forge.PullRequest{
		pr(100, "feature-base", "main", forge.PRStateMerged),
		pr(101, "feature-mid", "feature-base", forge.PRStateOpen),
	}}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	_, err := orch.Sync("feature-mid", "main", false, false)
	require.Error(t, err)

	state, loadErr := store.LoadSync()
	require.NoError(t, loadErr)
	require.NotNil(t, state.FailedStep)
	assert.Equal(t, "sha-mid", *state.FailedStepBranchHead)

	// Branch head unchanged -> user aborted -> --continue must refuse.
	_, err = orch.Sync("feature-mid", "main", true, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completed rebase detected for feature-mid")
}

// S6: --continue after the branch head has advanced (manual resolution)
// completes the plan.
func TestSync_ContinueAfterManualResolution_Completes(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-base")] = "sha-base"
	gw.heads[vcs.LocalRef("feature-mid")] = "sha-mid"
	gw.failRebaseOnBranch = "feature-mid"

	fg := &fakeForge{prs: []forge.PullRequest{
		pr(100, "feature-base", "main", forge.PRStateMerged),
		pr(101, "feature-mid", "feature-base", forge.PRStateOpen),
	}}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	_, err := orch.Sync("feature-mid", "main", false, false)
	require.Error(t, err)

	// User manually resolved and advanced the branch head.
	gw.failRebaseOnBranch = ""
	gw.heads[vcs.LocalRef("feature-mid")] = "sha-mid-resolved"

	_, err = orch.Sync("feature-mid", "main", true, false)
	require.NoError(t, err)

	_, err = store.LoadSync()
	assert.ErrorIs(t, err, opstate.ErrNoOperationInProgress)
}

// Resume idempotence: once a sync's rebase has run and its retarget has
// landed on the forge (as push would do), running sync again against the
// now-accurate PR graph performs zero further rebases.
func TestSync_ResumeIdempotence(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-a")] = "sha-a"
	gw.heads[vcs.LocalRef("feature-b")] = "sha-b"

	fg := &fakeForge{prs: []forge.PullRequest{
		pr(100, "feature-a", "main", forge.PRStateMerged),
		pr(101, "feature-b", "feature-a", forge.PRStateOpen),
	}}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	_, err := orch.Sync("feature-b", "main", false, false)
	require.NoError(t, err)
	assert.Len(t, gw.rebasesRun, 1)

	// Simulate the retarget a subsequent push would apply.
	fg.prs[1].BaseRef = "main"

	upToDate, err := orch.Sync("feature-b", "main", false, false)
	require.NoError(t, err)
	assert.True(t, upToDate)
	assert.Len(t, gw.rebasesRun, 1)
}

// S5: every push completes before any retarget is attempted.
func TestPush_AllPushesBeforeAnyRetarget(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-branch")] = "sha-branch"
	gw.heads[vcs.LocalRef("feature-child")] = "sha-child"
	gw.upstreams["feature-branch"] = true
	gw.upstreams["feature-child"] = true

	fg := &fakeForge{prs: []forge.PullRequest{
		pr(100, "feature-branch", "main", forge.PRStateOpen),
		pr(101, "feature-child", "feature-branch", forge.PRStateOpen),
	}, actionLog: &gw.actionLog}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	pushed, retargeted, err := orch.Push("feature-child", "main")
	require.NoError(t, err)
	assert.Equal(t, 2, pushed)
	assert.Equal(t, 2, retargeted)

	require.Len(t, gw.pushedWithLease, 2)
	require.Len(t, fg.editedRetargets, 2)

	assert.Equal(t, []string{
		"push:feature-branch", "push:feature-child",
		"retarget:feature-branch", "retarget:feature-child",
	}, gw.actionLog)
}

// A push that fails partway through leaves the remaining pushes and every
// retarget untried; state is persisted so a rerun can resume.
func TestPush_MidPushFailure_LeavesLaterWorkUntried(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-branch")] = "sha-branch"
	gw.heads[vcs.LocalRef("feature-child")] = "sha-child"
	gw.upstreams["feature-branch"] = true
	gw.upstreams["feature-child"] = true
	gw.failPushOnBranch = "feature-child"

	fg := &fakeForge{prs: []forge.PullRequest{
		pr(100, "feature-branch", "main", forge.PRStateOpen),
		pr(101, "feature-child", "feature-branch", forge.PRStateOpen),
	}}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	_, _, err := orch.Push("feature-child", "main")
	require.Error(t, err)

	require.Len(t, gw.pushedWithLease, 1)
	assert.Empty(t, fg.editedRetargets)

	state, loadErr := store.LoadPush()
	require.NoError(t, loadErr)
	assert.Equal(t, 1, state.CompletedPushes)
	assert.Equal(t, 0, state.CompletedRetargets)
}

func TestPush_ReusesLastSyncPlanRetargets(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-branch")] = "sha-branch"
	gw.upstreams["feature-branch"] = true

	fg := &fakeForge{prs: []forge.PullRequest{
		pr(100, "feature-branch", "main", forge.PRStateOpen),
	}}
	store := opstate.New(t.TempDir())
	require.NoError(t, store.SaveLastSyncPlan(&opstate.LastSyncPlan{
		DefaultBranch: "main",
		Retargets:     []planner.RetargetStep{{Branch: "feature-branch", NewBase: "main"}},
	}))
	orch := orchestrator.New(gw, fg, store)

	pushed, retargeted, err := orch.Push("feature-branch", "main")
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)
	assert.Equal(t, 1, retargeted)
	assert.Equal(t, []string{"main"}, fg.editedRetargets)

	cached, err := store.LoadLastSyncPlan()
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestSubmit_CreatesUpstreamAndPR_InfersDefaultBranchBase(t *testing.T) {
	gw := newFakeVCS()
	fg := &fakeForge{}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	created, base, inferred, err := orch.Submit("feature-x", "main", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "main", base)
	assert.True(t, inferred)
	assert.True(t, gw.upstreams["feature-x"])
	require.Len(t, fg.prs, 1)
	assert.Equal(t, "main", fg.prs[0].BaseRef)
}

func TestSubmit_ExplicitBase_NotInferred(t *testing.T) {
	gw := newFakeVCS()
	fg := &fakeForge{}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	created, base, inferred, err := orch.Submit("feature-x", "main", "feature-parent")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "feature-parent", base)
	assert.False(t, inferred)
}

func TestSubmit_ExistingPR_IsIdempotent(t *testing.T) {
	gw := newFakeVCS()
	gw.upstreams["feature-x"] = true
	fg := &fakeForge{prs: []forge.PullRequest{
		pr(100, "feature-x", "main", forge.PRStateOpen),
	}}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	created, base, inferred, err := orch.Submit("feature-x", "main", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "main", base)
	assert.False(t, inferred)
	assert.Len(t, fg.prs, 1)
}

func TestNewBranch_BootstrapsCurrentBranchThenCreatesChildPR(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-parent")] = "sha-parent"
	gw.heads[vcs.LocalRef("feature-child")] = "sha-child"
	fg := &fakeForge{}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	prCreated, err := orch.NewBranch("feature-child", "feature-parent", "main")
	require.NoError(t, err)
	assert.True(t, prCreated)

	assert.True(t, gw.upstreams["feature-parent"])
	assert.True(t, gw.upstreams["feature-child"])
	require.Len(t, fg.prs, 2)
	assert.Equal(t, "main", fg.prs[0].BaseRef)
	assert.Equal(t, "feature-parent", fg.prs[1].BaseRef)
}

func TestNewBranch_AlreadyExists_Fails(t *testing.T) {
	gw := newFakeVCS()
	gw.localBranches["feature-child"] = true
	fg := &fakeForge{}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	_, err := orch.NewBranch("feature-child", "feature-parent", "main")
	require.Error(t, err)
}

// S7: a newly created branch with no commits yet gets no PR, and the
// caller is told so via prCreated=false rather than a silent success.
func TestNewBranch_NoCommitsYet_SkipsPRCreation(t *testing.T) {
	gw := newFakeVCS()
	gw.heads[vcs.LocalRef("feature-parent")] = "sha-parent"
	gw.heads[vcs.LocalRef("feature-child")] = "sha-child"
	gw.noCommitsBranches["feature-child"] = true
	fg := &fakeForge{}
	store := opstate.New(t.TempDir())
	orch := orchestrator.New(gw, fg, store)

	prCreated, err := orch.NewBranch("feature-child", "feature-parent", "main")
	require.NoError(t, err)
	assert.False(t, prCreated)

	// currentBranch still gets bootstrapped with an upstream and a PR;
	// only the new branch's own PR is skipped.
	require.Len(t, fg.prs, 1)
	assert.Equal(t, "feature-parent", fg.prs[0].HeadRef)
}
