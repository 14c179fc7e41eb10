// Package orchestrator drives the stack engine's planners against the
// VCS and forge gateways, owns the sync/push state machines and their
// resume semantics, and implements the new-branch bootstrap flow.
// Grounded on cmd/av/stack_sync.go's state-load -> dispatch -> step-loop
// -> checkpoint -> clear-on-completion shape, and on original_source's
// cli.rs::run_sync for the exact resume contract spec.md §4.5 specifies.
package orchestrator

import (
	"sort"

	"emperror.dev/errors"
	"github.com/brdv/stck/internal/discovery"
	"github.com/brdv/stck/internal/forge"
	"github.com/brdv/stck/internal/opstate"
	"github.com/brdv/stck/internal/planner"
	"github.com/brdv/stck/internal/status"
	"github.com/brdv/stck/internal/vcs"
	"github.com/sirupsen/logrus"
)

// Orchestrator owns one invocation's worth of mutable state: the loaded
// stack, the gateways it drives, and the on-disk operation state store.
type Orchestrator struct {
	VCS   vcs.Gateway
	Forge forge.Gateway
	Store *opstate.Store
	Log   logrus.FieldLogger
}

// New returns an Orchestrator wired to the given gateways and operation
// state store.
func New(gw vcs.Gateway, fg forge.Gateway, store *opstate.Store) *Orchestrator {
	return &Orchestrator{VCS: gw, Forge: fg, Store: store, Log: logrus.WithField("component", "orchestrator")}
}

// ErrSyncMutuallyExclusiveFlags is returned when both --continue and
// --reset are given to sync.
var ErrSyncMutuallyExclusiveFlags = errors.Sentinel("--continue and --reset cannot be used together")

// ErrRebaseStillInProgress is returned by Sync(--continue) when the
// metadata directory still shows an unresolved rebase.
var ErrRebaseStillInProgress = errors.Sentinel("rebase is still in progress; complete it before rerunning")

// ErrAlreadyUpToDate is returned (not an error condition for the CLI, but
// a distinguishable signal) when a sync plan is empty.
var ErrAlreadyUpToDate = errors.Sentinel("already up to date")

// loadStack fetches all PRs from the forge and discovers the linear
// stack rooted at defaultBranch through currentBranch.
func (o *Orchestrator) loadStack(currentBranch, defaultBranch string) ([]forge.PullRequest, error) {
	prs, err := o.Forge.ListAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pull requests")
	}
	stack, err := discovery.DiscoverStack(prs, currentBranch, defaultBranch)
	if err != nil {
		return nil, err
	}
	return stack, nil
}

// BuildStatus computes the full status report for the current stack,
// including the two VCS-query-dependent enrichments spec.md §4.2
// describes (default-branch-advanced, and per-branch needs_push).
func (o *Orchestrator) BuildStatus(currentBranch, defaultBranch string) (*status.Report, []forge.PullRequest, error) {
	stack, err := o.loadStack(currentBranch, defaultBranch)
	if err != nil {
		return nil, nil, err
	}

	report := status.BuildReport(stack, defaultBranch)

	if root, ok := firstOpenRootedAtDefault(stack, defaultBranch); ok {
		remoteDefault := vcs.RemoteTrackingRef(vcs.DefaultRemoteName, defaultBranch)
		isAncestor, err := o.VCS.IsAncestor(remoteDefault, vcs.LocalRef(root))
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to check whether the default branch has advanced")
		}
		if !isAncestor {
			report.MarkRootNeedsSync()
		}
	}

	for _, pr := range stack {
		if pr.IsMerged() {
			continue
		}
		needsPush, err := o.branchNeedsPush(pr.HeadRef)
		if err != nil {
			return nil, nil, err
		}
		if needsPush {
			report.MarkNeedsPush(pr.HeadRef)
		}
	}

	return &report, stack, nil
}

// firstOpenRootedAtDefault returns the head ref of the first non-merged
// PR in the stack whose base is the default branch, i.e. the current
// root of the surviving stack.
func firstOpenRootedAtDefault(stack []forge.PullRequest, defaultBranch string) (string, bool) {
	for _, pr := range stack {
		if pr.IsMerged() {
			continue
		}
		if pr.BaseRef == defaultBranch {
			return pr.HeadRef, true
		}
		return "", false
	}
	return "", false
}

// branchNeedsPush reports whether branch's local head differs from its
// remote-tracking head, treating an unresolvable remote ref as "needs
// push" per spec.md §9's documented (noisy but safe) behavior.
func (o *Orchestrator) branchNeedsPush(branch string) (bool, error) {
	localSha, err := o.VCS.ResolveRef(vcs.LocalRef(branch))
	if err != nil {
		return false, errors.WrapIff(err, "failed to resolve local branch %s", branch)
	}
	remoteSha, err := o.VCS.ResolveRef(vcs.RemoteTrackingRef(vcs.DefaultRemoteName, branch))
	if err != nil {
		return true, nil
	}
	return localSha != remoteSha, nil
}

// Sync runs the sync state machine to completion, or to the next
// suspension point. continueFlag and reset are mutually exclusive.
// Sync returns alreadyUpToDate=true when there was nothing to do, so the
// caller can print "already up to date" instead of a success summary.
func (o *Orchestrator) Sync(currentBranch, defaultBranch string, continueFlag, reset bool) (alreadyUpToDate bool, err error) {
	if continueFlag && reset {
		return false, ErrSyncMutuallyExclusiveFlags
	}

	if reset {
		if err := o.Store.Clear(); err != nil {
			return false, err
		}
	}

	state, err := o.Store.LoadSync()
	switch {
	case errors.Is(err, opstate.ErrNoOperationInProgress):
		if continueFlag {
			return false, errors.New("no sync in progress")
		}
		state, err = o.planFreshSync(currentBranch, defaultBranch)
		if err != nil {
			if errors.Is(err, ErrAlreadyUpToDate) {
				return true, nil
			}
			return false, err
		}
	case err != nil:
		return false, err
	default:
		state, err = o.resumeSync(state, continueFlag)
		if err != nil {
			return false, err
		}
	}

	if err := o.runSyncSteps(state); err != nil {
		return false, err
	}

	if err := o.VCS.Checkout(currentBranch); err != nil {
		return false, err
	}

	stack, err := o.loadStack(currentBranch, defaultBranch)
	if err != nil {
		return false, err
	}
	_, retargets := planner.BuildPushPlan(stack, defaultBranch, nil)
	if err := o.Store.SaveLastSyncPlan(&opstate.LastSyncPlan{DefaultBranch: defaultBranch, Retargets: retargets}); err != nil {
		return false, err
	}

	return false, o.Store.Clear()
}

func (o *Orchestrator) planFreshSync(currentBranch, defaultBranch string) (*opstate.SyncState, error) {
	stack, err := o.loadStack(currentBranch, defaultBranch)
	if err != nil {
		return nil, err
	}

	force, err := o.shouldForceRewriteFirstOpen(stack, defaultBranch)
	if err != nil {
		return nil, err
	}

	steps := planner.BuildSyncPlan(stack, defaultBranch, force)
	if len(steps) == 0 {
		return nil, ErrAlreadyUpToDate
	}

	state := &opstate.SyncState{Steps: steps, CompletedSteps: 0}
	if err := o.Store.SaveSync(state); err != nil {
		return nil, err
	}
	return state, nil
}

// shouldForceRewriteFirstOpen reports whether the default branch has
// advanced past the stack's current root, per spec.md §4.3's
// force-rewrite-first-open flag.
func (o *Orchestrator) shouldForceRewriteFirstOpen(stack []forge.PullRequest, defaultBranch string) (bool, error) {
	root, ok := firstOpenRootedAtDefault(stack, defaultBranch)
	if !ok {
		return false, nil
	}
	remoteDefault := vcs.RemoteTrackingRef(vcs.DefaultRemoteName, defaultBranch)
	isAncestor, err := o.VCS.IsAncestor(remoteDefault, vcs.LocalRef(root))
	if err != nil {
		return false, errors.Wrap(err, "failed to check whether the default branch has advanced")
	}
	return !isAncestor, nil
}

// resumeSync applies the --continue / plain-rerun resolution rules to an
// existing failed sync state, per spec.md §4.5.
func (o *Orchestrator) resumeSync(state *opstate.SyncState, continueFlag bool) (*opstate.SyncState, error) {
	if state.FailedStep == nil {
		return state, nil
	}

	if continueFlag {
		inProgress, err := o.VCS.RebaseInProgress()
		if err != nil {
			return nil, err
		}
		if inProgress {
			return nil, ErrRebaseStillInProgress
		}

		branch := state.Steps[*state.FailedStep].Branch
		head, err := o.VCS.ResolveRef(vcs.LocalRef(branch))
		if err != nil {
			return nil, errors.WrapIff(err, "failed to resolve branch %s", branch)
		}

		if state.FailedStepBranchHead != nil && head == *state.FailedStepBranchHead {
			return nil, errors.Errorf("no completed rebase detected for %s; resolve or rerun to retry", branch)
		}

		state.CompletedSteps = *state.FailedStep + 1
		state.FailedStep = nil
		state.FailedStepBranchHead = nil
		if err := o.Store.SaveSync(state); err != nil {
			return nil, err
		}
		return state, nil
	}

	// Plain rerun without --continue: advance past the failed step
	// without checking whether it was actually resolved. This is
	// intentional per spec.md §4.5/§9: reruns without the flag must not
	// loop on the same failure.
	state.CompletedSteps = *state.FailedStep + 1
	state.FailedStep = nil
	state.FailedStepBranchHead = nil
	if err := o.Store.SaveSync(state); err != nil {
		return nil, err
	}
	return state, nil
}

func (o *Orchestrator) runSyncSteps(state *opstate.SyncState) error {
	for i := state.CompletedSteps; i < len(state.Steps); i++ {
		step := state.Steps[i]

		branchHead, err := o.VCS.ResolveRef(vcs.LocalRef(step.Branch))
		if err != nil {
			return errors.WrapIff(err, "failed to resolve branch %s", step.Branch)
		}

		boundary, err := planner.RebaseBoundary(o.VCS, step)
		if err != nil {
			o.persistFailedStep(state, i, branchHead)
			return err
		}

		if err := o.VCS.RebaseOnto(step.NewBaseRef, boundary, step.Branch); err != nil {
			o.persistFailedStep(state, i, branchHead)
			return err
		}

		state.CompletedSteps = i + 1
		state.FailedStep = nil
		state.FailedStepBranchHead = nil
		if err := o.Store.SaveSync(state); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) persistFailedStep(state *opstate.SyncState, index int, branchHead string) {
	failed := index
	head := branchHead
	state.FailedStep = &failed
	state.FailedStepBranchHead = &head
	if err := o.Store.SaveSync(state); err != nil {
		o.Log.WithError(err).Error("failed to persist sync state after step failure")
	}
}

// Push runs the push state machine to completion, or to the next
// suspension point. All pushes complete before any retarget begins.
// Push returns the number of branches pushed and the number of PRs
// retargeted by this invocation (work completed by an earlier, interrupted
// run is not counted), so callers can print a summary once both phases
// succeed.
func (o *Orchestrator) Push(currentBranch, defaultBranch string) (pushed int, retargeted int, err error) {
	state, err := o.Store.LoadPush()
	switch {
	case errors.Is(err, opstate.ErrNoOperationInProgress):
		state, err = o.planFreshPush(currentBranch, defaultBranch)
		if err != nil {
			return 0, 0, err
		}
	case err != nil:
		return 0, 0, err
	}

	startPushes, startRetargets := state.CompletedPushes, state.CompletedRetargets

	if err := o.runPushPhase(state); err != nil {
		return 0, 0, err
	}
	if err := o.runRetargetPhase(state); err != nil {
		return 0, 0, err
	}

	pushed = len(state.PushBranches) - startPushes
	retargeted = len(state.Retargets) - startRetargets

	if err := o.Store.Clear(); err != nil {
		return 0, 0, err
	}
	if err := o.Store.ClearLastSyncPlan(); err != nil {
		return 0, 0, err
	}
	return pushed, retargeted, nil
}

func (o *Orchestrator) planFreshPush(currentBranch, defaultBranch string) (*opstate.PushState, error) {
	stack, err := o.loadStack(currentBranch, defaultBranch)
	if err != nil {
		return nil, err
	}

	cached, err := o.Store.LoadLastSyncPlan()
	if err != nil {
		return nil, err
	}
	allBranches, retargets := planner.BuildPushPlan(stack, defaultBranch, cached.ToPlannerPlan())

	var pushBranches []string
	for _, branch := range allBranches {
		needsPush, err := o.branchNeedsPush(branch)
		if err != nil {
			return nil, err
		}
		if needsPush {
			pushBranches = append(pushBranches, branch)
		}
	}

	state := &opstate.PushState{PushBranches: pushBranches, Retargets: retargets}
	if err := o.Store.SavePush(state); err != nil {
		return nil, err
	}
	return state, nil
}

func (o *Orchestrator) runPushPhase(state *opstate.PushState) error {
	for i := state.CompletedPushes; i < len(state.PushBranches); i++ {
		branch := state.PushBranches[i]

		hasUpstream, err := o.VCS.HasUpstream(branch)
		if err != nil {
			return errors.WrapIff(err, "failed to check upstream for branch %s", branch)
		}

		var pushErr error
		if hasUpstream {
			pushErr = o.VCS.ForcePushWithLease(branch)
		} else {
			pushErr = o.VCS.PushSetUpstream(branch)
		}
		if pushErr != nil {
			return pushErr
		}

		state.CompletedPushes = i + 1
		if err := o.Store.SavePush(state); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runRetargetPhase(state *opstate.PushState) error {
	for i := state.CompletedRetargets; i < len(state.Retargets); i++ {
		retarget := state.Retargets[i]

		pr, err := o.Forge.ViewByHead(retarget.Branch)
		if err != nil {
			return errors.WrapIff(err, "failed to look up PR for branch %s", retarget.Branch)
		}

		if err := o.Forge.EditBase(pr.Number, retarget.NewBase); err != nil {
			return err
		}

		state.CompletedRetargets = i + 1
		if err := o.Store.SavePush(state); err != nil {
			return err
		}
	}
	return nil
}

// NewBranch implements the stacked-branch bootstrap flow (spec.md §4.6):
// create branch atop currentBranch, ensuring currentBranch is pushed and
// has an open PR first, then open a PR for the new branch once it has
// commits. prCreated reports whether step 5 ran (a PR was opened for the
// new branch); when false, branch has no commits beyond currentBranch yet
// and the caller should tell the user to add commits and run submit later.
func (o *Orchestrator) NewBranch(branch, currentBranch, defaultBranch string) (prCreated bool, err error) {
	localExists, err := o.VCS.BranchExists(branch)
	if err != nil {
		return false, err
	}
	remoteExists, err := o.VCS.RemoteBranchExists(branch)
	if err != nil {
		return false, err
	}
	if localExists || remoteExists {
		return false, errors.Errorf("branch %s already exists locally or on origin", branch)
	}

	if currentBranch != defaultBranch {
		hasUpstream, err := o.VCS.HasUpstream(currentBranch)
		if err != nil {
			return false, err
		}
		if !hasUpstream {
			if err := o.VCS.PushSetUpstream(currentBranch); err != nil {
				return false, err
			}
		}

		if _, err := o.Forge.ViewByHead(currentBranch); err != nil {
			var notFound *forge.ErrNotFound
			if !errors.As(err, &notFound) {
				return false, err
			}
			base, err := o.inferBaseFor(currentBranch, defaultBranch)
			if err != nil {
				return false, err
			}
			if _, err := o.Forge.Create(forge.CreateOpts{Base: base, Head: currentBranch, Title: currentBranch}); err != nil {
				return false, err
			}
		}
	}

	if err := o.VCS.CheckoutNew(branch, currentBranch); err != nil {
		return false, err
	}
	if err := o.VCS.PushSetUpstream(branch); err != nil {
		return false, err
	}

	hasCommits, err := o.VCS.HasCommitsBetween(currentBranch, branch)
	if err != nil {
		return false, err
	}
	if !hasCommits {
		return false, nil
	}

	prBase := currentBranch
	if currentBranch == defaultBranch {
		prBase = defaultBranch
	}
	if _, err := o.Forge.Create(forge.CreateOpts{Base: prBase, Head: branch, Title: branch}); err != nil {
		return false, err
	}
	return true, nil
}

// Submit ensures the current branch has an upstream and an open PR,
// creating either as needed (spec.md §4.6/§6's `submit` command). baseFlag
// overrides the inferred base when non-empty. inferred reports whether the
// base used for a newly created PR was not explicitly given, so the caller
// can print a notice.
func (o *Orchestrator) Submit(currentBranch, defaultBranch, baseFlag string) (created bool, base string, inferred bool, err error) {
	hasUpstream, err := o.VCS.HasUpstream(currentBranch)
	if err != nil {
		return false, "", false, err
	}
	if !hasUpstream {
		if err := o.VCS.PushSetUpstream(currentBranch); err != nil {
			return false, "", false, err
		}
	}

	existing, err := o.Forge.ViewByHead(currentBranch)
	if err == nil {
		return false, existing.BaseRef, false, nil
	}
	var notFound *forge.ErrNotFound
	if !errors.As(err, &notFound) {
		return false, "", false, err
	}

	base = baseFlag
	inferred = base == ""
	if inferred {
		base = defaultBranch
	}

	if _, err := o.Forge.Create(forge.CreateOpts{Base: base, Head: currentBranch, Title: currentBranch}); err != nil {
		return false, "", false, err
	}
	return true, base, inferred, nil
}

// inferBaseFor picks the nearest ancestor PR (by strict commit distance)
// for a branch that needs one created, per spec.md §4.6 step 3: among
// all PRs whose head is an ancestor of branch by distance > 0, the
// smallest distance wins, ties broken by iteration order.
func (o *Orchestrator) inferBaseFor(branch, defaultBranch string) (string, error) {
	prs, err := o.Forge.ListAll()
	if err != nil {
		return "", err
	}

	type candidate struct {
		head     string
		distance int
	}
	var candidates []candidate
	for _, pr := range prs {
		isAncestor, err := o.VCS.IsAncestor(vcs.LocalRef(pr.HeadRef), vcs.LocalRef(branch))
		if err != nil || !isAncestor {
			continue
		}
		distance, err := o.VCS.RevListCount(vcs.LocalRef(pr.HeadRef), vcs.LocalRef(branch))
		if err != nil || distance == 0 {
			continue
		}
		candidates = append(candidates, candidate{head: pr.HeadRef, distance: distance})
	}

	if len(candidates) == 0 {
		return defaultBranch, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	return candidates[0].head, nil
}
