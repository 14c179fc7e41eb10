// Package vcs exposes the named revision-control primitives the stack
// engine needs, without binding callers to a particular transport. The
// only implementation shells out to the git binary (reading HEAD through
// go-git to name the current branch); tests substitute in-memory fakes.
package vcs

// Gateway is the capability set consumed by the stack engine (see
// DESIGN.md's VCS Gateway entry). Implementations may block indefinitely
// on network I/O (fetch, push); there is no timeout imposed here.
type Gateway interface {
	// GitDir returns the absolute path reported by `git rev-parse --git-dir`.
	GitDir() (string, error)

	// CurrentBranch returns the short name of the currently checked-out
	// branch, or an error if HEAD is detached.
	CurrentBranch() (string, error)

	// ResolveRef resolves a ref (branch name, refs/heads/..., refs/remotes/...)
	// to its commit SHA. Returns an error if the ref cannot be resolved.
	ResolveRef(ref string) (string, error)

	// IsAncestor reports whether ancestor is an ancestor of (or equal to)
	// descendant.
	IsAncestor(ancestor, descendant string) (bool, error)

	// RevListCount returns the number of commits reachable from descendant
	// but not from ancestor (i.e. `git rev-list --count ancestor..descendant`).
	RevListCount(ancestor, descendant string) (int, error)

	// ForkPoint returns the fork point of branch from base
	// (`git merge-base --fork-point base branch`). Returns an error if no
	// fork point could be determined (e.g. the reflog has been pruned).
	ForkPoint(base, branch string) (string, error)

	// MergeBase returns the best common ancestor of the given refs.
	MergeBase(refs ...string) (string, error)

	// RebaseOnto runs `git rebase --onto newBase oldBase branch`.
	RebaseOnto(newBase, oldBase, branch string) error

	// RebaseInProgress reports whether the git directory contains
	// rebase-merge or rebase-apply state.
	RebaseInProgress() (bool, error)

	// ForcePushWithLease force-pushes branch to origin with
	// --force-with-lease (GitGateway uses a plain --force when opened with
	// forceWithLease=false).
	ForcePushWithLease(branch string) error

	// PushSetUpstream pushes branch to origin and sets it as the upstream.
	PushSetUpstream(branch string) error

	// Checkout checks out an existing branch.
	Checkout(branch string) error

	// CheckoutNew creates and checks out a new branch from the given start
	// point.
	CheckoutNew(branch, startPoint string) error

	// BranchExists reports whether a local branch with this name exists.
	BranchExists(branch string) (bool, error)

	// RemoteBranchExists reports whether origin has a branch with this name.
	RemoteBranchExists(branch string) (bool, error)

	// HasUpstream reports whether the local branch has an upstream
	// (tracking) ref configured.
	HasUpstream(branch string) (bool, error)

	// HasCommitsBetween reports whether head has any commits not reachable
	// from base.
	HasCommitsBetween(base, head string) (bool, error)

	// FetchOrigin runs `git fetch origin`.
	FetchOrigin() error

	// OriginRemoteExists reports whether the "origin" remote is configured.
	OriginRemoteExists() (bool, error)

	// WorkingTreeClean reports whether the working tree has no staged or
	// unstaged changes.
	WorkingTreeClean() (bool, error)

	// OnNamedBranch reports whether HEAD currently points at a branch
	// (i.e. the repository is not in a detached-HEAD state).
	OnNamedBranch() (bool, error)
}

// RemoteTrackingRef returns the conventional remote-tracking ref name for
// a local branch on the given remote.
func RemoteTrackingRef(remote, branch string) string {
	return "refs/remotes/" + remote + "/" + branch
}

// LocalRef returns the conventional local ref name for a branch.
func LocalRef(branch string) string {
	return "refs/heads/" + branch
}
