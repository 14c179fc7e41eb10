// Package preflight validates the environment every subcommand requires
// before touching the stack: the VCS and forge CLIs are on PATH and
// authenticated, origin exists, HEAD is a named branch, and the working
// tree is clean. Grounded on original_source's env.rs::run_preflight,
// restructured into av's PersistentPreRunE composition style (a sequence
// of named checks returning on first failure).
package preflight

import (
	"os/exec"

	"emperror.dev/errors"
	"github.com/brdv/stck/internal/forge"
	"github.com/brdv/stck/internal/vcs"
)

// Context is the outcome of a successful preflight run, consumed by
// every subcommand.
type Context struct {
	CurrentBranch string
	DefaultBranch string
}

// Run executes every environment check in order, stopping at the first
// failure. vcsBinary and forgeBinary name the executables checked for
// PATH availability (e.g. "git", "gh").
func Run(gw vcs.Gateway, fg forge.Gateway, vcsBinary, forgeBinary string) (Context, error) {
	if err := ensureCommandAvailable(vcsBinary); err != nil {
		return Context{}, err
	}
	if err := ensureCommandAvailable(forgeBinary); err != nil {
		return Context{}, err
	}
	if err := fg.AuthStatus(); err != nil {
		return Context{}, errors.Wrap(err, "GitHub CLI is not authenticated; run `gh auth login` and retry")
	}

	originExists, err := gw.OriginRemoteExists()
	if err != nil {
		return Context{}, errors.Wrap(err, "failed to check for the `origin` remote")
	}
	if !originExists {
		return Context{}, errors.New("`origin` remote is missing; add it with `git remote add origin <url>`")
	}

	onBranch, err := gw.OnNamedBranch()
	if err != nil {
		return Context{}, errors.Wrap(err, "failed to determine current branch")
	}
	if !onBranch {
		return Context{}, errors.New("not on a branch (detached HEAD); checkout a branch and retry")
	}

	currentBranch, err := gw.CurrentBranch()
	if err != nil {
		return Context{}, errors.Wrap(err, "failed to determine current branch")
	}

	clean, err := gw.WorkingTreeClean()
	if err != nil {
		return Context{}, errors.Wrap(err, "failed to inspect working tree")
	}
	if !clean {
		return Context{}, errors.New("working tree is not clean; commit, stash, or discard changes before running stck")
	}

	defaultBranch, err := fg.DefaultBranch()
	if err != nil {
		return Context{}, errors.Wrap(err, "failed to discover repository default branch from GitHub")
	}

	return Context{CurrentBranch: currentBranch, DefaultBranch: defaultBranch}, nil
}

func ensureCommandAvailable(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return errors.Errorf("required command `%s` was not found in PATH; install it and retry", name)
	}
	return nil
}
