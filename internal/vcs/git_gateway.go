package vcs

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sirupsen/logrus"
)

const DefaultRemoteName = "origin"

// GitGateway is the Gateway implementation that shells out to the git
// binary. go-git is used only to read HEAD for CurrentBranch; ref
// resolution, ancestor tests and every mutating operation run git.
type GitGateway struct {
	dir            string
	remote         string
	forceWithLease bool
	gogit          *git.Repository
	log            logrus.FieldLogger

	// Echo, if set, is called with the full argv of every invocation
	// before it runs, so callers (sync/push) can print "$ git ..." as
	// spec.md §6 requires. Left nil for read-only callers and tests.
	Echo func(args []string)
}

// OpenGitGateway opens the git repository rooted at dir. forceWithLease
// selects the flag ForcePushWithLease passes: true for --force-with-lease,
// false for a plain --force.
func OpenGitGateway(dir string, remote string, forceWithLease bool) (*GitGateway, error) {
	if remote == "" {
		remote = DefaultRemoteName
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, errors.WrapIff(err, "failed to open git repository at %q", dir)
	}
	return &GitGateway{
		dir:            dir,
		remote:         remote,
		forceWithLease: forceWithLease,
		gogit:          repo,
		log:            logrus.WithField("component", "vcs"),
	}, nil
}

func (g *GitGateway) run(args ...string) (string, error) {
	if g.Echo != nil {
		g.Echo(append([]string{"git"}, args...))
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	g.log.WithField("args", args).Debug("git")
	if err != nil {
		return strings.TrimSpace(stdout.String()), &RunError{
			Args:   args,
			Err:    err,
			Stderr: stderr.Bytes(),
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunError wraps a failed git invocation, retaining its stderr tail so
// callers (and the orchestrator's error messages) can surface it.
type RunError struct {
	Args   []string
	Err    error
	Stderr []byte
}

func (e *RunError) Error() string {
	tail := strings.TrimSpace(string(e.Stderr))
	if tail == "" {
		return "git " + strings.Join(e.Args, " ") + ": " + e.Err.Error()
	}
	return "git " + strings.Join(e.Args, " ") + ": " + tail
}

func (e *RunError) Unwrap() error { return e.Err }

// StderrTail returns the trimmed stderr output of a failed run, if any.
func StderrTail(err error) string {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return strings.TrimSpace(string(runErr.Stderr))
	}
	return ""
}

func (g *GitGateway) GitDir() (string, error) {
	out, err := g.run("rev-parse", "--git-dir")
	if err != nil {
		return "", errors.Wrap(err, "could not determine git directory")
	}
	if out == "" {
		return "", errors.New("git directory path is empty")
	}
	if filepath.IsAbs(out) {
		return out, nil
	}
	cwd := g.dir
	abs, err := filepath.Abs(filepath.Join(cwd, out))
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve absolute git directory")
	}
	return abs, nil
}

func (g *GitGateway) CurrentBranch() (string, error) {
	ref, err := g.gogit.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", errors.Wrap(err, "failed to determine current branch")
	}
	if ref.Type() != plumbing.SymbolicReference {
		return "", errors.New("not on a branch (detached HEAD)")
	}
	return ref.Target().Short(), nil
}

func (g *GitGateway) OnNamedBranch() (bool, error) {
	_, err := g.CurrentBranch()
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (g *GitGateway) ResolveRef(ref string) (string, error) {
	out, err := g.run("rev-parse", "--verify", ref)
	if err != nil {
		return "", errors.Errorf("could not resolve git reference %q", ref)
	}
	if out == "" {
		return "", errors.Errorf("git reference %q resolved to empty SHA", ref)
	}
	return out, nil
}

func (g *GitGateway) IsAncestor(ancestor, descendant string) (bool, error) {
	_, err := g.run("merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		var exitErr *exec.ExitError
		if errors.As(runErr.Err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
	}
	return false, errors.WrapIff(err, "failed to compare %s against %s", ancestor, descendant)
}

func (g *GitGateway) RevListCount(ancestor, descendant string) (int, error) {
	out, err := g.run("rev-list", "--count", ancestor+".."+descendant)
	if err != nil {
		return 0, errors.WrapIff(err, "failed to compare refs %s and %s", ancestor, descendant)
	}
	n, convErr := strconv.Atoi(out)
	if convErr != nil {
		return 0, errors.Wrap(convErr, "failed to parse commit count from `git rev-list --count`")
	}
	return n, nil
}

func (g *GitGateway) ForkPoint(base, branch string) (string, error) {
	out, err := g.run("merge-base", "--fork-point", base, branch)
	if err != nil {
		return "", errors.New("no valid fork-point found")
	}
	if out == "" {
		return "", errors.New("`git merge-base --fork-point` returned empty output")
	}
	return out, nil
}

func (g *GitGateway) MergeBase(refs ...string) (string, error) {
	args := append([]string{"merge-base"}, refs...)
	out, err := g.run(args...)
	if err != nil {
		return "", errors.Wrap(err, "failed to compute merge-base")
	}
	if out == "" {
		return "", errors.New("`git merge-base` returned empty output")
	}
	return out, nil
}

func (g *GitGateway) RebaseOnto(newBase, oldBase, branch string) error {
	_, err := g.run("rebase", "--onto", newBase, oldBase, branch)
	if err != nil {
		return errors.WrapIff(
			err,
			"rebase failed for branch %s; resolve conflicts, run `git rebase --continue` or `git rebase --abort`, then rerun `stck sync`",
			branch,
		)
	}
	return nil
}

func (g *GitGateway) RebaseInProgress() (bool, error) {
	gitDir, err := g.GitDir()
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(filepath.Join(gitDir, "rebase-merge")); err == nil {
		return true, nil
	}
	if _, err := os.Stat(filepath.Join(gitDir, "rebase-apply")); err == nil {
		return true, nil
	}
	return false, nil
}

func (g *GitGateway) ForcePushWithLease(branch string) error {
	forceFlag := "--force"
	if g.forceWithLease {
		forceFlag = "--force-with-lease"
	}
	_, err := g.run("push", forceFlag, g.remote, branch)
	if err != nil {
		return errors.WrapIff(err, "push failed for branch %s; fix the push error and rerun `stck push`", branch)
	}
	return nil
}

func (g *GitGateway) PushSetUpstream(branch string) error {
	_, err := g.run("push", "-u", g.remote, branch)
	if err != nil {
		return errors.WrapIff(err, "failed to push branch %s with upstream; fix the push error and retry", branch)
	}
	return nil
}

func (g *GitGateway) Checkout(branch string) error {
	_, err := g.run("checkout", branch)
	if err != nil {
		return errors.WrapIff(err, "failed to checkout branch %s; switch branches manually and retry", branch)
	}
	return nil
}

func (g *GitGateway) CheckoutNew(branch, startPoint string) error {
	args := []string{"checkout", "-b", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	_, err := g.run(args...)
	if err != nil {
		return errors.WrapIff(
			err,
			"failed to create and checkout branch %s; ensure the branch name is valid and does not already exist",
			branch,
		)
	}
	return nil
}

func (g *GitGateway) BranchExists(branch string) (bool, error) {
	return g.refExists(LocalRef(branch))
}

func (g *GitGateway) RemoteBranchExists(branch string) (bool, error) {
	return g.refExists(RemoteTrackingRef(g.remote, branch))
}

func (g *GitGateway) refExists(ref string) (bool, error) {
	_, err := g.run("show-ref", "--verify", "--quiet", ref)
	if err == nil {
		return true, nil
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		var exitErr *exec.ExitError
		if errors.As(runErr.Err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
	}
	return false, errors.WrapIff(err, "failed to verify git reference %q", ref)
}

func (g *GitGateway) HasUpstream(branch string) (bool, error) {
	_, err := g.run("rev-parse", "--abbrev-ref", "--symbolic-full-name", branch+"@{upstream}")
	if err == nil {
		return true, nil
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return false, nil
	}
	return false, err
}

func (g *GitGateway) HasCommitsBetween(base, head string) (bool, error) {
	n, err := g.RevListCount(LocalRef(base), LocalRef(head))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *GitGateway) FetchOrigin() error {
	_, err := g.run("fetch", g.remote)
	if err != nil {
		return errors.WrapIff(err, "failed to fetch from `%s`; check remote connectivity and permissions", g.remote)
	}
	return nil
}

func (g *GitGateway) OriginRemoteExists() (bool, error) {
	_, err := g.run("remote", "get-url", g.remote)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (g *GitGateway) WorkingTreeClean() (bool, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return false, errors.Wrap(err, "failed to inspect working tree")
	}
	return out == "", nil
}

// ShortSha truncates a full SHA to its short (7-character) form for
// display purposes.
func ShortSha(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
