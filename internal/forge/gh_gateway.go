package forge

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/sirupsen/logrus"
)

const listLimit = 500

// GhGateway is the Gateway implementation backed by the `gh` CLI.
type GhGateway struct {
	dir string
	log logrus.FieldLogger

	// Echo, if set, is called with the full argv of every invocation
	// before it runs, mirroring vcs.GitGateway.Echo.
	Echo func(args []string)
}

// NewGhGateway returns a Gateway that runs `gh` with its working directory
// set to dir (so `gh` picks up the right repository from the local git
// config).
func NewGhGateway(dir string) *GhGateway {
	return &GhGateway{dir: dir, log: logrus.WithField("component", "forge")}
}

func (g *GhGateway) run(args ...string) (string, string, error) {
	if g.Echo != nil {
		g.Echo(append([]string{"gh"}, args...))
	}
	cmd := exec.Command("gh", args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	g.log.WithField("args", args).Debug("gh")
	return stdout.String(), stderr.String(), err
}

func (g *GhGateway) AuthStatus() error {
	_, stderr, err := g.run("auth", "status")
	if err != nil {
		return errors.Errorf("GitHub CLI is not authenticated; run `gh auth login` and retry (%s)", strings.TrimSpace(stderr))
	}
	return nil
}

func (g *GhGateway) DefaultBranch() (string, error) {
	stdout, _, err := g.run("repo", "view", "--json", "defaultBranchRef", "--jq", ".defaultBranchRef.name")
	if err != nil {
		return "", errors.New(
			"could not discover default branch via GitHub CLI; ensure `origin` points to GitHub and `gh auth status` succeeds",
		)
	}
	branch := strings.TrimSpace(stdout)
	if branch == "" {
		return "", errors.New("default branch lookup returned empty result; verify repository metadata on GitHub")
	}
	return branch, nil
}

var prJSONFields = "number,headRefName,baseRefName,state,mergedAt"

type prJSON struct {
	Number      int     `json:"number"`
	HeadRefName string  `json:"headRefName"`
	BaseRefName string  `json:"baseRefName"`
	State       string  `json:"state"`
	MergedAt    *string `json:"mergedAt"`
}

func (p prJSON) toPullRequest() PullRequest {
	return PullRequest{
		Number:   p.Number,
		HeadRef:  p.HeadRefName,
		BaseRef:  p.BaseRefName,
		State:    PRState(p.State),
		MergedAt: p.MergedAt,
	}
}

func (g *GhGateway) ListAll() ([]PullRequest, error) {
	stdout, stderr, err := g.run(
		"pr", "list",
		"--state", "all",
		"--json", prJSONFields,
		"--limit", strconv.Itoa(listLimit),
	)
	if err != nil {
		return nil, errors.Errorf("failed to list pull requests: %s", strings.TrimSpace(stderr))
	}
	var raw []prJSON
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse pull request list from GitHub CLI output")
	}
	prs := make([]PullRequest, len(raw))
	for i, r := range raw {
		prs[i] = r.toPullRequest()
	}
	return prs, nil
}

// notFoundStderrMarkers are the stderr substrings that `gh pr view`
// produces when no PR exists for the given head, per spec.md §6.
var notFoundStderrMarkers = []string{
	"no pull requests found",
	"could not resolve to a pull request",
}

func (g *GhGateway) ViewByHead(branch string) (PullRequest, error) {
	stdout, stderr, err := g.run("pr", "view", branch, "--json", prJSONFields)
	if err != nil {
		lower := strings.ToLower(stderr)
		for _, marker := range notFoundStderrMarkers {
			if strings.Contains(lower, marker) {
				return PullRequest{}, &ErrNotFound{Branch: branch}
			}
		}
		return PullRequest{}, errors.Errorf("failed to view pull request for branch %s: %s", branch, strings.TrimSpace(stderr))
	}
	var raw prJSON
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return PullRequest{}, errors.Wrapf(err, "failed to parse PR metadata for branch %s from GitHub CLI output", branch)
	}
	return raw.toPullRequest(), nil
}

func (g *GhGateway) Create(opts CreateOpts) (PullRequest, error) {
	_, stderr, err := g.run(
		"pr", "create",
		"--base", opts.Base,
		"--head", opts.Head,
		"--title", opts.Title,
		"--body", "",
	)
	if err != nil {
		return PullRequest{}, errors.Errorf("failed to create pull request for branch %s: %s", opts.Head, strings.TrimSpace(stderr))
	}
	return g.ViewByHead(opts.Head)
}

func (g *GhGateway) EditBase(number int, newBase string) error {
	_, stderr, err := g.run("pr", "edit", strconv.Itoa(number), "--base", newBase)
	if err != nil {
		return errors.Errorf("failed to retarget PR #%d to base %s: %s", number, newBase, strings.TrimSpace(stderr))
	}
	return nil
}
