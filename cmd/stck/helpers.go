package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	giturls "github.com/chainguard-dev/git-urls"
	"github.com/brdv/stck/internal/config"
	"github.com/brdv/stck/internal/forge"
	"github.com/brdv/stck/internal/opstate"
	"github.com/brdv/stck/internal/orchestrator"
	"github.com/brdv/stck/internal/preflight"
	"github.com/brdv/stck/internal/uiutil"
	"github.com/brdv/stck/internal/vcs"
	"github.com/sirupsen/logrus"
)

const (
	vcsBinary   = "git"
	forgeBinary = "gh"
)

var cachedVCS *vcs.GitGateway

// getVCS opens (and caches, for the lifetime of one process) the VCS
// gateway rooted at rootFlags.Directory or the working directory.
func getVCS(cfg config.Config) (*vcs.GitGateway, error) {
	if cachedVCS == nil {
		dir := rootFlags.Directory
		if dir == "" {
			dir = "."
		}
		gw, err := vcs.OpenGitGateway(dir, cfg.Remote, cfg.ForceWithLease)
		if err != nil {
			return nil, err
		}
		gw.Echo = echoCommand
		cachedVCS = gw
	}
	return cachedVCS, nil
}

func getForge(dir string) *forge.GhGateway {
	fg := forge.NewGhGateway(dir)
	fg.Echo = echoCommand
	return fg
}

// echoCommand is wired onto both gateways so every git and gh subprocess
// invocation, read-only queries included, is printed as "$ <cmd>" before
// it runs, per spec.md §6.
func echoCommand(argv []string) {
	fmt.Fprintln(os.Stderr, uiutil.EchoCommand(argv))
}

// getOrchestrator builds an Orchestrator wired to the VCS gateway, a gh
// gateway rooted at the parent of the git directory, and an operation
// state store rooted at the directory `git rev-parse --git-dir` reports.
func getOrchestrator(cfg config.Config) (*orchestrator.Orchestrator, error) {
	gw, err := getVCS(cfg)
	if err != nil {
		return nil, err
	}

	gitDir, err := gw.GitDir()
	if err != nil {
		return nil, err
	}

	fg := getForge(filepath.Dir(gitDir))
	store := opstate.New(gitDir)
	return orchestrator.New(gw, fg, store), nil
}

// runPreflight executes the environment checks every subcommand requires
// and logs the parsed origin remote slug at debug level, for diagnostics.
func runPreflight(cfg config.Config) (preflight.Context, *orchestrator.Orchestrator, error) {
	orch, err := getOrchestrator(cfg)
	if err != nil {
		return preflight.Context{}, nil, err
	}

	ctx, err := preflight.Run(orch.VCS, orch.Forge, vcsBinary, forgeBinary)
	if err != nil {
		return preflight.Context{}, nil, err
	}

	logRemoteSlug(orch.VCS)
	return ctx, orch, nil
}

// logRemoteSlug resolves origin's URL via `git remote get-url` and parses
// it into a host/owner/repo path purely for debug diagnostics; a failure
// here is never fatal.
func logRemoteSlug(gw vcs.Gateway) {
	out, err := exec.Command(vcsBinary, "remote", "get-url", "origin").Output()
	if err != nil {
		return
	}
	u, err := giturls.Parse(string(out))
	if err != nil {
		logrus.WithError(err).Debug("failed to parse origin remote URL")
		return
	}
	slug := filepath.Join(u.Host, u.Path)
	logrus.WithField("repository", slug).Debug("resolved origin remote")
}
