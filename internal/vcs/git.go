// Package vcs drives the git command line for the local side of a
// deployment and for the pull step on the server.
package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/shipwright/internal/runner"
	"github.com/deixis/shipwright/internal/steplog"
)

// DefaultBranch is used when neither HEAD nor init.defaultBranch names one.
const DefaultBranch = "main"

// ShortHashLen is the length of the version derived from HEAD.
const ShortHashLen = 7

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, cwd string) (*runner.Result, error)
}

// Git runs one git command per operation against the repository at Root.
type Git struct {
	Runner  CommandRunner
	Root    string        // repository working tree
	Timeout time.Duration // per command; 0 leaves only the caller's deadline
	Log     *steplog.Logger
	// Exclude lists paths, relative to Root, that are neither reported as
	// changes nor staged.
	Exclude []string
}

func (g *Git) log() *steplog.Logger {
	if g.Log == nil {
		return steplog.Discard()
	}
	return g.Log
}

func (g *Git) run(ctx context.Context, args ...string) (*runner.Result, []string, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	argv := append([]string{"git"}, args...)
	res, err := g.Runner.Run(ctx, argv, "")
	return res, argv, err
}

// exec runs a git command and converts any failure into an error.
func (g *Git) exec(ctx context.Context, args ...string) (*runner.Result, error) {
	res, argv, err := g.run(ctx, args...)
	if err := runner.Check(argv, res, err); err != nil {
		return res, err
	}
	return res, nil
}

// Available reports whether the git binary can be executed.
func (g *Git) Available(ctx context.Context) error {
	res, _, err := g.run(ctx, "--version")
	if err != nil || !res.Success() {
		return runner.NewErrToolUnavailable("git")
	}
	return nil
}

// Initialized reports whether Root contains a .git directory.
func (g *Git) Initialized() bool {
	info, err := os.Stat(filepath.Join(g.Root, ".git"))
	return err == nil && info.IsDir()
}

// CurrentBranch returns the checked-out branch. On a repository without
// commits it falls back to init.defaultBranch and then DefaultBranch.
func (g *Git) CurrentBranch(ctx context.Context) string {
	res, _, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err == nil && res.Success() {
		if b := res.Output(); b != "" && b != "HEAD" {
			return b
		}
	}
	res, _, err = g.run(ctx, "config", "--get", "init.defaultBranch")
	if err == nil && res.Success() {
		if b := res.Output(); b != "" {
			return b
		}
	}
	return DefaultBranch
}

// ShortHash returns the first ShortHashLen characters of HEAD, or "" when
// the repository has no commits.
func (g *Git) ShortHash(ctx context.Context) string {
	res, _, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil || !res.Success() {
		return ""
	}
	h := res.Output()
	if len(h) > ShortHashLen {
		h = h[:ShortHashLen]
	}
	return h
}

// HasChanges reports whether the working tree has staged, unstaged, or
// untracked changes.
func (g *Git) HasChanges(ctx context.Context) (bool, error) {
	res, err := g.exec(ctx, append([]string{"status", "--porcelain"}, g.pathspec()...)...)
	if err != nil {
		return false, fmt.Errorf("checking working tree: %w", err)
	}
	return res.Output() != "", nil
}

// StageAll stages every change in the working tree.
func (g *Git) StageAll(ctx context.Context) error {
	g.log().Step("git", "Staging all changes")
	if _, err := g.exec(ctx, append([]string{"add", "-A"}, g.pathspec()...)...); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}
	return nil
}

// pathspec limits status and staging to the tree minus Exclude.
func (g *Git) pathspec() []string {
	if len(g.Exclude) == 0 {
		return nil
	}
	spec := []string{"--", "."}
	for _, p := range g.Exclude {
		spec = append(spec, ":(exclude)"+filepath.ToSlash(p))
	}
	return spec
}

// nothingToCommit is printed by git when a commit has no changes.
const nothingToCommit = "nothing to commit"

// Commit records staged changes with message. It returns false with a nil
// error when git reports there is nothing to commit.
func (g *Git) Commit(ctx context.Context, message string, allowEmpty bool) (bool, error) {
	g.log().Step("git", "Committing changes: "+message)
	args := []string{"commit"}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	args = append(args, "-m", message)

	res, argv, err := g.run(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("committing: %w", err)
	}
	if res.Success() {
		return true, nil
	}
	// stdout for a clean tree, stderr on some versions.
	if strings.Contains(string(res.Stdout), nothingToCommit) ||
		strings.Contains(string(res.Stderr), nothingToCommit) {
		g.log().Warn("Nothing to commit")
		return false, nil
	}
	return false, fmt.Errorf("committing: %w", &runner.CommandError{Argv: argv, Result: res})
}

// EnsureRemote points the named remote at url, adding it when absent.
func (g *Git) EnsureRemote(ctx context.Context, name, url string) error {
	res, _, err := g.run(ctx, "remote", "get-url", name)
	if err == nil && res.Success() {
		if res.Output() == url {
			return nil
		}
		if _, err := g.exec(ctx, "remote", "set-url", name, url); err != nil {
			return fmt.Errorf("updating remote %s: %w", name, err)
		}
		return nil
	}
	if _, err := g.exec(ctx, "remote", "add", name, url); err != nil {
		return fmt.Errorf("adding remote %s: %w", name, err)
	}
	return nil
}

// Push pushes branch to remote.
func (g *Git) Push(ctx context.Context, remote, branch string) error {
	g.log().Step("git", fmt.Sprintf("Pushing to %s/%s", remote, branch))
	if _, err := g.exec(ctx, "push", remote, branch); err != nil {
		return fmt.Errorf("pushing: %w", err)
	}
	return nil
}

// Sync fetches remote, checks out branch, and pulls it. It returns the
// combined output of the three commands.
func (g *Git) Sync(ctx context.Context, remote, branch string) (string, error) {
	var out []string
	for _, args := range [][]string{
		{"fetch", remote},
		{"checkout", branch},
		{"pull", remote, branch},
	} {
		res, err := g.exec(ctx, args...)
		if res != nil {
			if c := res.Combined(); c != "" {
				out = append(out, c)
			}
		}
		if err != nil {
			return strings.Join(out, "\n"), err
		}
	}
	return strings.Join(out, "\n"), nil
}
