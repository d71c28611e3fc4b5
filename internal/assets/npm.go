// Package assets drives the front-end asset toolchain (npm).
package assets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/shipwright/internal/runner"
	"github.com/deixis/shipwright/internal/steplog"
)

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, cwd string) (*runner.Result, error)
}

// Default commands.
var (
	DefaultInstall = []string{"npm", "install"}
	DefaultBuild   = []string{"npm", "run", "build"}
)

// NPM installs dependencies and builds assets for the project at Root.
type NPM struct {
	Runner         CommandRunner
	Root           string
	Manifest       string   // relative to Root; defaults to package.json
	InstallArgv    []string // defaults to DefaultInstall
	BuildArgv      []string // defaults to DefaultBuild
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
	Log            *steplog.Logger
}

func (n *NPM) log() *steplog.Logger {
	if n.Log == nil {
		return steplog.Discard()
	}
	return n.Log
}

// Available reports whether npm can be executed.
func (n *NPM) Available(ctx context.Context) error {
	res, err := n.Runner.Run(ctx, []string{"npm", "--version"}, "")
	if err != nil || !res.Success() {
		return runner.NewErrToolUnavailable("npm")
	}
	return nil
}

// ManifestPath returns the absolute manifest path.
func (n *NPM) ManifestPath() string {
	name := n.Manifest
	if name == "" {
		name = "package.json"
	}
	return filepath.Join(n.Root, name)
}

// HasManifest reports whether the project declares front-end dependencies.
func (n *NPM) HasManifest() bool {
	info, err := os.Stat(n.ManifestPath())
	return err == nil && !info.IsDir()
}

// Install installs dependencies.
func (n *NPM) Install(ctx context.Context) (string, error) {
	argv := argvOr(n.InstallArgv, DefaultInstall)
	n.log().Step("build", "Running "+strings.Join(argv, " "))
	return n.run(ctx, argv, n.InstallTimeout)
}

// Build runs the project's build script.
func (n *NPM) Build(ctx context.Context) (string, error) {
	argv := argvOr(n.BuildArgv, DefaultBuild)
	n.log().Step("build", "Running "+strings.Join(argv, " "))
	return n.run(ctx, argv, n.BuildTimeout)
}

func (n *NPM) run(ctx context.Context, argv []string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := n.Runner.Run(ctx, argv, "")
	if err := runner.Check(argv, res, err); err != nil {
		n.log().Error(strings.Join(argv, " ")+" failed", "error", err)
		out := ""
		if res != nil {
			out = res.Combined()
		}
		return out, err
	}
	return res.Output(), nil
}

func argvOr(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}
