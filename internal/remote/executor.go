// Package remote executes the server half of a deployment: authenticate
// the trigger, then pull, install, build, migrate, optionally seed, and
// rebuild caches in the project directory.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deixis/shipwright/internal/config"
	"github.com/deixis/shipwright/internal/pipeline"
	"github.com/deixis/shipwright/internal/runner"
	"github.com/deixis/shipwright/internal/steplog"
	"github.com/deixis/shipwright/internal/trigger"
)

// Step names.
const (
	StepPull     = "pull"
	StepInstall  = "install"
	StepBuild    = "build"
	StepMigrate  = "migrate"
	StepSeed     = "seed"
	StepOptimize = "optimize"
)

// Defaults applied to fields missing from the trigger.
const (
	DefaultBranch  = "main"
	DefaultVersion = "unknown"
)

// Response messages.
const (
	MsgSuccess      = "Deployment completed successfully"
	MsgFailed       = "Deployment failed"
	MsgUnauthorized = "Unauthorized"
	MsgBadBranch    = "Invalid branch name"
)

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, cwd string) (*runner.Result, error)
}

// Syncer updates the working tree. Implemented by vcs.Git.
type Syncer interface {
	Sync(ctx context.Context, remote, branch string) (string, error)
}

// AssetBuilder installs and builds front-end assets. Implemented by assets.NPM.
type AssetBuilder interface {
	Install(ctx context.Context) (string, error)
	Build(ctx context.Context) (string, error)
}

// Observer is notified after every step. Implemented by the HTTP server's
// metrics.
type Observer interface {
	ObserveStep(name string, status pipeline.Status, d time.Duration)
}

// Executor runs the remote pipeline. It is not safe for concurrent use;
// callers serialise Handle.
type Executor struct {
	Config   *config.Config
	Runner   CommandRunner
	Git      Syncer
	Assets   AssetBuilder
	Observer Observer
	Log      *steplog.Logger
	Now      func() time.Time
}

// Outcome is the result of one Handle call. Run is nil when the request
// was rejected before any step started.
type Outcome struct {
	Run      *pipeline.Run
	Response trigger.Response
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) log() *steplog.Logger {
	if e.Log == nil {
		return steplog.Discard()
	}
	return e.Log
}

// Handle authenticates token, runs the pipeline for p, and returns the
// response body with its HTTP status code.
func (e *Executor) Handle(ctx context.Context, p trigger.Payload, token string) (*Outcome, int) {
	log := e.log()
	origin := OriginFrom(ctx)

	if !pipeline.TokensEqual(token, e.Config.Token) {
		log.Warn("Deploy request rejected: Invalid token",
			"ip", origin,
			"provided_token", pipeline.MaskToken(token),
		)
		return e.reject(MsgUnauthorized), http.StatusUnauthorized
	}

	branch := p.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	version := p.Version
	if version == "" {
		version = DefaultVersion
	}
	if err := ValidateBranch(branch); err != nil {
		log.Warn("Deploy request rejected: "+err.Error(), "ip", origin)
		out := e.reject(MsgBadBranch)
		out.Response.Error = err.Error()
		return out, http.StatusBadRequest
	}

	run := pipeline.NewRun(pipeline.Remote, e.now())
	run.Branch = branch
	run.Version = version
	log = log.With("run_id", run.ID)
	log.Info("Deploy request received",
		"branch", branch,
		"version", version,
		"with_seed", p.WithSeed,
		"ip", origin,
	)

	srv := &e.Config.Server
	remote := e.Config.RemoteName()
	steps := []step{
		{name: StepPull, fn: func(ctx context.Context) (string, error) { return e.Git.Sync(ctx, remote, branch) }},
		{name: StepInstall, fn: e.command(srv.InstallCommand())},
		{name: StepBuild, fn: e.build, selfTimed: true},
		{name: StepMigrate, fn: e.command(srv.MigrateCommand())},
	}
	if p.WithSeed {
		steps = append(steps, step{name: StepSeed, fn: e.command(srv.SeedCommand())})
	}

	for _, s := range steps {
		log.Step(s.name, "Starting")
		res, err := e.runStep(ctx, s)
		if !run.Record(res, true, err) {
			log.Error("Deployment failed", "step", s.name, "error", run.Message, "branch", branch, "version", version)
			break
		}
	}

	if run.Succeeded() {
		log.Step(StepOptimize, "Optimizing application")
		res, _ := e.runStep(ctx, step{name: StepOptimize, fn: e.optimize})
		if res.Status == pipeline.Error {
			log.Warn("Optimize failed", "error", res.Error)
		}
		run.RecordMaintenance(res)
	}
	run.Finish(e.now())

	out := &Outcome{Run: run, Response: trigger.Response{
		Version:     version,
		Branch:      branch,
		Steps:       run.Steps,
		Maintenance: run.Maintenance,
		Timestamp:   run.FinishedAt.Format(trigger.TimestampFormat),
		RunID:       run.ID,
	}}
	if !run.Succeeded() {
		out.Response.Message = MsgFailed
		out.Response.Error = run.Message
		return out, http.StatusInternalServerError
	}
	out.Response.Success = true
	out.Response.Message = MsgSuccess
	log.Info(MsgSuccess, "branch", branch, "version", version)
	return out, http.StatusOK
}

func (e *Executor) reject(msg string) *Outcome {
	return &Outcome{Response: trigger.Response{
		Success:   false,
		Message:   msg,
		Steps:     []pipeline.StepResult{},
		Timestamp: e.now().Format(trigger.TimestampFormat),
	}}
}

type stepFunc func(context.Context) (string, error)

type step struct {
	name string
	fn   stepFunc
	// selfTimed steps are bounded by their drivers' own per-command
	// timeouts instead of the server step timeout.
	selfTimed bool
}

// runStep runs s with the configured step timeout and converts the result
// into a StepResult. A panic is recorded as a failed step.
func (e *Executor) runStep(ctx context.Context, s step) (res pipeline.StepResult, err error) {
	name := s.name
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s failed: panic: %v", name, r)
			res = pipeline.Failed(name, "", err.Error())
		}
		if e.Observer != nil {
			e.Observer.ObserveStep(name, res.Status, time.Since(start))
		}
	}()

	if !s.selfTimed {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.Server.StepTimeout())
		defer cancel()
	}

	output, runErr := s.fn(ctx)
	if runErr != nil {
		err = fmt.Errorf("%s failed: %w", name, runErr)
		return pipeline.Failed(name, output, err.Error()), err
	}
	return pipeline.Succeeded(name, output), nil
}

func (e *Executor) command(argv []string) stepFunc {
	return func(ctx context.Context) (string, error) {
		return e.exec(ctx, argv)
	}
}

func (e *Executor) build(ctx context.Context) (string, error) {
	var out []string
	installOut, err := e.Assets.Install(ctx)
	if installOut != "" {
		out = append(out, installOut)
	}
	if err != nil {
		return strings.Join(out, "\n"), err
	}
	buildOut, err := e.Assets.Build(ctx)
	if buildOut != "" {
		out = append(out, buildOut)
	}
	return strings.Join(out, "\n"), err
}

func (e *Executor) optimize(ctx context.Context) (string, error) {
	return e.exec(ctx, e.Config.Server.OptimizeCommands()...)
}

// exec runs each argv in order in the project directory, stopping at the
// first failure. It returns the collected stdout.
func (e *Executor) exec(ctx context.Context, argvs ...[]string) (string, error) {
	var out []string
	for _, argv := range argvs {
		res, err := e.Runner.Run(ctx, argv, "")
		if res != nil {
			if s := res.Output(); s != "" {
				out = append(out, s)
			}
		}
		if err := runner.Check(argv, res, err); err != nil {
			return strings.Join(out, "\n"), err
		}
	}
	return strings.Join(out, "\n"), nil
}
