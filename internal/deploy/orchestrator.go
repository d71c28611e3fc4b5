// Package deploy runs the local half of a release: validate, commit and
// push, build assets, then trigger the remote executor.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/deixis/shipwright/internal/config"
	"github.com/deixis/shipwright/internal/pipeline"
	"github.com/deixis/shipwright/internal/steplog"
	"github.com/deixis/shipwright/internal/trigger"
)

// Step names, in execution order.
const (
	StepValidateEnvironment   = "validate_environment"
	StepValidateConfiguration = "validate_configuration"
	StepGit                   = "git"
	StepBuild                 = "build"
	StepTrigger               = "trigger"
)

// CommitTimeFormat is the timestamp layout of the default commit message.
const CommitTimeFormat = "2006-01-02 15:04:05"

// Options are the per-invocation flags.
type Options struct {
	Message     string
	SkipBuild   bool
	DryRun      bool
	InsecureTLS bool
	WithSeed    bool
	Branch      string
	Version     string
}

// VersionControl is the subset of vcs.Git the orchestrator drives.
type VersionControl interface {
	Available(ctx context.Context) error
	Initialized() bool
	CurrentBranch(ctx context.Context) string
	ShortHash(ctx context.Context) string
	HasChanges(ctx context.Context) (bool, error)
	StageAll(ctx context.Context) error
	Commit(ctx context.Context, message string, allowEmpty bool) (bool, error)
	EnsureRemote(ctx context.Context, name, url string) error
	Push(ctx context.Context, remote, branch string) error
}

// AssetBuilder is the subset of assets.NPM the orchestrator drives.
type AssetBuilder interface {
	Available(ctx context.Context) error
	HasManifest() bool
	Install(ctx context.Context) (string, error)
	Build(ctx context.Context) (string, error)
}

// Sender delivers the deploy request. Implemented by trigger.Client.
type Sender interface {
	Send(ctx context.Context, req trigger.Request) (*trigger.Response, error)
}

// Orchestrator runs the local pipeline. All fields except Log and Now are
// required.
type Orchestrator struct {
	Config      *config.Config
	SecretsPath string
	VCS         VersionControl
	Assets      AssetBuilder
	Trigger     Sender
	Log         *steplog.Logger
	Now         func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) log() *steplog.Logger {
	if o.Log == nil {
		return steplog.Discard()
	}
	return o.Log
}

// job carries values resolved by earlier steps to later ones.
type job struct {
	opts    Options
	branch  string
	version string
}

type stepFunc func(ctx context.Context, j *job) (pipeline.StepResult, error)

// Run executes the pipeline. It never panics and never returns an error:
// every failure is recorded as a step and the run is marked failed.
func (o *Orchestrator) Run(ctx context.Context, opts Options) *pipeline.Run {
	run := pipeline.NewRun(pipeline.Local, o.now())
	run.DryRun = opts.DryRun
	log := o.log().With("run_id", run.ID)

	log.Step("deploy", "Deployment started")
	if opts.DryRun {
		log.Step("deploy", "DRY-RUN mode enabled")
	}

	j := &job{opts: opts}
	steps := []struct {
		name string
		fn   stepFunc
	}{
		{StepValidateEnvironment, o.validateEnvironment},
		{StepValidateConfiguration, o.validateConfiguration},
		{StepGit, o.git},
		{StepBuild, o.build},
		{StepTrigger, o.sendTrigger},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			run.Abort(pipeline.Wrap(pipeline.Unexpected, s.name, fmt.Errorf("interrupted: %w", err)))
			break
		}
		res, err := safely(ctx, s.name, j, s.fn)
		if !run.Record(res, true, err) {
			break
		}
	}

	run.Branch = j.branch
	run.Version = j.version
	run.Finish(o.now())

	if err := run.Err(); err != nil {
		cat := pipeline.CategoryOf(err)
		log.Error(cat.Label(), "message", err.Error())
	} else {
		log.Step("deploy", "Deployment completed successfully", "branch", j.branch, "version", j.version)
	}
	return run
}

// safely runs fn, converting a panic into an unexpected step failure.
func safely(ctx context.Context, name string, j *job, fn stepFunc) (res pipeline.StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pipeline.Errorf(pipeline.Unexpected, name, "panic: %v", r)
			res = pipeline.Failed(name, "", err.Error())
		}
	}()
	return fn(ctx, j)
}

func fail(cat pipeline.Category, step, output string, err error) (pipeline.StepResult, error) {
	serr := pipeline.Wrap(cat, step, err)
	return pipeline.Failed(step, output, serr.Error()), serr
}

func (o *Orchestrator) validateEnvironment(ctx context.Context, j *job) (pipeline.StepResult, error) {
	const step = StepValidateEnvironment
	log := o.log()
	log.Step("validate", "Validating environment")

	var out []string
	if err := o.VCS.Available(ctx); err != nil {
		return fail(pipeline.Configuration, step, lines(out), err)
	}
	out = append(out, "git is available")

	if !o.VCS.Initialized() {
		return fail(pipeline.Configuration, step, lines(out),
			errors.New("git repository is not initialized. Run: git init"))
	}
	out = append(out, "git repository initialized")

	if !j.opts.SkipBuild {
		if err := o.Assets.Available(ctx); err != nil {
			return fail(pipeline.Configuration, step, lines(out), err)
		}
		out = append(out, "npm is available")
		if o.Assets.HasManifest() {
			out = append(out, o.manifestName()+" found")
		} else {
			log.Warn(o.manifestName() + " not found. Build will be skipped.")
			out = append(out, o.manifestName()+" not found, build will be skipped")
		}
	}

	if _, err := os.Stat(o.SecretsPath); err != nil {
		return fail(pipeline.Configuration, step, lines(out),
			fmt.Errorf("%s file not found", o.Config.SecretsFileName()))
	}
	out = append(out, o.Config.SecretsFileName()+" file found")

	log.Step("validate", "Environment validation passed")
	return pipeline.Succeeded(step, lines(out)), nil
}

func (o *Orchestrator) validateConfiguration(_ context.Context, _ *job) (pipeline.StepResult, error) {
	const step = StepValidateConfiguration
	o.log().Step("validate", "Validating configuration")
	if err := o.Config.Validate(); err != nil {
		return fail(pipeline.Configuration, step, "", err)
	}
	o.log().Step("validate", "Configuration validation passed")
	return pipeline.Succeeded(step, "all required configuration present"), nil
}

func (o *Orchestrator) git(ctx context.Context, j *job) (pipeline.StepResult, error) {
	const step = StepGit
	log := o.log()
	log.Step("git", "Starting git operations")

	j.branch = j.opts.Branch
	if j.branch == "" {
		j.branch = o.VCS.CurrentBranch(ctx)
	}
	remote := o.Config.RemoteName()
	out := []string{"branch: " + j.branch}

	message := j.opts.Message
	if message == "" {
		message = "Deploy: " + o.now().Format(CommitTimeFormat)
	}

	if j.opts.DryRun {
		j.version = o.version(ctx, j)
		out = append(out,
			"version: "+j.version,
			fmt.Sprintf("would stage and commit changes: %q", message),
			fmt.Sprintf("would push to %s/%s (%s)", remote, j.branch, o.Config.RepositoryURL),
		)
		log.Step("git", fmt.Sprintf("[DRY-RUN] Would push to %s/%s", remote, j.branch))
		return pipeline.SkippedStep(step, lines(out)), nil
	}

	changed, err := o.VCS.HasChanges(ctx)
	if err != nil {
		return fail(pipeline.VersionControl, step, lines(out), err)
	}
	if changed {
		if err := o.VCS.StageAll(ctx); err != nil {
			return fail(pipeline.VersionControl, step, lines(out), err)
		}
		committed, err := o.VCS.Commit(ctx, message, false)
		if err != nil {
			return fail(pipeline.VersionControl, step, lines(out), err)
		}
		if committed {
			out = append(out, "committed: "+message)
		} else {
			log.Warn("No changes to commit")
			out = append(out, "nothing to commit")
		}
	} else {
		out = append(out, "no uncommitted changes")
	}

	j.version = o.version(ctx, j)
	out = append(out, "version: "+j.version)

	if err := o.VCS.EnsureRemote(ctx, remote, o.Config.RepositoryURL); err != nil {
		return fail(pipeline.VersionControl, step, lines(out), err)
	}
	if err := o.VCS.Push(ctx, remote, j.branch); err != nil {
		return fail(pipeline.VersionControl, step, lines(out), err)
	}
	out = append(out, fmt.Sprintf("pushed to %s/%s", remote, j.branch))

	log.Step("git", "Git operations completed", "branch", j.branch, "version", j.version)
	return pipeline.Succeeded(step, lines(out)), nil
}

func (o *Orchestrator) version(ctx context.Context, j *job) string {
	if j.opts.Version != "" {
		return j.opts.Version
	}
	return o.VCS.ShortHash(ctx)
}

func (o *Orchestrator) build(ctx context.Context, j *job) (pipeline.StepResult, error) {
	const step = StepBuild
	log := o.log()

	if j.opts.SkipBuild {
		log.Step("build", "Build skipped by flag")
		return pipeline.SkippedStep(step, "skipped by --skip-build"), nil
	}
	if !o.Assets.HasManifest() {
		log.Warn(o.manifestName() + " not found, skipping build")
		return pipeline.SkippedStep(step, o.manifestName()+" not found"), nil
	}
	if j.opts.DryRun {
		log.Step("build", "[DRY-RUN] Would run: npm install && npm run build")
		return pipeline.SkippedStep(step, "would run: npm install && npm run build"), nil
	}

	log.Step("build", "Starting build process")
	var out []string
	installOut, err := o.Assets.Install(ctx)
	if installOut != "" {
		out = append(out, installOut)
	}
	if err != nil {
		return fail(pipeline.Build, step, lines(out), err)
	}
	buildOut, err := o.Assets.Build(ctx)
	if buildOut != "" {
		out = append(out, buildOut)
	}
	if err != nil {
		return fail(pipeline.Build, step, lines(out), err)
	}
	log.Step("build", "Build completed successfully")
	return pipeline.Succeeded(step, lines(out)), nil
}

func (o *Orchestrator) sendTrigger(ctx context.Context, j *job) (pipeline.StepResult, error) {
	const step = StepTrigger
	log := o.log()
	log.Step("http", "Sending deploy request")

	req := trigger.Request{
		Endpoint:    o.Config.ServerURL,
		Token:       o.Config.Token,
		Timeout:     o.Config.Timeout(),
		InsecureTLS: j.opts.InsecureTLS,
		Payload: trigger.Payload{
			Branch:   j.branch,
			Version:  j.version,
			WithSeed: j.opts.WithSeed,
		},
	}

	if j.opts.DryRun {
		return pipeline.SkippedStep(step, "would send:\n"+trigger.Describe(req)), nil
	}

	resp, err := o.Trigger.Send(ctx, req)
	if err != nil {
		var terr *trigger.Error
		out := ""
		if errors.As(err, &terr) {
			out = summarize(terr.Steps)
		}
		return fail(pipeline.RemoteTrigger, step, out, err)
	}

	out := []string{fmt.Sprintf("remote: %s", resp.Message)}
	if resp.RunID != "" {
		out = append(out, "remote run: "+resp.RunID)
	}
	if s := summarize(resp.Steps); s != "" {
		out = append(out, s)
	}
	if s := summarize(resp.Maintenance); s != "" {
		out = append(out, s)
	}
	return pipeline.Succeeded(step, lines(out)), nil
}

func (o *Orchestrator) manifestName() string {
	return o.Config.ManifestName()
}

// summarize renders remote steps one per line.
func summarize(steps []pipeline.StepResult) string {
	var out []string
	for _, s := range steps {
		line := fmt.Sprintf("  %s: %s", s.Name, s.Status)
		if s.Error != "" {
			line += " (" + s.Error + ")"
		}
		out = append(out, line)
	}
	return lines(out)
}

func lines(out []string) string {
	return strings.Join(out, "\n")
}
