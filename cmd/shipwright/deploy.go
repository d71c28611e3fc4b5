package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deixis/shipwright/internal/deploy"
	"github.com/deixis/shipwright/internal/pipeline"
	"github.com/deixis/shipwright/internal/runner"
)

// stepSetup names failures that happen before the pipeline starts.
const stepSetup = "setup"

// errDeployFailed is returned once the failure has been reported.
var errDeployFailed = errors.New("deployment failed")

var deployFlags struct {
	opts    deploy.Options
	json    bool
	verbose bool
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Commit and push, build assets, and trigger the deployment server",
	Long: `Runs the local deployment pipeline:

  validate_environment    git, npm, and the secrets file are present
  validate_configuration  repository URL, server URL, and token are set
  git                     stage, commit, and push the current branch
  build                   npm install and npm run build
  trigger                 POST the branch and version to the deployment server

The pipeline stops at the first failing step and exits with status 1.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run, err := deployMain(ctx, deployFlags.opts)
		if err != nil {
			printFailure(cmd.ErrOrStderr(), err)
			return errDeployFailed
		}
		if deployFlags.json {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(run); err != nil {
				return err
			}
		} else {
			printRun(cmd.OutOrStdout(), run)
		}
		if !run.Succeeded() {
			printFailure(cmd.ErrOrStderr(), run.Err())
			return errDeployFailed
		}
		return nil
	},
}

func init() {
	f := deployCmd.Flags()
	f.StringVarP(&deployFlags.opts.Message, "message", "m", "", "commit message (default \"Deploy: <timestamp>\")")
	f.BoolVar(&deployFlags.opts.SkipBuild, "skip-build", false, "skip npm install and npm run build")
	f.BoolVar(&deployFlags.opts.DryRun, "dry-run", false, "report what would happen without committing, building, or sending")
	f.BoolVar(&deployFlags.opts.InsecureTLS, "insecure", false, "skip TLS certificate verification for the deploy request")
	f.BoolVar(&deployFlags.opts.WithSeed, "with-seed", false, "ask the server to run database seeders")
	f.StringVar(&deployFlags.opts.Branch, "branch", "", "branch to push and deploy (default current branch)")
	f.StringVar(&deployFlags.opts.Version, "version", "", "version label sent to the server (default short commit hash)")
	f.BoolVar(&deployFlags.json, "json", false, "print the run as JSON")
	f.BoolVarP(&deployFlags.verbose, "verbose", "v", false, "echo every log line to stderr")
	rootCmd.AddCommand(deployCmd)
}

func deployMain(ctx context.Context, opts deploy.Options) (*pipeline.Run, error) {
	loaded, err := loadConfig()
	if err != nil {
		return nil, pipeline.Wrap(pipeline.Configuration, stepSetup, err)
	}
	cfg := loaded.Config

	level := slog.LevelWarn
	if deployFlags.verbose {
		level = slog.LevelInfo
	}
	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log, closeLog, err := openStepLog(loaded.RepoRoot, cfg.LogFilePath(), console)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.Configuration, stepSetup, err)
	}
	defer closeLog()

	r := &runner.Runner{
		Workspace: loaded.RepoRoot,
		MaxOutput: cfg.MaxOutputBytes(),
		Env:       localEnv,
	}
	return deploy.New(loaded, r, log).Run(ctx, opts), nil
}

func printRun(w io.Writer, run *pipeline.Run) {
	for _, s := range run.Steps {
		var mark string
		switch s.Status {
		case pipeline.Success:
			mark = green("✓")
		case pipeline.Skipped:
			mark = yellow("-")
		default:
			mark = red("✗")
		}
		fmt.Fprintf(w, "%s %s\n", mark, bold(s.Name))
		if s.Output != "" {
			for _, line := range strings.Split(strings.TrimRight(s.Output, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	if !run.Succeeded() {
		return
	}
	switch {
	case run.DryRun:
		fmt.Fprintln(w, yellow("Dry run complete. Nothing was committed, built, or sent."))
	default:
		fmt.Fprintln(w, green(fmt.Sprintf("Deployment completed successfully (branch %s, version %s)", run.Branch, run.Version)))
	}
}

func printFailure(w io.Writer, err error) {
	fmt.Fprintln(w, red(fmt.Sprintf("%s: %v", pipeline.CategoryOf(err).Label(), err)))
}
