package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/deixis/shipwright/internal/assets"
	"github.com/deixis/shipwright/internal/config"
	"github.com/deixis/shipwright/internal/remote"
	"github.com/deixis/shipwright/internal/report"
	"github.com/deixis/shipwright/internal/runner"
	"github.com/deixis/shipwright/internal/server"
	"github.com/deixis/shipwright/internal/steplog"
	"github.com/deixis/shipwright/internal/vcs"
)

// shutdownGrace bounds how long an in-flight deployment may keep the
// server alive after a shutdown signal.
const shutdownGrace = 10 * time.Minute

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployment server",
	Long: `Listens for deploy triggers on POST /deploy and runs the server pipeline
(pull, install, build, migrate, optional seed, optimize) in the project
directory. Also serves GET /healthz, GET /metrics, and GET /deploy/runs/{id}.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serveMain(ctx, serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, then :8080)")
	rootCmd.AddCommand(serveCmd)
}

func serveMain(ctx context.Context, addr string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := loaded.Config
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	srv := &cfg.Server

	project := srv.ProjectPath
	if project == "" {
		project = loaded.RepoRoot
	}
	project, err = filepath.Abs(project)
	if err != nil {
		return fmt.Errorf("resolving project path: %w", err)
	}
	if addr == "" {
		addr = srv.ListenAddr()
	}

	stepLog, closeLog, err := openStepLog(project, srv.LogFilePath(), nil)
	if err != nil {
		return err
	}
	defer closeLog()

	registry := prometheus.NewRegistry()
	metrics := server.NewMetrics(registry)
	exec := newExecutor(cfg, project, stepLog)
	exec.Observer = metrics

	history := report.NewDiskStore("")
	if dir, err := history.Dir(); err == nil {
		log.Printf("archiving runs in %s", dir)
	}

	h := server.New(server.Options{
		Executor: exec,
		Store:    report.NewLRUStore(srv.HistorySize(), history),
		Token:    cfg.Token,
		Logger:   slog.New(slog.NewJSONHandler(os.Stdout, nil)),
		StepLog:  stepLog,
		Registry: registry,
		Metrics:  metrics,
	})

	log.Printf("listening on %s (project %s)", addr, project)
	return server.Serve(ctx, addr, h, shutdownGrace)
}

// serverEnv keeps remote tools from waiting on a terminal.
var serverEnv = []string{"COMPOSER_NO_INTERACTION=1", "GIT_TERMINAL_PROMPT=0"}

// newExecutor wires the remote pipeline for the working tree at project.
func newExecutor(cfg *config.Config, project string, stepLog *steplog.Logger) *remote.Executor {
	srv := &cfg.Server
	r := &runner.Runner{
		Workspace: project,
		MaxOutput: cfg.MaxOutputBytes(),
		Env:       serverEnv,
	}
	return &remote.Executor{
		Config: cfg,
		Runner: r,
		Git:    &vcs.Git{Runner: r, Root: project, Timeout: srv.StepTimeout(), Log: stepLog},
		Assets: &assets.NPM{
			Runner:         r,
			Root:           project,
			InstallArgv:    srv.AssetInstallCommand(),
			BuildArgv:      srv.AssetBuildCommand(),
			InstallTimeout: srv.AssetInstallTimeout(),
			BuildTimeout:   srv.AssetBuildTimeout(),
			Log:            stepLog,
		},
		Log: stepLog,
	}
}
