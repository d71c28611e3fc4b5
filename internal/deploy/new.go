package deploy

import (
	"net/http"

	"github.com/deixis/shipwright/internal/assets"
	"github.com/deixis/shipwright/internal/config"
	"github.com/deixis/shipwright/internal/steplog"
	"github.com/deixis/shipwright/internal/trigger"
	"github.com/deixis/shipwright/internal/vcs"
)

// New wires an Orchestrator for the repository described by loaded, with
// every external command going through cmd.
func New(loaded *config.LoadResult, cmd vcs.CommandRunner, log *steplog.Logger) *Orchestrator {
	cfg := loaded.Config
	return &Orchestrator{
		Config:      cfg,
		SecretsPath: loaded.SecretsPath,
		VCS: &vcs.Git{
			Runner:  cmd,
			Root:    loaded.RepoRoot,
			Timeout: cfg.GitTimeout(),
			Log:     log,
			Exclude: loaded.TreeExcludes(),
		},
		Assets: &assets.NPM{
			Runner:         cmd,
			Root:           loaded.RepoRoot,
			Manifest:       cfg.ManifestName(),
			InstallTimeout: cfg.InstallTimeout(),
			BuildTimeout:   cfg.BuildTimeout(),
			Log:            log,
		},
		Trigger: &trigger.Client{HTTP: &http.Client{}, Log: log},
		Log:     log,
	}
}
