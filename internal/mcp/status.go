package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/shipwright/internal/pipeline"
	"github.com/deixis/shipwright/internal/trigger"
	"github.com/deixis/shipwright/internal/vcs"
)

type statusParams struct{}

func (h *handler) statusHandler(ctx context.Context, req *mcp.CallToolRequest, _ statusParams) (*mcp.CallToolResult, any, error) {
	loaded := h.current()
	cfg := loaded.Config
	git := &vcs.Git{
		Runner:  h.runner,
		Root:    loaded.RepoRoot,
		Timeout: cfg.GitTimeout(),
		Exclude: loaded.TreeExcludes(),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", loaded.RepoRoot)

	if err := git.Available(ctx); err != nil {
		fmt.Fprintf(&b, "Git: %v\n", err)
	} else if !git.Initialized() {
		fmt.Fprintln(&b, "Git: repository not initialized")
	} else {
		fmt.Fprintf(&b, "Branch: %s\n", git.CurrentBranch(ctx))
		if v := git.ShortHash(ctx); v != "" {
			fmt.Fprintf(&b, "Version: %s\n", v)
		} else {
			fmt.Fprintln(&b, "Version: (no commits)")
		}
		if changed, err := git.HasChanges(ctx); err == nil {
			fmt.Fprintf(&b, "Uncommitted changes: %t\n", changed)
		}
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Settings:")
	if !loaded.SecretsFound {
		fmt.Fprintf(&b, "  %s: not found\n", cfg.SecretsFileName())
	}
	fmt.Fprintf(&b, "  Remote: %s %s\n", cfg.RemoteName(), valueOr(cfg.RepositoryURL))
	endpoint := cfg.ServerURL
	if endpoint != "" {
		if e, err := trigger.Endpoint(endpoint); err == nil {
			endpoint = e
		}
	}
	fmt.Fprintf(&b, "  Server: %s\n", valueOr(endpoint))
	fmt.Fprintf(&b, "  Token: %s\n", valueOr(pipeline.MaskToken(cfg.Token)))
	fmt.Fprintf(&b, "  Timeout: %s\n", cfg.Timeout())
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(&b, "\nConfiguration error: %v\n", err)
	}

	return textResult(b.String())
}

func valueOr(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}
