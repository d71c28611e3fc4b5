package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/shipwright/internal/deploy"
	"github.com/deixis/shipwright/internal/pipeline"
)

type planParams struct {
	Branch    string `json:"branch,omitempty" jsonschema:"Branch to deploy. Defaults to the current branch."`
	Version   string `json:"version,omitempty" jsonschema:"Version label sent to the server. Defaults to the short commit hash."`
	Message   string `json:"message,omitempty" jsonschema:"Commit message. Defaults to 'Deploy: <timestamp>'."`
	SkipBuild bool   `json:"skip_build,omitempty" jsonschema:"Skip the front-end asset build."`
	WithSeed  bool   `json:"with_seed,omitempty" jsonschema:"Ask the server to run database seeders."`
}

func (h *handler) planHandler(ctx context.Context, req *mcp.CallToolRequest, params planParams) (*mcp.CallToolResult, any, error) {
	run := h.orchestrator().Run(ctx, deploy.Options{
		DryRun:    true,
		Branch:    params.Branch,
		Version:   params.Version,
		Message:   params.Message,
		SkipBuild: params.SkipBuild,
		WithSeed:  params.WithSeed,
	})

	// Save results for deploy_inspect.
	_ = h.store.Save(run)

	return textResult(formatPlan(run))
}

func formatPlan(run *pipeline.Run) string {
	var b strings.Builder

	if run.Succeeded() {
		fmt.Fprintln(&b, "Status: READY")
	} else {
		fmt.Fprintln(&b, "Status: BLOCKED")
	}
	fmt.Fprintf(&b, "Run: %s\n", run.ID)
	if run.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", run.Branch)
	}
	if run.Version != "" {
		fmt.Fprintf(&b, "Version: %s\n", run.Version)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Steps:")
	for _, s := range run.Steps {
		fmt.Fprintf(&b, "  %-24s %s\n", s.Name, strings.ToUpper(string(s.Status)))
		if s.Error != "" {
			fmt.Fprintf(&b, "    %s\n", s.Error)
		}
	}

	if err := run.Err(); err != nil {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "%s: %v\n", pipeline.CategoryOf(err).Label(), err)
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Use deploy_inspect with run_id=%s and a step name for full output.\n", run.ID)
	return b.String()
}
