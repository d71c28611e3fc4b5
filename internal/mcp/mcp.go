// Package mcp provides the shipwright MCP server: read-only tools that
// let a model inspect the repository, plan a deployment as a dry run,
// and drill into archived runs.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/shipwright"
	"github.com/deixis/shipwright/internal/config"
	"github.com/deixis/shipwright/internal/deploy"
	"github.com/deixis/shipwright/internal/report"
	"github.com/deixis/shipwright/internal/runner"
	"github.com/deixis/shipwright/internal/steplog"
	"github.com/deixis/shipwright/internal/vcs"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu     sync.Mutex
	loaded *config.LoadResult
	runner vcs.CommandRunner
	store  report.Store
	log    *steplog.Logger
}

// NewServer creates an MCP server with all shipwright tools registered.
func NewServer(loaded *config.LoadResult, r vcs.CommandRunner, store report.Store, log *steplog.Logger) *mcp.Server {
	h := &handler{
		loaded: loaded,
		runner: r,
		store:  store,
		log:    log,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "shipwright", Version: shipwright.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "deploy_status",
		Description: "Summarise the repository: branch, version, uncommitted changes, and deployment settings (token masked).",
	}, h.statusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "deploy_plan",
		Description: `Run the deployment pipeline as a dry run and report what each step would do.

Nothing is committed, pushed, built, or sent. Validation steps run for real, so
missing tools or settings are reported exactly as a real deployment would.
The run is stored for drill-down via deploy_inspect.`,
	}, h.planHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "deploy_inspect",
		Description: `Drill into a stored run from deploy_plan.

Use the run_id from the tool output. Pass step to see the full output of one step.`,
	}, h.inspectHandler)

	return s
}

// orchestrator builds an Orchestrator for the current workspace.
func (h *handler) orchestrator() *deploy.Orchestrator {
	h.mu.Lock()
	defer h.mu.Unlock()
	return deploy.New(h.loaded, h.runner, h.log)
}

func (h *handler) current() *config.LoadResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// updateWorkspaceFromRoots queries the client for MCP roots and reloads
// the configuration if a valid root is returned. This is called during
// session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.runner.(*runner.Runner); ok {
		r.Workspace = loaded.RepoRoot
		r.MaxOutput = loaded.Config.MaxOutputBytes()
	}
	h.loaded = loaded
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
