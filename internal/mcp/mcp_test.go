package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/shipwright/internal/config"
	"github.com/deixis/shipwright/internal/pipeline"
	"github.com/deixis/shipwright/internal/report"
	"github.com/deixis/shipwright/internal/runner"
	"github.com/deixis/shipwright/internal/steplog"
)

type fakeRunner struct {
	mu      sync.Mutex
	Results map[string]*runner.Result
	Calls   []string
}

func (f *fakeRunner) Run(_ context.Context, argv []string, _ string) (*runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.Join(argv, " ")
	f.Calls = append(f.Calls, key)
	if r, ok := f.Results[key]; ok {
		return r, nil
	}
	return &runner.Result{ExitCode: 0}, nil
}

func (f *fakeRunner) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{Results: map[string]*runner.Result{
		"git rev-parse --abbrev-ref HEAD":                                {Stdout: []byte("feature/login\n")},
		"git rev-parse HEAD":                                             {Stdout: []byte("4f2c9e1d0b7a6c5e\n")},
		"git status --porcelain -- . :(exclude)storage/logs/deploy.log": {Stdout: []byte(" M app.js\n")},
	}}
}

// workspace creates a repository with a complete configuration.
func workspace(t *testing.T, secrets string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"package.json": `{"scripts":{"build":"vite build"}}`,
		config.FileName: "version: 1\n",
	}
	if secrets != "" {
		files[".env"] = secrets
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

const fullSecrets = "GIT_REPOSITORY_URL=git@example.com:acme/app.git\n" +
	"DEPLOY_SERVER_URL=https://deploy.example.com\n" +
	"DEPLOY_TOKEN=s3cr3t-token-value-1234\n"

// setup creates a shipwright MCP server + client over in-memory transports.
func setup(t *testing.T, dir string, r *fakeRunner) (*mcp.ClientSession, report.Store) {
	t.Helper()
	ctx := context.Background()

	loaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	store := report.NewLRUStore(5, nil)
	server := NewServer(loaded, r, store, steplog.Discard())

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs, store
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// runIDFrom extracts the "Run: <id>" line of a plan.
func runIDFrom(t *testing.T, text string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if id, ok := strings.CutPrefix(line, "Run: "); ok {
			return strings.TrimSpace(id)
		}
	}
	t.Fatalf("no run ID in output:\n%s", text)
	return ""
}

func TestListTools(t *testing.T) {
	cs, _ := setup(t, workspace(t, fullSecrets), newFakeRunner())
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, want := range []string{"deploy_status", "deploy_plan", "deploy_inspect"} {
		if !got[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

// --- deploy_status ---

func TestDeployStatus(t *testing.T) {
	cs, _ := setup(t, workspace(t, fullSecrets), newFakeRunner())
	res := callTool(t, cs, "deploy_status", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{
		"Branch: feature/login",
		"Version: 4f2c9e1",
		"Uncommitted changes: true",
		"Server: https://deploy.example.com/deploy",
		"Token: " + pipeline.MaskToken("s3cr3t-token-value-1234"),
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "s3cr3t-token-value-1234") {
		t.Error("token leaked in status output")
	}
}

func TestDeployStatus_MissingSettings(t *testing.T) {
	cs, _ := setup(t, workspace(t, ""), newFakeRunner())
	text := resultText(callTool(t, cs, "deploy_status", nil))
	for _, want := range []string{".env: not found", "Token: (not set)", "Configuration error:", "DEPLOY_TOKEN"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestDeployStatus_GitUnavailable(t *testing.T) {
	r := newFakeRunner()
	r.Results["git --version"] = &runner.Result{ExitCode: 127}
	cs, _ := setup(t, workspace(t, fullSecrets), r)
	text := resultText(callTool(t, cs, "deploy_status", nil))
	if !strings.Contains(text, "git is required but not installed") {
		t.Errorf("expected git unavailable message, got:\n%s", text)
	}
}

// --- deploy_plan ---

func TestDeployPlan_Ready(t *testing.T) {
	r := newFakeRunner()
	cs, store := setup(t, workspace(t, fullSecrets), r)
	res := callTool(t, cs, "deploy_plan", map[string]any{"message": "Release 42"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Status: READY", "Branch: feature/login", "Version: 4f2c9e1", "SKIPPED"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	for _, prefix := range []string{"git add", "git commit", "git push", "npm install", "npm run"} {
		if r.called(prefix) {
			t.Errorf("dry run executed %q", prefix)
		}
	}

	run, err := store.Load(runIDFrom(t, text))
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if !run.DryRun {
		t.Error("stored run is not marked as dry run")
	}
}

func TestDeployPlan_Blocked(t *testing.T) {
	cs, _ := setup(t, workspace(t, "DEPLOY_TOKEN=abc\n"), newFakeRunner())
	text := resultText(callTool(t, cs, "deploy_plan", nil))
	for _, want := range []string{"Status: BLOCKED", "Configuration error:", "GIT_REPOSITORY_URL", "DEPLOY_SERVER_URL"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestDeployPlan_ExplicitBranch(t *testing.T) {
	cs, _ := setup(t, workspace(t, fullSecrets), newFakeRunner())
	text := resultText(callTool(t, cs, "deploy_plan", map[string]any{
		"branch":     "release",
		"version":    "v2.1.0",
		"skip_build": true,
	}))
	for _, want := range []string{"Branch: release", "Version: v2.1.0"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

// --- deploy_inspect ---

func TestDeployInspect_MissingRunID(t *testing.T) {
	cs, _ := setup(t, workspace(t, fullSecrets), newFakeRunner())
	res := callTool(t, cs, "deploy_inspect", map[string]any{"run_id": ""})
	if !res.IsError {
		t.Fatal("expected error for empty run_id")
	}
}

func TestDeployInspect_UnknownRun(t *testing.T) {
	cs, _ := setup(t, workspace(t, fullSecrets), newFakeRunner())
	res := callTool(t, cs, "deploy_inspect", map[string]any{"run_id": "../../etc/passwd"})
	if !res.IsError {
		t.Fatal("expected error for invalid run_id")
	}
}

func TestDeployInspect_AfterPlan(t *testing.T) {
	cs, _ := setup(t, workspace(t, fullSecrets), newFakeRunner())
	runID := runIDFrom(t, resultText(callTool(t, cs, "deploy_plan", nil)))

	summary := resultText(callTool(t, cs, "deploy_inspect", map[string]any{"run_id": runID}))
	for _, want := range []string{"Mode: dry run", "validate_environment: success", "git: skipped", "trigger: skipped"} {
		if !strings.Contains(summary, want) {
			t.Errorf("expected %q in summary, got:\n%s", want, summary)
		}
	}

	step := resultText(callTool(t, cs, "deploy_inspect", map[string]any{"run_id": runID, "step": "trigger"}))
	if !strings.Contains(step, "trigger: SKIPPED") {
		t.Errorf("expected trigger header, got:\n%s", step)
	}
	if !strings.Contains(step, "https://deploy.example.com/deploy") {
		t.Errorf("expected endpoint in trigger output, got:\n%s", step)
	}
	if strings.Contains(step, "s3cr3t-token-value-1234") {
		t.Error("token leaked in trigger output")
	}

	missing := resultText(callTool(t, cs, "deploy_inspect", map[string]any{"run_id": runID, "step": "seed"}))
	if !strings.Contains(missing, "No step seed") {
		t.Errorf("expected missing step message, got:\n%s", missing)
	}
}

func TestDeployInspect_RejectsRemoteRun(t *testing.T) {
	cs, store := setup(t, workspace(t, fullSecrets), newFakeRunner())
	run := pipeline.NewRun(pipeline.Remote, time.Now())
	if err := store.Save(run); err != nil {
		t.Fatal(err)
	}
	res := callTool(t, cs, "deploy_inspect", map[string]any{"run_id": run.ID})
	if !res.IsError {
		t.Fatalf("expected error for a remote run, got:\n%s", resultText(res))
	}
	if text := resultText(res); !strings.Contains(text, "not a local run") {
		t.Errorf("got:\n%s", text)
	}
}
