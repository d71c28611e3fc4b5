package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/shipwright/internal/pipeline"
	"github.com/deixis/shipwright/internal/report"
	"github.com/deixis/shipwright/internal/steplog"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a deploy_plan result"`
	Step  string `json:"step,omitempty" jsonschema:"step name (e.g. git, build, trigger). Omit for a summary of every step."`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	run, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	if err := report.Expect(run, pipeline.Local); err != nil {
		return errorResult(err.Error())
	}

	if params.Step == "" {
		return textResult(formatInspectSummary(run))
	}

	step, ok := run.Step(params.Step)
	if !ok {
		return textResult(fmt.Sprintf("No step %s in run %s (%s).", params.Step, run.ID, run.Side))
	}
	return textResult(formatInspectStep(run, step))
}

func formatInspectSummary(run *pipeline.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", run.ID, run.Side)
	if run.DryRun {
		fmt.Fprintln(&b, "Mode: dry run")
	}
	fmt.Fprintf(&b, "Started: %s\n", run.StartedAt.Format(steplog.TimeFormat))
	fmt.Fprintln(&b)
	for _, line := range report.Summary(run) {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return b.String()
}

func formatInspectStep(run *pipeline.Run, s pipeline.StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", run.ID, run.Side)
	fmt.Fprintf(&b, "%s: %s\n", s.Name, strings.ToUpper(string(s.Status)))
	if s.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", s.Error)
	}
	if s.Output != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Output:")
		for _, line := range strings.Split(strings.TrimRight(s.Output, "\n"), "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}
