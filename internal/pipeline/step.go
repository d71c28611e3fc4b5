// Package pipeline holds the data model shared by the local orchestrator
// and the remote executor: step results, the run they accumulate into,
// and the error categories a run can abort with.
package pipeline

// Status is the outcome of a single step.
type Status string

const (
	Success Status = "success"
	Error   Status = "error"
	Skipped Status = "skipped"
)

// StepResult is the structured outcome of one pipeline step.
type StepResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Succeeded returns a success result for the named step.
func Succeeded(name, output string) StepResult {
	return StepResult{Name: name, Status: Success, Output: output}
}

// Failed returns an error result. The error text is never empty.
func Failed(name, output, msg string) StepResult {
	if msg == "" {
		msg = "step failed"
	}
	return StepResult{Name: name, Status: Error, Output: output, Error: msg}
}

// SkippedStep returns a skipped result; output says why or what would have run.
func SkippedStep(name, output string) StepResult {
	return StepResult{Name: name, Status: Skipped, Output: output}
}
