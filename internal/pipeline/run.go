package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Side identifies which half of the deployment produced a run.
type Side string

const (
	Local  Side = "local"
	Remote Side = "remote"
)

// Run is the ordered record of one pipeline invocation. It is built
// incrementally by a single goroutine and discarded (or archived) once
// the invocation's output has been emitted.
type Run struct {
	ID          string       `json:"id"`
	Side        Side         `json:"side"`
	DryRun      bool         `json:"dry_run,omitempty"`
	Branch      string       `json:"branch,omitempty"`
	Version     string       `json:"version,omitempty"`
	Steps       []StepResult `json:"steps"`
	Maintenance []StepResult `json:"maintenance,omitempty"`
	Failed      bool         `json:"failed"`
	Message     string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at,omitzero"`

	err error
}

// NewRun starts an empty run for the given side.
func NewRun(side Side, now time.Time) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Side:      side,
		Steps:     []StepResult{},
		StartedAt: now,
	}
}

// Record appends a step. When critical is true and the step errored, the
// run is marked failed with err (or a generic error built from the step)
// and every later Record call is refused. It reports whether the run may
// continue.
func (r *Run) Record(step StepResult, critical bool, err error) bool {
	if r.Failed {
		return false
	}
	r.Steps = append(r.Steps, step)
	if step.Status != Error || !critical {
		return true
	}
	if err == nil {
		err = New(Unexpected, step.Name, step.Error)
	}
	r.fail(err)
	return false
}

// RecordMaintenance appends a non-critical housekeeping step. Its failure
// never fails the run.
func (r *Run) RecordMaintenance(step StepResult) {
	r.Maintenance = append(r.Maintenance, step)
}

// Abort marks the run failed without appending a step. Used when an error
// occurs outside any step, e.g. a recovered panic.
func (r *Run) Abort(err error) {
	if r.Failed {
		return
	}
	r.fail(err)
}

func (r *Run) fail(err error) {
	r.Failed = true
	r.err = err
	r.Message = err.Error()
}

// Err returns the error that aborted the run, or nil.
func (r *Run) Err() error {
	return r.err
}

// Succeeded reports whether every critical step completed.
func (r *Run) Succeeded() bool {
	return !r.Failed
}

// Finish stamps the completion time.
func (r *Run) Finish(now time.Time) {
	r.FinishedAt = now
}

// Step returns the named step result and whether it was recorded.
func (r *Run) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	for _, s := range r.Maintenance {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}
