// Package report archives finished pipeline runs so they can be
// inspected after the response has been sent.
package report

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/deixis/shipwright/internal/pipeline"
)

// ErrNotFound is returned by Load when no run has the given ID.
var ErrNotFound = errors.New("run not found")

// Store persists and retrieves finished runs.
type Store interface {
	Save(run *pipeline.Run) error
	Load(runID string) (*pipeline.Run, error)
}

// ValidID reports whether runID has the shape of a run ID. Stores refuse
// anything else so IDs never reach the filesystem unchecked.
func ValidID(runID string) error {
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, ErrNotFound)
	}
	return nil
}

// Expect returns an error if the run was not produced by side.
func Expect(run *pipeline.Run, side pipeline.Side) error {
	if run.Side != side {
		return fmt.Errorf("run %s is a %s run, not a %s run", run.ID, run.Side, side)
	}
	return nil
}

// Summary is a one-line-per-step view of a run.
func Summary(run *pipeline.Run) []string {
	out := make([]string, 0, len(run.Steps)+len(run.Maintenance))
	for _, s := range append(append([]pipeline.StepResult{}, run.Steps...), run.Maintenance...) {
		line := fmt.Sprintf("%s: %s", s.Name, s.Status)
		if s.Error != "" {
			line += " (" + s.Error + ")"
		}
		out = append(out, line)
	}
	return out
}
