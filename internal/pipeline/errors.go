package pipeline

import (
	"errors"
	"fmt"
)

// Category classifies why a run aborted. The CLI prints one line per
// category and the remote side echoes it in the failure response.
type Category string

const (
	Configuration  Category = "configuration"
	VersionControl Category = "version-control"
	Build          Category = "build"
	RemoteTrigger  Category = "remote-trigger"
	Unexpected     Category = "unexpected"
)

// Label is the human-readable prefix used in CLI output.
func (c Category) Label() string {
	switch c {
	case Configuration:
		return "Configuration error"
	case VersionControl:
		return "Version control error"
	case Build:
		return "Build error"
	case RemoteTrigger:
		return "Remote trigger error"
	default:
		return "Unexpected error"
	}
}

// StepError is an error attributed to a pipeline step and category.
type StepError struct {
	Category Category
	Step     string
	Err      error
}

// New builds a StepError from a message.
func New(cat Category, step, msg string) *StepError {
	return &StepError{Category: cat, Step: step, Err: errors.New(msg)}
}

// Wrap attributes err to a step and category. A nil err yields nil.
func Wrap(cat Category, step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Category: cat, Step: step, Err: err}
}

// Errorf builds a StepError with a formatted message.
func Errorf(cat Category, step, format string, args ...any) *StepError {
	return &StepError{Category: cat, Step: step, Err: fmt.Errorf(format, args...)}
}

func (e *StepError) Error() string {
	return e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CategoryOf returns the category of err, or Unexpected for errors that
// were not raised through a StepError.
func CategoryOf(err error) Category {
	var se *StepError
	if errors.As(err, &se) {
		return se.Category
	}
	return Unexpected
}
