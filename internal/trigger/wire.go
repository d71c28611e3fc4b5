package trigger

import (
	"fmt"

	"github.com/deixis/shipwright/internal/pipeline"
)

// TimestampFormat is the layout of Response.Timestamp.
const TimestampFormat = "2006-01-02 15:04:05"

// Payload is the JSON body of a deploy request.
type Payload struct {
	Branch   string `json:"branch"`
	Version  string `json:"version,omitempty"`
	WithSeed bool   `json:"with_seed"`
}

// Response is the JSON body returned by the deploy endpoint for every
// outcome, including failures and rejected requests.
type Response struct {
	Success     bool                  `json:"success"`
	Message     string                `json:"message"`
	Error       string                `json:"error,omitempty"`
	Version     string                `json:"version,omitempty"`
	Branch      string                `json:"branch,omitempty"`
	Steps       []pipeline.StepResult `json:"steps"`
	Maintenance []pipeline.StepResult `json:"maintenance,omitempty"`
	Timestamp   string                `json:"timestamp,omitempty"`
	RunID       string                `json:"run_id,omitempty"`

	Status int `json:"-"` // HTTP status code, set by the client
}

// Error is returned by Client.Send when the endpoint answered with a
// non-2xx status or could not be reached (Status 0).
type Error struct {
	Status  int
	Message string
	Detail  string
	Steps   []pipeline.StepResult
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("HTTP request failed: %s", e.Message)
	}
	msg := fmt.Sprintf("deploy request failed with status %d: %s", e.Status, e.Message)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
