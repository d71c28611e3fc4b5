package runner

import (
	"strings"
	"time"
)

// Result holds the output of a command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	ExitCode  int           // process exit code
	Stdout    []byte        // captured stdout (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	Truncated bool          // true if output exceeded the size cap
	TimedOut  bool          // true if the process was killed at its deadline
	Duration  time.Duration // wall time of the process
}

// Success reports whether the process exited zero within its deadline.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Output returns stdout with surrounding whitespace removed.
func (r *Result) Output() string {
	return strings.TrimSpace(string(r.Stdout))
}

// ErrorOutput returns stderr with surrounding whitespace removed. When the
// process was killed at its deadline and wrote nothing, a timeout notice
// is returned instead so callers always have something to report.
func (r *Result) ErrorOutput() string {
	s := strings.TrimSpace(string(r.Stderr))
	if s == "" && r.TimedOut {
		return "timed out after " + r.Duration.Round(time.Millisecond).String()
	}
	return s
}

// Combined returns stdout and stderr joined by a newline, skipping empty parts.
func (r *Result) Combined() string {
	var parts []string
	if out := r.Output(); out != "" {
		parts = append(parts, out)
	}
	if errOut := r.ErrorOutput(); errOut != "" {
		parts = append(parts, errOut)
	}
	return strings.Join(parts, "\n")
}
