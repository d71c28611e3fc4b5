package runner

import (
	"fmt"
	"strings"
	"time"
)

// knownTools maps tool binary names to install hints.
var knownTools = map[string]string{
	"git":      "https://git-scm.com/downloads",
	"npm":      "https://nodejs.org/en/download",
	"composer": "https://getcomposer.org/download/",
	"php":      "https://www.php.net/downloads",
}

// ErrToolUnavailable is returned when a required tool is not installed.
// It includes an install hint when the tool is known.
type ErrToolUnavailable struct {
	Name    string
	Install string
}

func NewErrToolUnavailable(name string) ErrToolUnavailable {
	return ErrToolUnavailable{Name: name, Install: knownTools[name]}
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if e.Install != "" {
		fmt.Fprintf(&b, " Install: %s", e.Install)
	}
	return b.String()
}

// CommandError reports a command that ran but did not succeed.
type CommandError struct {
	Argv   []string
	Result *Result
}

func (e *CommandError) Error() string {
	name := strings.Join(e.Argv, " ")
	if e.Result == nil {
		return name + " failed"
	}
	if e.Result.TimedOut {
		return fmt.Sprintf("%s timed out after %s", name, e.Result.Duration.Round(time.Millisecond))
	}
	detail := e.Result.ErrorOutput()
	if detail == "" {
		detail = e.Result.Output()
	}
	if detail == "" {
		return fmt.Sprintf("%s failed (exit %d)", name, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s failed (exit %d): %s", name, e.Result.ExitCode, detail)
}

// Check converts an unsuccessful Result into a *CommandError. A nil err
// with a successful result yields nil.
func Check(argv []string, res *Result, err error) error {
	if err != nil {
		return err
	}
	if !res.Success() {
		return &CommandError{Argv: argv, Result: res}
	}
	return nil
}
