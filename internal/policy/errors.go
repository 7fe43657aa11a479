package policy

import "fmt"

// BuildError reports a malformed rule. It is raised by Build, never while a
// script runs, and is not recoverable.
type BuildError struct {
	Rule   string
	Reason string
	Err    error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("invalid sandbox rule %q: %s", e.Rule, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
