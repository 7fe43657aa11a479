package interceptor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/callstack"
)

// ErrDenied matches every *SecurityError with errors.Is.
var ErrDenied = errors.New("denied by sandbox")

// SecurityError is returned when the sandbox refuses an operation. Trail is
// the script call stack at the point of the violation, innermost first.
type SecurityError struct {
	Target  string
	Message string
	Trail   string
	Err     error
}

func newSecurityError(ctx context.Context, target, msg string, cause error) *SecurityError {
	e := &SecurityError{Target: target, Message: msg, Err: cause}
	if s := callstack.FromContext(ctx); s != nil {
		e.Trail = s.Trail()
	}
	return e
}

func (e *SecurityError) Error() string {
	msg := "sandbox: " + e.Message
	if e.Trail != "" {
		msg += "\n" + e.Trail
	}
	return msg
}

// Is reports whether target is ErrDenied.
func (e *SecurityError) Is(target error) bool {
	return target == ErrDenied
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// IsDenied reports whether err, or any error it wraps, is a sandbox denial.
func IsDenied(err error) bool {
	return errors.Is(err, ErrDenied)
}

// InvocationError wraps a failure of an allowed host operation. It is never a
// denial.
type InvocationError struct {
	Target string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Target, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
