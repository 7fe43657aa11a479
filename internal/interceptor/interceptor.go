// Package interceptor mediates every attempt by a script to touch the host.
//
// The evaluator never calls the host backend directly. It calls one of the
// hooks of the Interceptor it was configured with, and the interceptor either
// performs the operation or fails closed with a *SecurityError. Three
// interceptors are provided:
//
//   - AcceptAll delegates every operation unchecked.
//   - RejectAll denies every operation.
//   - Sandboxed consults a compiled policy.
//
// Constructing the script error class is exempt from checks in every variant
// so that scripts can always raise errors (see IsExemptConstructor).
package interceptor

import (
	"context"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/clock"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/logging"
)

// Interceptor is the mediation API the evaluator calls. Implementations are
// shared by every goroutine running scripts and must be safe for concurrent use.
type Interceptor interface {
	InvokeInstanceMethod(ctx context.Context, receiver any, method string, args []any) (any, error)
	InvokeStaticMethod(ctx context.Context, class, method string, args []any) (any, error)
	InvokeConstructor(ctx context.Context, class string, args []any) (any, error)

	GetBeanProperty(ctx context.Context, receiver any, name string) (any, error)
	SetBeanProperty(ctx context.Context, receiver any, name string, value any) error
	GetStaticField(ctx context.Context, class, name string) (any, error)
	GetInstanceField(ctx context.Context, receiver any, name string) (any, error)

	LoadClasspathResource(ctx context.Context, name string) ([]byte, error)
	ReadSystemProperty(ctx context.Context, name string) (string, bool, error)
	ReadSystemEnv(ctx context.Context, name string) (string, bool, error)

	// ValidateFunctionCall is called before every privileged builtin runs.
	ValidateFunctionCall(ctx context.Context, name string) error
	ValidateModuleLoad(ctx context.Context, name string) error
	ValidateExecutionTime(ctx context.Context) error
	ValidateFileRead(ctx context.Context, path string) error
	ValidateFileWrite(ctx context.Context, path string) error

	// MaxExecSeconds returns the configured execution limit, if any.
	MaxExecSeconds() (int, bool)
	// MaxCallbackPoolSize returns the configured callback concurrency, if any.
	MaxCallbackPoolSize() (int, bool)

	// ClassOf returns the class id of a value handed to a script.
	ClassOf(v any) string
}

// IsExemptConstructor reports whether constructing class bypasses every
// check. Only the error class scripts raise with throw is exempt.
func IsExemptConstructor(class string) bool {
	return class == host.ScriptErrorClass
}

// Option configures an interceptor.
type Option func(*options)

type options struct {
	logger logging.Logger
	clock  clock.Clock
}

// WithLogger sets the logger denials are reported to.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock the execution deadline is measured against.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func newOptions(opts []Option) options {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNoop(o.logger)
	return o
}

// base holds what every variant needs to reach the host and report denials.
type base struct {
	backend host.Backend
	logger  logging.Logger
}

func (b *base) ClassOf(v any) string {
	return b.backend.ClassOf(v)
}

func (b *base) deny(ctx context.Context, target, msg string, cause error) error {
	err := newSecurityError(ctx, target, msg, cause)
	b.logger.Warn("sandbox denied access", "target", target, "reason", msg)
	return err
}

func (b *base) construct(ctx context.Context, class string, args []any) (any, error) {
	res, err := b.backend.InvokeConstructor(ctx, class, args)
	if err != nil {
		return nil, &InvocationError{Target: class + ":new", Err: err}
	}
	return res.Value, nil
}
