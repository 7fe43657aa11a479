// Package engine evaluates Lua scripts under an interceptor.
//
// Scripts run in a restricted VM: the os, io, debug and coroutine libraries
// are gone, as are every way of loading code (require, dofile, load, ...).
// What a script may do to the host is exposed through a handful of read-only
// builtin tables (host, resource, system, io, thread) plus require, throw and
// print. Every builtin checks the execution budget and the function-call
// policy before it runs, and every host access goes through the interceptor.
//
// The execution budget is also enforced between Lua instructions: the VM runs
// under a context that ends at the deadline, and running past it fails with
// the interceptor's denial. Only a single host call that never returns cannot
// be stopped.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/callstack"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/interceptor"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/logging"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/modules"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/threadctx"
)

// ScriptError is what throw raises.
type ScriptError = host.ScriptError

// Engine evaluates scripts. It is safe for concurrent use; each Eval gets its
// own VM.
type Engine struct {
	ic       interceptor.Interceptor
	logger   logging.Logger
	modules  *modules.Loader
	stdout   io.Writer
	maxDepth int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithModules enables require, loading modules through l.
func WithModules(l *modules.Loader) Option {
	return func(e *Engine) { e.modules = l }
}

// WithStdout sets where print writes. The default is os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(e *Engine) { e.stdout = w }
}

// WithMaxCallDepth bounds the diagnostic call stack of each evaluation.
func WithMaxCallDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// New returns an engine whose scripts run under ic.
func New(ic interceptor.Interceptor, opts ...Option) *Engine {
	e := &Engine{
		ic:       ic,
		stdout:   os.Stdout,
		maxDepth: callstack.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNoop(e.logger)
	return e
}

// Interceptor returns the interceptor scripts run under.
func (e *Engine) Interceptor() interceptor.Interceptor {
	return e.ic
}

// Eval runs code and returns its first return value converted to Go.
//
// When ctx already carries a thread Context for this engine's interceptor the
// script runs on it, sharing its call stack and locals. Otherwise a fresh one
// is created.
func (e *Engine) Eval(ctx context.Context, chunkName, code string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tc := threadctx.From(ctx)
	if tc == nil || tc.Interceptor() != e.ic {
		tc = threadctx.New(e.ic, threadctx.WithMaxDepth(e.maxDepth))
		ctx = threadctx.With(ctx, tc)
	}

	pop, err := tc.Stack().Enter(callstack.Frame{
		Name:     chunkName,
		Location: &callstack.Location{File: chunkName, Line: 1},
	})
	defer pop()
	if err != nil {
		return nil, err
	}
	if err := e.ic.ValidateExecutionTime(ctx); err != nil {
		return nil, err
	}

	e.logger.Debug("evaluating script", "chunk", chunkName)
	s := newSession(e, ctx)
	defer s.close()

	v, err := s.run(chunkName, code)
	if err != nil {
		e.logger.Debug("script failed", "chunk", chunkName, "error", err)
		return nil, err
	}
	return v, nil
}

// EvalFile runs the script at path.
func (e *Engine) EvalFile(ctx context.Context, path string) (any, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return e.Eval(ctx, path, string(code))
}
