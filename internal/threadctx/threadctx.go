// Package threadctx carries the sandbox state of one logical thread of script
// evaluation: the active interceptor, the diagnostic call stack and the
// thread-local bindings.
//
// A Context travels inside a context.Context. Code that hands a script
// callback to another goroutine does not need to know about it: the callback
// captured a snapshot of its creator's Context and reinstalls it wherever it
// is invoked, so the creator's policy follows the callback.
package threadctx

import (
	"context"
	"sync/atomic"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/callstack"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/interceptor"
)

// Context is the sandbox state of one logical thread. It is owned by that
// thread and is not safe for concurrent use.
type Context struct {
	interceptor interceptor.Interceptor
	stack       *callstack.Stack
	locals      map[string]any

	// borrower is the goroutine a callback may run directly on this Context
	// from, or 0.
	borrower atomic.Uint64
}

// Option configures a new Context.
type Option func(*Context)

// WithMaxDepth bounds the call stack.
func WithMaxDepth(n int) Option {
	return func(c *Context) { c.stack = callstack.New(n) }
}

// New returns a Context running under ic with an empty call stack.
func New(ic interceptor.Interceptor, opts ...Option) *Context {
	c := &Context{
		interceptor: ic,
		stack:       callstack.New(callstack.DefaultMaxDepth),
		locals:      make(map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interceptor returns the interceptor the thread runs under.
func (c *Context) Interceptor() interceptor.Interceptor {
	return c.interceptor
}

// Stack returns the thread's call stack.
func (c *Context) Stack() *callstack.Stack {
	return c.stack
}

// Local returns a thread-local binding.
func (c *Context) Local(key string) (any, bool) {
	v, ok := c.locals[key]
	return v, ok
}

// SetLocal sets a thread-local binding. A nil value removes it.
func (c *Context) SetLocal(key string, v any) {
	if v == nil {
		delete(c.locals, key)
		return
	}
	c.locals[key] = v
}

// Lend lets callbacks created on c run directly on c, sharing its stack and
// locals, when they are invoked from the calling goroutine. It lasts until
// release is called; loans nest. Invocations from any other goroutine, even
// with a context.Context carrying c, install the callback's snapshot.
//
// The owner lends its Context while it is blocked in host code that may call
// back into the script.
func (c *Context) Lend() (release func()) {
	prev := c.borrower.Swap(goroutineID())
	return func() { c.borrower.Store(prev) }
}

// claim takes the loan for the calling goroutine. It fails when c is not lent
// to this goroutine or a callback is already running directly on it.
func (c *Context) claim() (release func(), ok bool) {
	id := goroutineID()
	if !c.borrower.CompareAndSwap(id, 0) {
		return nil, false
	}
	return func() { c.borrower.Store(id) }, true
}

type contextKey struct{}

// With returns a copy of ctx carrying tc and its call stack.
func With(ctx context.Context, tc *Context) context.Context {
	ctx = context.WithValue(ctx, contextKey{}, tc)
	if tc != nil {
		ctx = callstack.WithStack(ctx, tc.stack)
	}
	return ctx
}

// From returns the Context carried by ctx, or nil.
func From(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	tc, _ := ctx.Value(contextKey{}).(*Context)
	return tc
}

// Detach returns a copy of ctx carrying no thread Context. Hand the result to
// goroutines that will invoke callbacks, so that each invocation installs its
// own copy of the creator's state instead of sharing the creator's stack.
func Detach(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, contextKey{}, (*Context)(nil))
	return callstack.WithStack(ctx, nil)
}

// Snapshot is an immutable copy of a Context.
type Snapshot struct {
	interceptor interceptor.Interceptor
	frames      []callstack.Frame
	locals      map[string]any
	maxDepth    int
}

// Snapshot copies the Context's interceptor, frames and locals.
func (c *Context) Snapshot() Snapshot {
	locals := make(map[string]any, len(c.locals))
	for k, v := range c.locals {
		locals[k] = v
	}
	return Snapshot{
		interceptor: c.interceptor,
		frames:      c.stack.Frames(),
		locals:      locals,
		maxDepth:    c.stack.MaxDepth(),
	}
}

// Interceptor returns the captured interceptor.
func (s Snapshot) Interceptor() interceptor.Interceptor {
	return s.interceptor
}

// Frames returns a copy of the captured frames, bottom first.
func (s Snapshot) Frames() []callstack.Frame {
	return append([]callstack.Frame(nil), s.frames...)
}

// Install returns a fresh Context seeded from the snapshot. The snapshot and
// the Context it was taken from are not affected by anything done to the
// result.
func (s Snapshot) Install() *Context {
	stack := callstack.New(s.maxDepth)
	for _, f := range s.frames {
		// The snapshot came from a stack with the same bound, so this cannot overflow.
		_ = stack.Push(f)
	}
	locals := make(map[string]any, len(s.locals))
	for k, v := range s.locals {
		locals[k] = v
	}
	return &Context{interceptor: s.interceptor, stack: stack, locals: locals}
}
