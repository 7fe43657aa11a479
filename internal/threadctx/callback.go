package threadctx

import (
	"context"
	"errors"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/callstack"
)

// AdapterFrame names the frame pushed when a callback runs outside the
// thread that created it.
const AdapterFrame = "<callback>"

// ErrNoContext is returned when a callback is created outside a sandboxed thread.
var ErrNoContext = errors.New("no sandbox thread context")

// Func is the body of a callback. ctx carries the Context the body runs under.
type Func func(ctx context.Context, args ...any) (any, error)

// Callback is a script function handed to host code. It runs under its
// creator's interceptor, call stack and locals wherever it is invoked.
type Callback struct {
	name     string
	location *callstack.Location
	creator  *Context
	snap     Snapshot
	fn       Func
}

// NewCallback wraps fn. The Context carried by ctx becomes the callback's
// creator and is snapshotted now.
func NewCallback(ctx context.Context, name string, loc *callstack.Location, fn Func) (*Callback, error) {
	creator := From(ctx)
	if creator == nil {
		return nil, ErrNoContext
	}
	return &Callback{
		name:     name,
		location: loc,
		creator:  creator,
		snap:     creator.Snapshot(),
		fn:       fn,
	}, nil
}

// Name returns the callback's name.
func (cb *Callback) Name() string {
	return cb.name
}

// Invoke runs the callback. When ctx carries the creator's Context and the
// creator has lent it to the calling goroutine (see Context.Lend), the body
// runs directly on it. Otherwise the creator's snapshot is installed as a
// fresh Context, an adapter frame and the callback's own frame are pushed,
// and the installed Context is discarded afterwards.
func (cb *Callback) Invoke(ctx context.Context, args ...any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if From(ctx) == cb.creator {
		if release, ok := cb.creator.claim(); ok {
			defer release()
			return cb.fn(ctx, args...)
		}
	}

	tc := cb.snap.Install()
	popAdapter, err := tc.stack.Enter(callstack.Frame{Name: AdapterFrame})
	defer popAdapter()
	if err != nil {
		return nil, err
	}
	popTarget, err := tc.stack.Enter(callstack.Frame{Name: cb.name, Location: cb.location})
	defer popTarget()
	if err != nil {
		return nil, err
	}
	return cb.fn(With(ctx, tc), args...)
}
