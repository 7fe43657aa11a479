package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/budget"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/callstack"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/threadctx"
)

// session is one evaluation: a VM and the state its builtins share.
//
// The VM is never run by two goroutines at once. mu is held whenever Lua code
// runs and is released while a builtin is inside the host, so that host code
// may invoke script callbacks, from any goroutine, until it returns.
type session struct {
	engine *Engine
	L      *lua.LState

	mu     sync.Mutex
	ctx    context.Context // guarded by mu
	closed bool            // guarded by mu

	// vmCtx is what the VM polls between instructions. It ends when the
	// caller's context does or the execution budget runs out.
	vmCtx  context.Context
	cancel context.CancelFunc

	objectMeta *lua.LTable
	loaded     map[string]lua.LValue
}

// budgeted is implemented by interceptors with an execution deadline.
type budgeted interface {
	Deadline() *budget.Deadline
}

func newSession(e *Engine, ctx context.Context) *session {
	s := &session{
		engine: e,
		L:      newSandboxedVM(),
		ctx:    ctx,
		vmCtx:  ctx,
		cancel: func() {},
		loaded: make(map[string]lua.LValue),
	}
	if b, ok := e.ic.(budgeted); ok {
		if d := b.Deadline(); d != nil && d.Bounded() {
			// Check compares with After, so stop just past the instant.
			s.vmCtx, s.cancel = context.WithTimeout(ctx, d.Remaining()+time.Millisecond)
		}
	}
	if s.vmCtx.Done() != nil {
		s.L.SetContext(s.vmCtx)
	}
	s.objectMeta = s.newObjectMeta()
	s.installBuiltins()
	return s
}

// sandboxLuaVM strips everything that reaches outside the VM or could be used
// to catch a denial without the sandbox noticing. This is stricter than the
// policy-file VM in the config package: coroutine and xpcall would let a
// script run code outside the denial-aware pcall, and print is replaced by a
// builtin.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range []string{
		"os", "io", "debug", "coroutine", "package",
		"require", "module", "dofile", "loadfile", "load", "loadstring",
		"xpcall", "print",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}

// interrupted reports why the VM stopped early, if it did. Running out of
// budget surfaces as the interceptor's denial rather than a context error.
func (s *session) interrupted(ctx context.Context) error {
	err := s.vmCtx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if denied := s.engine.ic.ValidateExecutionTime(ctx); denied != nil {
			return denied
		}
	}
	return err
}

func (s *session) run(chunkName, code string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, err := s.L.Load(strings.NewReader(code), chunkName)
	if err != nil {
		return nil, &SyntaxError{Chunk: chunkName, Err: err}
	}
	s.L.Push(fn)
	if err := s.L.PCall(0, 1, nil); err != nil {
		if stopped := s.interrupted(s.ctx); stopped != nil {
			return nil, stopped
		}
		return nil, fromLua(err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return s.toGo(ret)
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.L.Close()
	s.cancel()
}

// outside runs fn with the VM unlocked. Callbacks invoked by fn, from this
// or any other goroutine, may run script code in the meantime. s.ctx belongs
// to whoever holds the lock, so it is put back on the way in.
func (s *session) outside(fn func()) {
	ctx := s.ctx
	if tc := threadctx.From(ctx); tc != nil {
		release := tc.Lend()
		defer release()
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ctx = ctx
	}()
	fn()
}

// builtin wraps a privileged function. Every call pushes a frame, then checks
// the execution budget and the function-call policy.
func (s *session) builtin(name string, fn func(ctx context.Context, L *lua.LState) int) *lua.LFunction {
	return s.L.NewFunction(func(L *lua.LState) int {
		ctx := s.ctx
		tc := threadctx.From(ctx)
		ic := tc.Interceptor()

		pop, err := tc.Stack().Enter(callstack.Frame{Name: name, Location: where(L)})
		defer pop()
		if err != nil {
			s.raise(L, err)
		}
		if err := ic.ValidateExecutionTime(ctx); err != nil {
			s.raise(L, err)
		}
		if err := ic.ValidateFunctionCall(ctx, name); err != nil {
			s.raise(L, err)
		}
		return fn(ctx, L)
	})
}

// pcall is the protected call scripts see. It behaves like Lua's pcall except
// that sandbox denials are never caught.
func (s *session) pcall(L *lua.LState) int {
	L.CheckAny(1)
	base := L.GetTop()
	L.Push(L.Get(1))
	for i := 2; i <= base; i++ {
		L.Push(L.Get(i))
	}
	if err := L.PCall(base-1, lua.MultRet, nil); err != nil {
		if denied := denialIn(err); denied != nil {
			s.raise(L, denied)
		}
		if stopped := s.interrupted(s.ctx); stopped != nil {
			s.raise(L, stopped)
		}
		var apiErr *lua.ApiError
		L.Push(lua.LFalse)
		if errors.As(err, &apiErr) && apiErr.Object != nil {
			L.Push(apiErr.Object)
		} else {
			L.Push(lua.LString(err.Error()))
		}
		return 2
	}
	n := L.GetTop() - base
	L.Insert(lua.LTrue, base+1)
	return n + 1
}

// where returns the script position that called the running builtin.
func where(L *lua.LState) *callstack.Location {
	w := strings.TrimSuffix(L.Where(1), ":")
	i := strings.LastIndexByte(w, ':')
	if i < 0 {
		return nil
	}
	line, err := strconv.Atoi(w[i+1:])
	if err != nil {
		return nil
	}
	return &callstack.Location{File: w[:i], Line: line}
}
