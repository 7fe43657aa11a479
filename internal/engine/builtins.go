package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/callstack"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/interceptor"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/platform"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/threadctx"
)

// ErrNoModules is raised by require when the engine has no module loader.
var ErrNoModules = errors.New("require: no module directory configured")

type builtinFunc func(ctx context.Context, L *lua.LState) int

func (s *session) installBuiltins() {
	s.global("host", map[string]builtinFunc{
		"new":          s.hostNew,
		"call":         s.hostCall,
		"static":       s.hostStatic,
		"get":          s.hostGet,
		"set":          s.hostSet,
		"field":        s.hostField,
		"static_field": s.hostStaticField,
		"class":        s.hostClass,
	})
	s.global("resource", map[string]builtinFunc{
		"load": s.resourceLoad,
	})
	s.global("system", map[string]builtinFunc{
		"property": s.systemProperty,
		"env":      s.systemEnv,
	})
	s.global("io", map[string]builtinFunc{
		"read":   s.ioRead,
		"write":  s.ioWrite,
		"append": s.ioAppend,
		"exists": s.ioExists,
		"remove": s.ioRemove,
	})
	s.global("thread", map[string]builtinFunc{
		"get": s.threadGet,
		"set": s.threadSet,
	})
	s.L.SetGlobal("require", s.builtin("require", s.require))
	s.L.SetGlobal("print", s.builtin("print", s.print))
	s.L.SetGlobal("throw", s.L.NewFunction(s.throw))
	s.L.SetGlobal("pcall", s.L.NewFunction(s.pcall))
}

func (s *session) global(name string, fns map[string]builtinFunc) {
	t := s.L.NewTable()
	for k, fn := range fns {
		s.L.SetField(t, k, s.builtin(name+"."+k, fn))
	}
	s.L.SetGlobal(name, platform.ReadOnly(s.L, name, t))
}

// args converts the arguments from position first onwards.
func (s *session) args(L *lua.LState, first int) []any {
	top := L.GetTop()
	if top < first {
		return nil
	}
	out := make([]any, 0, top-first+1)
	for i := first; i <= top; i++ {
		v, err := s.toGo(L.Get(i))
		if err != nil {
			L.ArgError(i, err.Error())
		}
		out = append(out, v)
	}
	return out
}

func (s *session) push(L *lua.LState, v any, err error) int {
	if err != nil {
		s.raise(L, err)
	}
	L.Push(s.toLua(L, v))
	return 1
}

func icOf(ctx context.Context) interceptor.Interceptor {
	return threadctx.From(ctx).Interceptor()
}

func (s *session) hostNew(ctx context.Context, L *lua.LState) int {
	class := L.CheckString(1)
	args := s.args(L, 2)
	var v any
	var err error
	s.outside(func() { v, err = icOf(ctx).InvokeConstructor(ctx, class, args) })
	return s.push(L, v, err)
}

func (s *session) hostCall(ctx context.Context, L *lua.LState) int {
	receiver := L.CheckUserData(1).Value
	method := L.CheckString(2)
	return s.invokeMethod(ctx, L, receiver, method, s.args(L, 3))
}

func (s *session) invokeMethod(ctx context.Context, L *lua.LState, receiver any, method string, args []any) int {
	var v any
	var err error
	s.outside(func() { v, err = icOf(ctx).InvokeInstanceMethod(ctx, receiver, method, args) })
	return s.push(L, v, err)
}

func (s *session) hostStatic(ctx context.Context, L *lua.LState) int {
	class := L.CheckString(1)
	method := L.CheckString(2)
	args := s.args(L, 3)
	var v any
	var err error
	s.outside(func() { v, err = icOf(ctx).InvokeStaticMethod(ctx, class, method, args) })
	return s.push(L, v, err)
}

func (s *session) hostGet(ctx context.Context, L *lua.LState) int {
	receiver := L.CheckUserData(1).Value
	name := L.CheckString(2)
	var v any
	var err error
	s.outside(func() { v, err = icOf(ctx).GetBeanProperty(ctx, receiver, name) })
	return s.push(L, v, err)
}

func (s *session) hostSet(ctx context.Context, L *lua.LState) int {
	receiver := L.CheckUserData(1).Value
	name := L.CheckString(2)
	value, err := s.toGo(L.CheckAny(3))
	if err != nil {
		L.ArgError(3, err.Error())
	}
	s.outside(func() { err = icOf(ctx).SetBeanProperty(ctx, receiver, name, value) })
	if err != nil {
		s.raise(L, err)
	}
	return 0
}

func (s *session) hostField(ctx context.Context, L *lua.LState) int {
	receiver := L.CheckUserData(1).Value
	name := L.CheckString(2)
	var v any
	var err error
	s.outside(func() { v, err = icOf(ctx).GetInstanceField(ctx, receiver, name) })
	return s.push(L, v, err)
}

func (s *session) hostStaticField(ctx context.Context, L *lua.LState) int {
	class := L.CheckString(1)
	name := L.CheckString(2)
	var v any
	var err error
	s.outside(func() { v, err = icOf(ctx).GetStaticField(ctx, class, name) })
	return s.push(L, v, err)
}

func (s *session) hostClass(ctx context.Context, L *lua.LState) int {
	v, err := s.toGo(L.CheckAny(1))
	if err != nil {
		L.ArgError(1, err.Error())
	}
	L.Push(lua.LString(icOf(ctx).ClassOf(v)))
	return 1
}

func (s *session) resourceLoad(ctx context.Context, L *lua.LState) int {
	name := L.CheckString(1)
	var data []byte
	var err error
	s.outside(func() { data, err = icOf(ctx).LoadClasspathResource(ctx, name) })
	if err != nil {
		s.raise(L, err)
	}
	L.Push(lua.LString(data))
	return 1
}

func (s *session) systemProperty(ctx context.Context, L *lua.LState) int {
	v, ok, err := icOf(ctx).ReadSystemProperty(ctx, L.CheckString(1))
	return s.pushOptional(L, v, ok, err)
}

func (s *session) systemEnv(ctx context.Context, L *lua.LState) int {
	v, ok, err := icOf(ctx).ReadSystemEnv(ctx, L.CheckString(1))
	return s.pushOptional(L, v, ok, err)
}

func (s *session) pushOptional(L *lua.LState, v string, ok bool, err error) int {
	if err != nil {
		s.raise(L, err)
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

// resolvePath makes p absolute and resolves symlinks, so that file rules
// apply to the file actually touched. A file that does not exist yet is
// resolved through its directory.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	dir, base := filepath.Split(abs)
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(real, base), nil
	}
	return abs, nil
}

// checkedPath resolves argument n and validates it for reading or writing.
func (s *session) checkedPath(ctx context.Context, L *lua.LState, n int, write bool) string {
	p, err := resolvePath(L.CheckString(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	ic := icOf(ctx)
	if write {
		err = ic.ValidateFileWrite(ctx, filepath.ToSlash(p))
	} else {
		err = ic.ValidateFileRead(ctx, filepath.ToSlash(p))
	}
	if err != nil {
		s.raise(L, err)
	}
	return p
}

func (s *session) ioRead(ctx context.Context, L *lua.LState) int {
	p := s.checkedPath(ctx, L, 1, false)
	data, err := os.ReadFile(p)
	if err != nil {
		s.raise(L, fmt.Errorf("io.read: %w", err))
	}
	L.Push(lua.LString(data))
	return 1
}

func (s *session) ioWrite(ctx context.Context, L *lua.LState) int {
	p := s.checkedPath(ctx, L, 1, true)
	if err := os.WriteFile(p, []byte(L.CheckString(2)), 0o600); err != nil {
		s.raise(L, fmt.Errorf("io.write: %w", err))
	}
	return 0
}

func (s *session) ioAppend(ctx context.Context, L *lua.LState) int {
	p := s.checkedPath(ctx, L, 1, true)
	data := L.CheckString(2)
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		s.raise(L, fmt.Errorf("io.append: %w", err))
	}
	_, err = f.WriteString(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.raise(L, fmt.Errorf("io.append: %w", err))
	}
	return 0
}

func (s *session) ioExists(ctx context.Context, L *lua.LState) int {
	p := s.checkedPath(ctx, L, 1, false)
	_, err := os.Stat(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.raise(L, fmt.Errorf("io.exists: %w", err))
	}
	L.Push(lua.LBool(err == nil))
	return 1
}

func (s *session) ioRemove(ctx context.Context, L *lua.LState) int {
	p := s.checkedPath(ctx, L, 1, true)
	err := os.Remove(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.raise(L, fmt.Errorf("io.remove: %w", err))
	}
	L.Push(lua.LBool(err == nil))
	return 1
}

func (s *session) threadGet(ctx context.Context, L *lua.LState) int {
	v, _ := threadctx.From(ctx).Local(L.CheckString(1))
	L.Push(s.toLua(L, v))
	return 1
}

func (s *session) threadSet(ctx context.Context, L *lua.LState) int {
	key := L.CheckString(1)
	v, err := s.toGo(L.Get(2))
	if err != nil {
		L.ArgError(2, err.Error())
	}
	threadctx.From(ctx).SetLocal(key, v)
	return 0
}

// require loads a module once per evaluation and returns its value.
func (s *session) require(ctx context.Context, L *lua.LState) int {
	name := L.CheckString(1)
	if err := icOf(ctx).ValidateModuleLoad(ctx, name); err != nil {
		s.raise(L, err)
	}
	if v, ok := s.loaded[name]; ok {
		if v == lua.LNil {
			s.raise(L, fmt.Errorf("require: module %s requires itself", name))
		}
		L.Push(v)
		return 1
	}
	if s.engine.modules == nil {
		s.raise(L, ErrNoModules)
	}

	src, err := s.engine.modules.Load(ctx, name)
	if err != nil {
		s.raise(L, err)
	}
	fn, err := L.Load(strings.NewReader(src), name)
	if err != nil {
		s.raise(L, &SyntaxError{Chunk: name, Err: err})
	}

	s.loaded[name] = lua.LNil
	done := false
	defer func() {
		if !done {
			delete(s.loaded, name)
		}
	}()
	L.Push(fn)
	L.Call(0, 1)
	v := L.Get(-1)
	L.Pop(1)
	if v == lua.LNil {
		v = lua.LTrue
	}
	s.loaded[name] = v
	done = true
	s.engine.logger.Debug("loaded module", "module", name)

	L.Push(v)
	return 1
}

func (s *session) print(_ context.Context, L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	if _, err := fmt.Fprintln(s.engine.stdout, strings.Join(parts, "\t")); err != nil {
		s.raise(L, fmt.Errorf("print: %w", err))
	}
	return 0
}

// throw raises a script error. Constructing the error class is exempt from
// the policy, so throw is not a privileged builtin and always works.
func (s *session) throw(L *lua.LState) int {
	msg := L.ToStringMeta(L.Get(1)).String()
	ctx := s.ctx
	tc := threadctx.From(ctx)
	pop, err := tc.Stack().Enter(callstack.Frame{Name: "throw", Location: where(L)})
	defer pop()
	if err != nil {
		s.raise(L, err)
	}

	var v any
	s.outside(func() { v, err = tc.Interceptor().InvokeConstructor(ctx, host.ScriptErrorClass, []any{msg}) })
	if err != nil {
		s.raise(L, err)
	}
	scriptErr, ok := v.(error)
	if !ok {
		s.raise(L, fmt.Errorf("throw: %s constructed a %T", host.ScriptErrorClass, v))
	}
	s.raise(L, scriptErr)
	return 0
}
