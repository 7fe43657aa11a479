package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/callstack"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/threadctx"
)

const maxTableDepth = 64

var errTooDeep = errors.New("table nesting is too deep")

// toGo converts a script value for the host. Sequences become []any, other
// tables map[string]any, host objects are unwrapped and functions become
// callbacks bound to the current thread.
func (s *session) toGo(v lua.LValue) (any, error) {
	return s.goValue(v, 0)
}

func (s *session) goValue(v lua.LValue, depth int) (any, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return number(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LUserData:
		return v.Value, nil
	case *lua.LFunction:
		return s.callback(v)
	case *lua.LTable:
		return s.goTable(v, depth)
	}
	return nil, fmt.Errorf("cannot pass a %s to the host", v.Type())
}

// number returns integral values as int64.
func number(n lua.LNumber) any {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func (s *session) goTable(t *lua.LTable, depth int) (any, error) {
	if depth >= maxTableDepth {
		return nil, errTooDeep
	}

	count, sequence := 0, true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if n, ok := k.(lua.LNumber); !ok || float64(n) != math.Trunc(float64(n)) || n < 1 {
			sequence = false
		}
	})
	// Integer keys 1..n, all distinct, with n keys in total are a sequence.
	if sequence {
		for i := 1; i <= count; i++ {
			if t.RawGetInt(i) == lua.LNil {
				sequence = false
				break
			}
		}
	}

	if sequence {
		out := make([]any, count)
		for i := range out {
			v, err := s.goValue(t.RawGetInt(i+1), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	out := make(map[string]any, count)
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			err = fmt.Errorf("table key %s is neither a string nor part of a sequence", k.String())
			return
		}
		out[string(key)], err = s.goValue(v, depth+1)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// toLua converts a host value for the script. Unnamed scalars, slices and
// string-keyed maps are copied into Lua values; anything else, named types
// included, stays a host object.
func (s *session) toLua(L *lua.LState, v any) lua.LValue {
	return s.luaValue(L, v, 0)
}

func (s *session) luaValue(L *lua.LState, v any, depth int) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().PkgPath() != "" || depth >= maxTableDepth {
		return s.object(L, v)
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.Slice, reflect.Array:
		t := L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, s.luaValue(L, rv.Index(i).Interface(), depth+1))
		}
		return t
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		t := L.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSetString(iter.Key().String(), s.luaValue(L, iter.Value().Interface(), depth+1))
		}
		return t
	}
	return s.object(L, v)
}

// object wraps a host value as userdata. Methods are called with colon
// syntax: obj:method(args).
func (s *session) object(L *lua.LState, v any) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = v
	L.SetMetatable(ud, s.objectMeta)
	return ud
}

func (s *session) newObjectMeta() *lua.LTable {
	L := s.L
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		method := L.CheckString(2)
		L.Push(s.method(ud, method))
		return 1
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(fmt.Sprint(L.CheckUserData(1).Value)))
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		a, b := L.CheckUserData(1).Value, L.CheckUserData(2).Value
		L.Push(lua.LBool(sameComparable(a, b) && a == b))
		return 1
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))
	return mt
}

func sameComparable(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	return ta != nil && ta == tb && ta.Comparable()
}

// method returns a function invoking method on the object behind ud.
func (s *session) method(ud *lua.LUserData, method string) *lua.LFunction {
	return s.builtin("host.call", func(ctx context.Context, L *lua.LState) int {
		first := 1
		if L.Get(1) == ud {
			first = 2
		}
		return s.invokeMethod(ctx, L, ud.Value, method, s.args(L, first))
	})
}

// callback wraps a script function so host code can call it.
func (s *session) callback(fn *lua.LFunction) (*threadctx.Callback, error) {
	name := "function"
	var loc *callstack.Location
	if fn.Proto != nil {
		name = fmt.Sprintf("function <%s:%d>", fn.Proto.SourceName, fn.Proto.LineDefined)
		loc = &callstack.Location{File: fn.Proto.SourceName, Line: fn.Proto.LineDefined}
	}
	return threadctx.NewCallback(s.ctx, name, loc, func(ctx context.Context, args ...any) (any, error) {
		return s.invoke(ctx, fn, args)
	})
}

// invoke runs a script function on behalf of host code. It waits for the VM,
// which is free while the host call that received the callback is running.
func (s *session) invoke(ctx context.Context, fn *lua.LFunction, args []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	prev := s.ctx
	s.ctx = ctx
	defer func() { s.ctx = prev }()

	// Each invocation gets its own Lua thread. Callbacks running on different
	// goroutines interleave whenever one of them is inside the host, and
	// their frames must not share a stack.
	co, cancel := s.L.NewThread()
	if cancel != nil {
		defer cancel()
	}
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = s.toLua(co, a)
	}
	if err := co.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		if stopped := s.interrupted(ctx); stopped != nil {
			return nil, stopped
		}
		return nil, fromLua(err)
	}
	ret := co.Get(-1)
	co.Pop(1)
	return s.toGo(ret)
}
