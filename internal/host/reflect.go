package host

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/classid"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// call invokes fn with args converted to its parameter types. A leading
// context.Context parameter receives ctx and is not counted as an argument.
// Accepted result shapes are (), (T), (error) and (T, error).
func (r *Registry) call(ctx context.Context, fn reflect.Value, args []any) (res Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ft := fn.Type()
	in, err := buildArgs(ctx, ft, args)
	if err != nil {
		return Result{}, err
	}

	defer func() {
		if p := recover(); p != nil {
			res, err = Result{}, fmt.Errorf("host call panicked: %v", p)
		}
	}()

	return r.results(ft, fn.Call(in))
}

func buildArgs(ctx context.Context, ft reflect.Type, args []any) ([]reflect.Value, error) {
	var in []reflect.Value
	start := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		start = 1
	}

	fixed := ft.NumIn() - start
	if ft.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("want at least %d arguments, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("want %d arguments, got %d", fixed, len(args))
	}

	for i := 0; i < fixed; i++ {
		v, err := convertArg(args[i], ft.In(start+i))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		in = append(in, v)
	}
	if ft.IsVariadic() {
		elem := ft.In(ft.NumIn() - 1).Elem()
		for i, a := range args[fixed:] {
			v, err := convertArg(a, elem)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", fixed+i+1, err)
			}
			in = append(in, v)
		}
	}
	return in, nil
}

func (r *Registry) results(ft reflect.Type, outs []reflect.Value) (Result, error) {
	n := ft.NumOut()
	if n > 0 && ft.Out(n-1) == errorType {
		if e := outs[n-1]; !e.IsNil() {
			return Result{}, e.Interface().(error)
		}
		n--
	}

	switch n {
	case 0:
		return Result{Declared: classid.Nil}, nil
	case 1:
		return Result{Value: valueOf(outs[0]), Declared: r.classOfType(ft.Out(0))}, nil
	default:
		vals := make([]any, n)
		for i := range vals {
			vals[i] = valueOf(outs[i])
		}
		return Result{Value: vals, Declared: classid.ArrayPrefix + "any"}, nil
	}
}

// valueOf unwraps v, mapping nil pointers, maps, slices and interfaces to an
// untyped nil.
func valueOf(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return nil
		}
	}
	if !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

func findMethod(rv reflect.Value, name string) (reflect.Value, bool) {
	names := []string{name}
	if c := capitalize(name); c != name {
		names = append(names, c)
	}
	for _, n := range names {
		if m := rv.MethodByName(n); m.IsValid() {
			return m, true
		}
		// Pointer-receiver methods on a value receiver run on a copy.
		if rv.Kind() != reflect.Pointer {
			p := reflect.New(rv.Type())
			p.Elem().Set(rv)
			if m := p.MethodByName(n); m.IsValid() {
				return m, true
			}
		}
	}
	return reflect.Value{}, false
}

func findField(rv reflect.Value, name string) (reflect.Value, bool) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	for _, n := range []string{name, capitalize(name)} {
		sf, ok := rv.Type().FieldByName(n)
		if ok && sf.IsExported() {
			return rv.FieldByIndex(sf.Index), true
		}
	}
	return reflect.Value{}, false
}

func isGetter(t reflect.Type) bool {
	in := t.NumIn()
	if in > 1 || (in == 1 && t.In(0) != contextType) {
		return false
	}
	switch t.NumOut() {
	case 1:
		return t.Out(0) != errorType
	case 2:
		return t.Out(0) != errorType && t.Out(1) == errorType
	}
	return false
}

// convertArg converts a script value to t. Numbers convert between kinds
// when no precision is lost, and []any / map values convert element-wise.
func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", t)
	}

	v := reflect.ValueOf(a)
	vt := v.Type()
	switch {
	case vt.AssignableTo(t):
		return v, nil
	case isNumber(vt.Kind()) && isNumber(t.Kind()):
		return convertNumber(v, t)
	case vt.Kind() == t.Kind() && vt.ConvertibleTo(t) && t.Kind() != reflect.Slice && t.Kind() != reflect.Map:
		return v.Convert(t), nil
	case vt.Kind() == reflect.Pointer && !v.IsNil() && vt.Elem().AssignableTo(t):
		return v.Elem(), nil
	case t.Kind() == reflect.Pointer && vt.AssignableTo(t.Elem()):
		p := reflect.New(t.Elem())
		p.Elem().Set(v)
		return p, nil
	case t.Kind() == reflect.Slice && (vt.Kind() == reflect.Slice || vt.Kind() == reflect.Array):
		out := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			ev, err := convertArg(valueOf(v.Index(i)), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case t.Kind() == reflect.Map && vt.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, err := convertArg(valueOf(iter.Key()), t.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
			}
			ev, err := convertArg(valueOf(iter.Value()), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("value for %v: %w", iter.Key(), err)
			}
			out.SetMapIndex(k, ev)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", vt, t)
}

func convertNumber(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case isInt(t.Kind()):
		i, err := toInt64(v)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", i, t)
		}
		out.SetInt(i)
	case isUint(t.Kind()):
		i, err := toInt64(v)
		if err != nil && !isUint(v.Kind()) {
			return reflect.Value{}, err
		}
		var u uint64
		if isUint(v.Kind()) {
			u = v.Uint()
		} else if i < 0 {
			return reflect.Value{}, fmt.Errorf("%d is negative, want %s", i, t)
		} else {
			u = uint64(i)
		}
		if out.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", u, t)
		}
		out.SetUint(u)
	default:
		var f float64
		switch {
		case isInt(v.Kind()):
			f = float64(v.Int())
		case isUint(v.Kind()):
			f = float64(v.Uint())
		default:
			f = v.Float()
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%g overflows %s", f, t)
		}
		out.SetFloat(f)
	}
	return out, nil
}

func toInt64(v reflect.Value) (int64, error) {
	switch {
	case isInt(v.Kind()):
		return v.Int(), nil
	case isUint(v.Kind()):
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	default:
		f := v.Float()
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%g is not an integer", f)
		}
		if f < -(1<<63) || f >= 1<<63 {
			return 0, fmt.Errorf("%g overflows int64", f)
		}
		return int64(f), nil
	}
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}
