// Package classid defines the stable string identifiers used to name host
// classes in sandbox rules and verdict caches.
//
// Registered host classes carry the identifier they were registered under
// (for example "java.awt.Point"). Other Go types are named by import path and
// type name ("image.Point", "time.Duration"); basic kinds by their kind name
// ("int", "string"); slices and arrays by "[]" plus the element identifier;
// maps by "map[K]V"; the empty interface by "any".
package classid

import (
	"reflect"
	"strings"
)

// ArrayPrefix marks slice and array class identifiers.
const ArrayPrefix = "[]"

// Nil identifies the class of an untyped nil value.
const Nil = "nil"

var primitives = map[string]bool{
	"bool": true, "string": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true, "uintptr": true,
	"float32": true, "float64": true,
	"complex64": true, "complex128": true,
	Nil: true,
}

// IsPrimitive reports whether id names a basic value kind.
func IsPrimitive(id string) bool {
	return primitives[id]
}

// IsArray reports whether id names a slice or array class.
func IsArray(id string) bool {
	return strings.HasPrefix(id, ArrayPrefix)
}

// IsBuiltin reports whether id names a primitive or array class. Such classes
// carry no host capability of their own and are always allowed.
func IsBuiltin(id string) bool {
	return IsPrimitive(id) || IsArray(id)
}

// Element returns the innermost element class of an array class id, or id
// itself when it is not an array.
func Element(id string) string {
	for IsArray(id) {
		id = id[len(ArrayPrefix):]
	}
	return id
}

// Of returns the identifier of a Go type. Pointers are named by their element
// type so that *T and T share rules.
func Of(t reflect.Type) string {
	if t == nil {
		return Nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return ArrayPrefix + Of(t.Elem())
	case reflect.Map:
		if t.Name() == "" {
			return "map[" + Of(t.Key()) + "]" + Of(t.Elem())
		}
	case reflect.Interface:
		if t.Name() == "" && t.NumMethod() == 0 {
			return "any"
		}
	}

	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		// Predeclared types: int, string, error, ...
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// OfValue returns the identifier of v's dynamic type.
func OfValue(v any) string {
	if v == nil {
		return Nil
	}
	return Of(reflect.TypeOf(v))
}
