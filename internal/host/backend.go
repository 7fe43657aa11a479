// Package host exposes Go values to scripts as classes with methods, fields
// and bean properties, and serves the resources, system properties and
// environment variables scripts may ask for.
//
// Nothing in this package checks permissions. Every call reaches it through an
// interceptor that has already decided the call may proceed.
package host

import (
	"context"
	"errors"
)

// ScriptErrorClass is the class id of the error scripts raise with throw.
const ScriptErrorClass = "luaguard.ScriptError"

var (
	// ErrUnknownClass is returned for class ids that were never registered.
	ErrUnknownClass = errors.New("unknown class")

	// ErrNoSuchMember is returned when a method, field or property does not exist.
	ErrNoSuchMember = errors.New("no such member")

	// ErrNoConstructor is returned when a class cannot be instantiated.
	ErrNoConstructor = errors.New("class has no constructor")
)

// Result is the value produced by a host call together with the class the
// member declares it returns. Declared matters when Value is nil.
type Result struct {
	Value    any
	Declared string
}

// Backend performs host operations on behalf of scripts.
type Backend interface {
	InvokeInstanceMethod(ctx context.Context, receiver any, method string, args []any) (Result, error)
	InvokeStaticMethod(ctx context.Context, class, method string, args []any) (Result, error)
	InvokeConstructor(ctx context.Context, class string, args []any) (Result, error)

	GetBeanProperty(ctx context.Context, receiver any, name string) (Result, error)
	SetBeanProperty(ctx context.Context, receiver any, name string, value any) error
	GetStaticField(ctx context.Context, class, name string) (Result, error)
	GetInstanceField(ctx context.Context, receiver any, name string) (Result, error)

	// ClassOf returns the class id of a runtime value.
	ClassOf(v any) string

	LoadResource(ctx context.Context, name string) ([]byte, error)
	SystemProperty(name string) (string, bool)
	SystemEnv(name string) (string, bool)
}

// ScriptError is the error a script raises with throw. It is an ordinary
// registered class so that scripts can construct and inspect it.
type ScriptError struct {
	Message string
}

// NewScriptError is the constructor registered for ScriptErrorClass.
func NewScriptError(message string) *ScriptError {
	return &ScriptError{Message: message}
}

func (e *ScriptError) Error() string {
	return "script error: " + e.Message
}

// GetMessage returns the message the script raised.
func (e *ScriptError) GetMessage() string {
	return e.Message
}
