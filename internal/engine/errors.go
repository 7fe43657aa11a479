package engine

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/interceptor"
)

// ErrClosed is returned when a callback is invoked after the evaluation that
// created it has finished.
var ErrClosed = errors.New("script evaluation has finished")

// SyntaxError is returned when a chunk does not compile.
type SyntaxError struct {
	Chunk string
	Err   error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in %s: %v", e.Chunk, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// RuntimeError is a Lua error raised by the script itself, such as
// error("...") or indexing nil.
type RuntimeError struct {
	Message string
	Trace   string
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// raise throws err into the running script. The error travels as a host
// object so that it comes back out of the VM unchanged.
func (s *session) raise(L *lua.LState, err error) {
	L.Error(s.object(L, err), 1)
}

// fromLua recovers the Go error behind a failed protected call.
func fromLua(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}
	if ud, ok := apiErr.Object.(*lua.LUserData); ok {
		if e, ok := ud.Value.(error); ok {
			return e
		}
	}
	if apiErr.Object == nil {
		return &RuntimeError{Message: apiErr.Error(), Trace: apiErr.StackTrace}
	}
	return &RuntimeError{Message: apiErr.Object.String(), Trace: apiErr.StackTrace}
}

// denialIn returns the sandbox denial carried by a failed protected call,
// or nil.
func denialIn(err error) error {
	if e := fromLua(err); interceptor.IsDenied(e) {
		return e
	}
	return nil
}
