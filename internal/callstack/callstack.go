// Package callstack records the diagnostic trail of nested script-to-host
// calls for one logical thread of evaluation.
//
// The stack is used only to attribute security denials to a source location.
// It never influences whether an operation is allowed.
package callstack

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxDepth bounds a stack created with a non-positive depth.
const DefaultMaxDepth = 256

// ErrOverflow is returned by Push when the stack is full.
var ErrOverflow = errors.New("call stack overflow")

// Location is a position in script source.
type Location struct {
	File   string
	Line   int
	Column int
}

// String renders the location as file:line[:column].
func (l Location) String() string {
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Frame is one entry of the call stack.
type Frame struct {
	Name     string
	Location *Location
}

// String renders the frame as "name (file:line)".
func (f Frame) String() string {
	if f.Location == nil {
		return f.Name
	}
	return f.Name + " (" + f.Location.String() + ")"
}

// Stack is a bounded last-in-first-out sequence of frames. A Stack belongs
// to a single logical thread and is not safe for concurrent use.
type Stack struct {
	frames   []Frame
	maxDepth int
}

// New returns an empty stack holding at most maxDepth frames.
func New(maxDepth int) *Stack {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Stack{maxDepth: maxDepth}
}

// Push adds a frame on top of the stack.
func (s *Stack) Push(f Frame) error {
	if len(s.frames) >= s.maxDepth {
		return fmt.Errorf("%w: depth %d reached while entering %s", ErrOverflow, s.maxDepth, f.Name)
	}
	s.frames = append(s.frames, f)
	return nil
}

// Pop removes and returns the top frame.
func (s *Stack) Pop() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	top := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = Frame{}
	s.frames = s.frames[:len(s.frames)-1]
	return top, true
}

// Peek returns the top frame without removing it.
func (s *Stack) Peek() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// Enter pushes f and returns a function that pops it again. Callers defer the
// returned function so every exit path, including errors, unwinds the frame.
func (s *Stack) Enter(f Frame) (func(), error) {
	if err := s.Push(f); err != nil {
		return func() {}, err
	}
	depth := len(s.frames)
	return func() {
		// Drop anything a failed callee left above our frame as well.
		for len(s.frames) >= depth {
			s.Pop()
		}
	}, nil
}

// HasAncestor reports whether a frame named name is on the stack. When
// skipTop is set the topmost frame is ignored, which lets a caller ask whether
// the function it is currently running was already active further down.
func (s *Stack) HasAncestor(name string, skipTop bool) bool {
	end := len(s.frames)
	if skipTop && end > 0 {
		end--
	}
	for i := end - 1; i >= 0; i-- {
		if s.frames[i].Name == name {
			return true
		}
	}
	return false
}

// Len returns the number of frames on the stack.
func (s *Stack) Len() int {
	return len(s.frames)
}

// MaxDepth returns the capacity of the stack.
func (s *Stack) MaxDepth() int {
	return s.maxDepth
}

// Frames returns a copy of the frames, bottom first.
func (s *Stack) Frames() []Frame {
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Clone returns an independent copy of the stack.
func (s *Stack) Clone() *Stack {
	return &Stack{frames: s.Frames(), maxDepth: s.maxDepth}
}

// Clear empties the stack so it can be reused for an unrelated invocation.
func (s *Stack) Clear() {
	clear(s.frames)
	s.frames = s.frames[:0]
}

// Trail renders the stack innermost frame first, one frame per line.
func (s *Stack) Trail() string {
	return FormatTrail(s.frames)
}

// FormatTrail renders frames (bottom first) innermost first, one per line.
func FormatTrail(frames []Frame) string {
	var sb strings.Builder
	for i := len(frames) - 1; i >= 0; i-- {
		sb.WriteString("    at ")
		sb.WriteString(frames[i].String())
		if i > 0 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
