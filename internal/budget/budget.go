// Package budget implements the cooperative execution deadline of a sandbox.
//
// A Deadline is fixed once, when the sandbox is constructed, and is only ever
// compared against the clock. Nothing here starts timers or cancels work: the
// evaluator calls Check at points of its choosing, and may derive a
// context.Context from Remaining to interrupt work between those points.
package budget

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/clock"
)

// ErrExpired is returned by Check once the deadline has passed.
var ErrExpired = errors.New("execution time limit exceeded")

// Deadline is an immutable wall-clock limit plus a latch recording that the
// limit has been reached. The zero value is unbounded.
type Deadline struct {
	clock   clock.Clock
	at      time.Time
	limit   time.Duration
	bounded bool
	tripped atomic.Bool
}

// New returns a deadline seconds from now according to c. A non-positive
// number of seconds returns an unbounded deadline.
func New(c clock.Clock, seconds int) *Deadline {
	if seconds <= 0 {
		return Unbounded()
	}
	if c == nil {
		c = clock.Real{}
	}
	limit := time.Duration(seconds) * time.Second
	return &Deadline{
		clock:   c,
		at:      c.Now().Add(limit),
		limit:   limit,
		bounded: true,
	}
}

// Unbounded returns a deadline that never expires.
func Unbounded() *Deadline {
	return &Deadline{}
}

// Bounded reports whether the deadline has a limit.
func (d *Deadline) Bounded() bool {
	return d.bounded
}

// At returns the instant the deadline expires. Only meaningful when Bounded.
func (d *Deadline) At() time.Time {
	return d.at
}

// Check returns ErrExpired (wrapped with the configured limit) once the
// deadline has passed. After the first failure every later call fails too,
// even if the clock moves backwards.
func (d *Deadline) Check() error {
	if !d.bounded {
		return nil
	}
	if d.tripped.Load() || d.clock.Now().After(d.at) {
		d.tripped.Store(true)
		return fmt.Errorf("%w (limit %s)", ErrExpired, d.limit)
	}
	return nil
}

// Expired reports whether Check has failed or would fail now.
func (d *Deadline) Expired() bool {
	return d.Check() != nil
}

// Remaining returns the time left before expiry; zero once expired and a
// negative value for unbounded deadlines.
func (d *Deadline) Remaining() time.Duration {
	if !d.bounded {
		return -1
	}
	if d.tripped.Load() {
		return 0
	}
	left := d.at.Sub(d.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}
