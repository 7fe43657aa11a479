package budget

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/clock"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestNew_Unbounded(t *testing.T) {
	for _, seconds := range []int{0, -1} {
		d := New(clock.NewFake(epoch), seconds)
		if d.Bounded() {
			t.Errorf("New(%d) should be unbounded", seconds)
		}
		if err := d.Check(); err != nil {
			t.Errorf("unbounded Check() = %v", err)
		}
		if d.Remaining() >= 0 {
			t.Errorf("unbounded Remaining() = %v, want negative", d.Remaining())
		}
	}
}

func TestDeadline_ExpiresAfterLimit(t *testing.T) {
	c := clock.NewFake(epoch)
	d := New(c, 1)

	if err := d.Check(); err != nil {
		t.Fatalf("Check() before deadline = %v", err)
	}
	if got := d.Remaining(); got != time.Second {
		t.Errorf("Remaining() = %v, want 1s", got)
	}

	c.Advance(time.Second)
	if err := d.Check(); err != nil {
		t.Fatalf("Check() exactly at deadline = %v", err)
	}

	c.Advance(time.Second)
	err := d.Check()
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Check() after deadline = %v, want ErrExpired", err)
	}
	if d.Remaining() != 0 {
		t.Errorf("Remaining() after expiry = %v, want 0", d.Remaining())
	}
}

func TestDeadline_Monotonic(t *testing.T) {
	c := clock.NewFake(epoch)
	d := New(c, 1)

	c.Advance(2 * time.Second)
	if !d.Expired() {
		t.Fatal("expected deadline to be expired")
	}

	// Moving the clock back must not un-trip the deadline.
	c.Set(epoch)
	for i := 0; i < 5; i++ {
		if err := d.Check(); !errors.Is(err, ErrExpired) {
			t.Fatalf("Check() #%d after rewind = %v, want ErrExpired", i, err)
		}
	}
}

func TestDeadline_ComputedOnce(t *testing.T) {
	c := clock.NewFake(epoch)
	d := New(c, 5)
	want := epoch.Add(5 * time.Second)

	c.Advance(3 * time.Second)
	_ = d.Check()
	if !d.At().Equal(want) {
		t.Errorf("At() = %v, want %v", d.At(), want)
	}
}

func TestDeadline_ConcurrentCheck(t *testing.T) {
	c := clock.NewFake(epoch)
	d := New(c, 1)
	c.Advance(2 * time.Second)

	const numGoroutines = 50
	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Check(); !errors.Is(err, ErrExpired) {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Check() = %v, want ErrExpired", err)
	}
}

func TestDeadline_RealClock(t *testing.T) {
	d := New(nil, 60)
	if err := d.Check(); err != nil {
		t.Errorf("fresh 60s deadline Check() = %v", err)
	}
}
