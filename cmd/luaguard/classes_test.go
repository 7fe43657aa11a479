package main

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/threadctx"
)

func TestRegisterClasses(t *testing.T) {
	r := host.NewRegistry()
	if err := registerClasses(r); err != nil {
		t.Fatalf("registerClasses() error = %v", err)
	}

	classes := r.Classes()
	for _, id := range []string{classMath, classStrings, classClock, classTasks, classTime, classDur} {
		if !slices.Contains(classes, id) {
			t.Errorf("class %s not registered", id)
		}
	}

	if err := registerClasses(r); err == nil {
		t.Error("registering the classes twice should fail")
	}
}

func TestRegisterClasses_Calls(t *testing.T) {
	r := host.NewRegistry()
	if err := registerClasses(r); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		class, method string
		args          []any
		want          any
	}{
		{classMath, "max", []any{2.0, 5.0}, 5.0},
		{classStrings, "upper", []any{"abc"}, "ABC"},
		{classStrings, "has_prefix", []any{"luaguard", "lua"}, true},
		{classClock, "unix", []any{int64(0)}, time.Unix(0, 0).UTC()},
	}
	for _, tt := range tests {
		res, err := r.InvokeStaticMethod(ctx, tt.class, tt.method, tt.args)
		if err != nil {
			t.Errorf("%s.%s error = %v", tt.class, tt.method, err)
			continue
		}
		if res.Value != tt.want {
			t.Errorf("%s.%s = %#v, want %#v", tt.class, tt.method, res.Value, tt.want)
		}
	}

	if got := r.ClassOf(time.Now()); got != classTime {
		t.Errorf("ClassOf(time.Time) = %q, want %q", got, classTime)
	}
}

func TestRunAll_NoThreadContext(t *testing.T) {
	if _, err := runAll(context.Background()); !errors.Is(err, threadctx.ErrNoContext) {
		t.Errorf("runAll() error = %v, want ErrNoContext", err)
	}
}
