package interceptor

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/budget"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/callstack"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/clock"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/policy"
)

type point struct {
	X, Y int
}

func (p *point) GetX() int { return p.X }

type file struct{ Path string }

func (f *file) Delete() error { return nil }

func newBackend(t *testing.T) *host.Registry {
	t.Helper()
	r := host.NewRegistry(
		host.WithResources(fstest.MapFS{"scripts/a.lua": {Data: []byte("return 1")}}),
		host.WithProperties(map[string]string{"os.name": "linux", "user.home": "/home/x"}),
		host.WithEnvLookup(func(name string) (string, bool) { return "value-of-" + name, true }),
	)
	r.MustRegister(host.ClassDef{
		ID: "java.lang.Math",
		Statics: map[string]any{
			"min": func(a, b int) int { return min(a, b) },
			"max": func(a, b int) int { return max(a, b) },
			"fail": func() (int, error) {
				return 0, errors.New("boom")
			},
			"origin":   func() *point { return nil },
			"tempFile": func() *file { return &file{Path: "/tmp/x"} },
		},
	})
	r.MustRegister(host.ClassDef{
		ID:          "java.awt.Point",
		Type:        reflect.TypeOf(point{}),
		Constructor: func(x, y int) *point { return &point{X: x, Y: y} },
	})
	r.MustRegister(host.ClassDef{
		ID:   "java.io.File",
		Type: reflect.TypeOf(file{}),
	})
	return r
}

// spyBackend counts every call that reaches the backend.
type spyBackend struct {
	host.Backend
	calls atomic.Int32
}

func (s *spyBackend) InvokeInstanceMethod(ctx context.Context, r any, m string, a []any) (host.Result, error) {
	s.calls.Add(1)
	return s.Backend.InvokeInstanceMethod(ctx, r, m, a)
}

func (s *spyBackend) InvokeStaticMethod(ctx context.Context, c, m string, a []any) (host.Result, error) {
	s.calls.Add(1)
	return s.Backend.InvokeStaticMethod(ctx, c, m, a)
}

func (s *spyBackend) InvokeConstructor(ctx context.Context, c string, a []any) (host.Result, error) {
	s.calls.Add(1)
	return s.Backend.InvokeConstructor(ctx, c, a)
}

func (s *spyBackend) GetBeanProperty(ctx context.Context, r any, n string) (host.Result, error) {
	s.calls.Add(1)
	return s.Backend.GetBeanProperty(ctx, r, n)
}

func (s *spyBackend) SetBeanProperty(ctx context.Context, r any, n string, v any) error {
	s.calls.Add(1)
	return s.Backend.SetBeanProperty(ctx, r, n, v)
}

func (s *spyBackend) GetStaticField(ctx context.Context, c, n string) (host.Result, error) {
	s.calls.Add(1)
	return s.Backend.GetStaticField(ctx, c, n)
}

func (s *spyBackend) GetInstanceField(ctx context.Context, r any, n string) (host.Result, error) {
	s.calls.Add(1)
	return s.Backend.GetInstanceField(ctx, r, n)
}

func (s *spyBackend) LoadResource(ctx context.Context, n string) ([]byte, error) {
	s.calls.Add(1)
	return s.Backend.LoadResource(ctx, n)
}

func (s *spyBackend) SystemProperty(n string) (string, bool) {
	s.calls.Add(1)
	return s.Backend.SystemProperty(n)
}

func (s *spyBackend) SystemEnv(n string) (string, bool) {
	s.calls.Add(1)
	return s.Backend.SystemEnv(n)
}

// recordingLogger keeps Warn messages.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Error(string, ...interface{}) {}
func (l *recordingLogger) Warn(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func mustPolicy(t *testing.T, b *policy.Builder) *policy.Policy {
	t.Helper()
	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return p
}

// hooks calls every hook of ic once and returns the errors by hook name.
func hooks(ctx context.Context, ic Interceptor) map[string]error {
	pt := &point{X: 1, Y: 2}
	errs := make(map[string]error)
	_, errs["InvokeInstanceMethod"] = ic.InvokeInstanceMethod(ctx, pt, "getX", nil)
	_, errs["InvokeStaticMethod"] = ic.InvokeStaticMethod(ctx, "java.lang.Math", "min", []any{1.0, 2.0})
	_, errs["InvokeConstructor"] = ic.InvokeConstructor(ctx, "java.awt.Point", []any{1.0, 2.0})
	_, errs["GetBeanProperty"] = ic.GetBeanProperty(ctx, pt, "x")
	errs["SetBeanProperty"] = ic.SetBeanProperty(ctx, pt, "y", 3.0)
	_, errs["GetStaticField"] = ic.GetStaticField(ctx, "java.lang.Math", "PI")
	_, errs["GetInstanceField"] = ic.GetInstanceField(ctx, pt, "X")
	_, errs["LoadClasspathResource"] = ic.LoadClasspathResource(ctx, "scripts/a.lua")
	_, _, errs["ReadSystemProperty"] = ic.ReadSystemProperty(ctx, "os.name")
	_, _, errs["ReadSystemEnv"] = ic.ReadSystemEnv(ctx, "HOME")
	errs["ValidateFunctionCall"] = ic.ValidateFunctionCall(ctx, "print")
	errs["ValidateModuleLoad"] = ic.ValidateModuleLoad(ctx, "json")
	errs["ValidateExecutionTime"] = ic.ValidateExecutionTime(ctx)
	errs["ValidateFileRead"] = ic.ValidateFileRead(ctx, "/tmp/a")
	errs["ValidateFileWrite"] = ic.ValidateFileWrite(ctx, "/tmp/a")
	return errs
}

func TestRejectAll_DeniesEveryHook(t *testing.T) {
	spy := &spyBackend{Backend: newBackend(t)}
	logger := &recordingLogger{}
	ic := NewRejectAll(spy, WithLogger(logger))

	errs := hooks(context.Background(), ic)
	for hook, err := range errs {
		if !IsDenied(err) {
			t.Errorf("%s error = %v, want a denial", hook, err)
		}
	}
	for _, fn := range policy.IOFunctions {
		if err := ic.ValidateFunctionCall(context.Background(), fn); !IsDenied(err) {
			t.Errorf("ValidateFunctionCall(%q) error = %v, want a denial", fn, err)
		}
	}

	if n := spy.calls.Load(); n != 0 {
		t.Errorf("backend reached %d times, want 0", n)
	}
	if len(logger.warns) < len(errs) {
		t.Errorf("logged %d denials, want at least %d", len(logger.warns), len(errs))
	}
}

func TestExemptConstructor_AllVariants(t *testing.T) {
	backend := newBackend(t)
	variants := map[string]Interceptor{
		"accept-all":    NewAcceptAll(backend),
		"reject-all":    NewRejectAll(backend),
		"empty sandbox": NewSandboxed(mustPolicy(t, policy.NewBuilder()), backend),
	}

	for name, ic := range variants {
		t.Run(name, func(t *testing.T) {
			v, err := ic.InvokeConstructor(context.Background(), host.ScriptErrorClass, []any{"bad input"})
			if err != nil {
				t.Fatalf("InvokeConstructor() error = %v", err)
			}
			se, ok := v.(*host.ScriptError)
			if !ok || se.Message != "bad input" {
				t.Errorf("InvokeConstructor() = %#v", v)
			}
		})
	}

	if IsExemptConstructor("java.awt.Point") {
		t.Error("only the script error class is exempt")
	}
}

func TestSandboxed_MethodWhitelist(t *testing.T) {
	ic := NewSandboxed(mustPolicy(t, policy.NewBuilder().AddClassRules("java.lang.Math:min")), newBackend(t))
	ctx := context.Background()

	v, err := ic.InvokeStaticMethod(ctx, "java.lang.Math", "min", []any{1.0, 2.0})
	if err != nil {
		t.Fatalf("min error = %v", err)
	}
	if v != 1 {
		t.Errorf("min = %v, want 1", v)
	}

	_, err = ic.InvokeStaticMethod(ctx, "java.lang.Math", "max", []any{1.0, 2.0})
	var se *SecurityError
	if !errors.As(err, &se) {
		t.Fatalf("max error = %v, want *SecurityError", err)
	}
	if se.Target != "java.lang.Math:max" {
		t.Errorf("Target = %q, want java.lang.Math:max", se.Target)
	}
	if !strings.Contains(se.Message, "java.lang.Math:max") {
		t.Errorf("Message = %q, want it to name the method", se.Message)
	}
}

func TestSandboxed_WildcardPackage(t *testing.T) {
	ic := NewSandboxed(mustPolicy(t, policy.NewBuilder().AddClassRules("java.awt.**:*")), newBackend(t))
	ctx := context.Background()

	pt, err := ic.InvokeConstructor(ctx, "java.awt.Point", []any{3.0, 4.0})
	if err != nil {
		t.Fatalf("new Point error = %v", err)
	}
	x, err := ic.InvokeInstanceMethod(ctx, pt, "getX", nil)
	if err != nil || x != 3 {
		t.Errorf("getX = %v, %v, want 3", x, err)
	}
	y, err := ic.GetBeanProperty(ctx, pt, "y")
	if err != nil || y != 4 {
		t.Errorf("y = %v, %v, want 4", y, err)
	}
	if err := ic.SetBeanProperty(ctx, pt, "y", 7.0); err != nil {
		t.Errorf("set y error = %v", err)
	}
	if pt.(*point).Y != 7 {
		t.Errorf("Y = %d, want 7", pt.(*point).Y)
	}

	if _, err := ic.InvokeConstructor(ctx, "java.io.File", nil); !IsDenied(err) {
		t.Errorf("new File error = %v, want a denial", err)
	}
}

func TestSandboxed_ExecutionBudget(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := mustPolicy(t, policy.NewBuilder().SetMaxExecTimeSeconds(1))
	ic := NewSandboxed(p, newBackend(t), WithClock(fake))
	ctx := context.Background()

	if err := ic.ValidateExecutionTime(ctx); err != nil {
		t.Fatalf("ValidateExecutionTime() before deadline = %v", err)
	}

	fake.Advance(2 * time.Second)
	err := ic.ValidateExecutionTime(ctx)
	if !IsDenied(err) {
		t.Fatalf("ValidateExecutionTime() after deadline = %v, want a denial", err)
	}
	if !errors.Is(err, budget.ErrExpired) {
		t.Errorf("error %v should wrap budget.ErrExpired", err)
	}

	fake.Advance(-10 * time.Second)
	if err := ic.ValidateExecutionTime(ctx); !IsDenied(err) {
		t.Errorf("deadline must stay expired after the clock moves back, got %v", err)
	}
}

func TestSandboxed_UnboundedWithoutLimit(t *testing.T) {
	fake := clock.NewFake(time.Now())
	ic := NewSandboxed(mustPolicy(t, policy.NewBuilder()), newBackend(t), WithClock(fake))
	fake.Advance(24 * time.Hour)
	if err := ic.ValidateExecutionTime(context.Background()); err != nil {
		t.Errorf("ValidateExecutionTime() = %v, want nil without a limit", err)
	}
	if ic.Deadline().Bounded() {
		t.Error("deadline should be unbounded")
	}
}

func TestAcceptAllVersusEmptySandbox(t *testing.T) {
	backend := newBackend(t)
	accept := NewAcceptAll(backend)
	sandbox := NewSandboxed(mustPolicy(t, policy.NewBuilder()), backend)
	ctx := context.Background()

	v, err := accept.InvokeStaticMethod(ctx, "java.lang.Math", "max", []any{1.0, 2.0})
	if err != nil || v != 2 {
		t.Errorf("accept-all max = %v, %v, want 2", v, err)
	}
	if _, err := sandbox.InvokeStaticMethod(ctx, "java.lang.Math", "max", []any{1.0, 2.0}); !IsDenied(err) {
		t.Errorf("empty sandbox max error = %v, want a denial", err)
	}

	for hook, err := range hooks(ctx, accept) {
		if IsDenied(err) {
			t.Errorf("accept-all %s denied: %v", hook, err)
		}
	}
}

func TestSandboxed_ReturnValueClassChecked(t *testing.T) {
	p := mustPolicy(t, policy.NewBuilder().AddClassRules("java.lang.Math:*"))
	ic := NewSandboxed(p, newBackend(t))
	ctx := context.Background()

	// Non-nil: the runtime class is checked.
	if _, err := ic.InvokeStaticMethod(ctx, "java.lang.Math", "tempFile", nil); !IsDenied(err) {
		t.Errorf("tempFile error = %v, want a denial for java.io.File", err)
	}
	// Nil: the declared class is checked.
	if _, err := ic.InvokeStaticMethod(ctx, "java.lang.Math", "origin", nil); !IsDenied(err) {
		t.Errorf("origin error = %v, want a denial for java.awt.Point", err)
	}

	p = mustPolicy(t, policy.NewBuilder().AddClassRules("java.lang.Math:*", "java.awt.Point"))
	ic = NewSandboxed(p, newBackend(t))
	v, err := ic.InvokeStaticMethod(ctx, "java.lang.Math", "origin", nil)
	if err != nil || v != nil {
		t.Errorf("origin = %v, %v, want nil, nil once Point is allowed", v, err)
	}
}

func TestSandboxed_InvocationErrorIsNotDenial(t *testing.T) {
	ic := NewSandboxed(mustPolicy(t, policy.NewBuilder().AddClassRules("java.lang.Math:fail")), newBackend(t))

	_, err := ic.InvokeStaticMethod(context.Background(), "java.lang.Math", "fail", nil)
	var ie *InvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want *InvocationError", err)
	}
	if IsDenied(err) {
		t.Error("a failing allowed call must not be reported as a denial")
	}
	if ie.Target != "java.lang.Math:fail" || !strings.Contains(ie.Error(), "boom") {
		t.Errorf("InvocationError = %v", ie)
	}
}

func TestSandboxed_NamedResources(t *testing.T) {
	p := mustPolicy(t, policy.NewBuilder().
		AddClasspathRules("scripts/**").
		AddSystemPropertyRules("os.*").
		AddSystemEnvRules("HOME").
		RejectFunctions("io.*").
		AllowFunctions("io.exists").
		AllowModules("json").
		AllowFileRead("/data/**").
		AllowFileWrite("/tmp/*"))
	ic := NewSandboxed(p, newBackend(t))
	ctx := context.Background()

	if data, err := ic.LoadClasspathResource(ctx, "scripts/a.lua"); err != nil || string(data) != "return 1" {
		t.Errorf("LoadClasspathResource() = %q, %v", data, err)
	}
	if _, err := ic.LoadClasspathResource(ctx, "secret.txt"); !IsDenied(err) {
		t.Errorf("secret.txt error = %v, want a denial", err)
	}
	if v, ok, err := ic.ReadSystemProperty(ctx, "os.name"); err != nil || !ok || v != "linux" {
		t.Errorf("os.name = %q, %v, %v", v, ok, err)
	}
	if _, _, err := ic.ReadSystemProperty(ctx, "user.home"); !IsDenied(err) {
		t.Errorf("user.home error = %v, want a denial", err)
	}
	if v, _, err := ic.ReadSystemEnv(ctx, "HOME"); err != nil || v != "value-of-HOME" {
		t.Errorf("HOME = %q, %v", v, err)
	}
	if _, _, err := ic.ReadSystemEnv(ctx, "AWS_SECRET_ACCESS_KEY"); !IsDenied(err) {
		t.Errorf("AWS_SECRET_ACCESS_KEY error = %v, want a denial", err)
	}

	checks := []struct {
		name    string
		err     error
		allowed bool
	}{
		{"io.read", ic.ValidateFunctionCall(ctx, "io.read"), false},
		{"io.exists", ic.ValidateFunctionCall(ctx, "io.exists"), true},
		{"print", ic.ValidateFunctionCall(ctx, "print"), true},
		{"module json", ic.ValidateModuleLoad(ctx, "json"), true},
		{"module yaml", ic.ValidateModuleLoad(ctx, "yaml"), false},
		{"read data", ic.ValidateFileRead(ctx, "/data/a/b"), true},
		{"read etc", ic.ValidateFileRead(ctx, "/etc/passwd"), false},
		{"write tmp", ic.ValidateFileWrite(ctx, "/tmp/out"), true},
		{"write data", ic.ValidateFileWrite(ctx, "/data/a"), false},
	}
	for _, c := range checks {
		if c.allowed && c.err != nil {
			t.Errorf("%s: unexpected error %v", c.name, c.err)
		}
		if !c.allowed && !IsDenied(c.err) {
			t.Errorf("%s: error = %v, want a denial", c.name, c.err)
		}
	}
}

func TestSecurityError_Trail(t *testing.T) {
	stack := callstack.New(0)
	_ = stack.Push(callstack.Frame{Name: "main", Location: &callstack.Location{File: "job.lua", Line: 1, Column: 1}})
	_ = stack.Push(callstack.Frame{Name: "host.static", Location: &callstack.Location{File: "job.lua", Line: 4, Column: 3}})
	ctx := callstack.WithStack(context.Background(), stack)

	ic := NewSandboxed(mustPolicy(t, policy.NewBuilder()), newBackend(t))
	_, err := ic.InvokeStaticMethod(ctx, "java.lang.Math", "max", nil)

	var se *SecurityError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *SecurityError", err)
	}
	lines := strings.Split(se.Trail, "\n")
	if len(lines) != 2 {
		t.Fatalf("Trail = %q, want 2 lines", se.Trail)
	}
	if !strings.Contains(lines[0], "host.static (job.lua:4:3)") {
		t.Errorf("innermost frame = %q", lines[0])
	}
	if !strings.Contains(err.Error(), "job.lua:1:1") {
		t.Errorf("Error() = %q, want the trail included", err.Error())
	}
}

func TestSandboxed_ConcurrentUse(t *testing.T) {
	p := mustPolicy(t, policy.NewBuilder().AddClassRules("java.lang.Math:min", "java.awt.**:*"))
	ic := NewSandboxed(p, newBackend(t))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			for j := 0; j < 100; j++ {
				if _, err := ic.InvokeStaticMethod(ctx, "java.lang.Math", "min", []any{1.0, 2.0}); err != nil {
					errs <- err
					return
				}
				if _, err := ic.InvokeStaticMethod(ctx, "java.lang.Math", "max", []any{1.0, 2.0}); !IsDenied(err) {
					errs <- errors.New("max was not denied")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
