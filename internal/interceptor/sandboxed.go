package interceptor

import (
	"context"
	"fmt"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/budget"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/policy"
)

// Sandboxed enforces a compiled policy. Every value a hook hands back to the
// script is checked as well: its runtime class (or, for nil, the class the
// member declares) must be allowed.
type Sandboxed struct {
	base
	policy   *policy.Policy
	deadline *budget.Deadline
}

// NewSandboxed returns an interceptor enforcing p. The execution deadline, if
// the policy sets one, starts now.
func NewSandboxed(p *policy.Policy, backend host.Backend, opts ...Option) *Sandboxed {
	o := newOptions(opts)
	seconds, _ := p.MaxExecSeconds()
	return &Sandboxed{
		base:     base{backend: backend, logger: o.logger},
		policy:   p,
		deadline: budget.New(o.clock, seconds),
	}
}

// Policy returns the enforced policy.
func (s *Sandboxed) Policy() *policy.Policy {
	return s.policy
}

// Deadline returns the execution deadline.
func (s *Sandboxed) Deadline() *budget.Deadline {
	return s.deadline
}

func (s *Sandboxed) checkAccessor(ctx context.Context, kind, class, member string) error {
	if s.policy.IsAccessorAllowed(class, member) {
		return nil
	}
	target := class + ":" + member
	if !s.policy.IsClassAllowed(class) {
		return s.deny(ctx, target, fmt.Sprintf("class %s is not allowed", class), nil)
	}
	return s.deny(ctx, target, fmt.Sprintf("%s %s is not allowed", kind, target), nil)
}

// result re-validates the class of a value about to be handed to the script.
func (s *Sandboxed) result(ctx context.Context, target string, res host.Result, err error) (any, error) {
	if err != nil {
		return nil, &InvocationError{Target: target, Err: err}
	}
	class := res.Declared
	if res.Value != nil {
		class = s.backend.ClassOf(res.Value)
	}
	if class != "" && !s.policy.IsClassAllowed(class) {
		return nil, s.deny(ctx, target, fmt.Sprintf("%s returned a %s, which is not an allowed class", target, class), nil)
	}
	return res.Value, nil
}

func (s *Sandboxed) InvokeInstanceMethod(ctx context.Context, receiver any, method string, args []any) (any, error) {
	class := s.ClassOf(receiver)
	if err := s.checkAccessor(ctx, "method", class, method); err != nil {
		return nil, err
	}
	res, err := s.backend.InvokeInstanceMethod(ctx, receiver, method, args)
	return s.result(ctx, class+":"+method, res, err)
}

func (s *Sandboxed) InvokeStaticMethod(ctx context.Context, class, method string, args []any) (any, error) {
	if err := s.checkAccessor(ctx, "static method", class, method); err != nil {
		return nil, err
	}
	res, err := s.backend.InvokeStaticMethod(ctx, class, method, args)
	return s.result(ctx, class+":"+method, res, err)
}

func (s *Sandboxed) InvokeConstructor(ctx context.Context, class string, args []any) (any, error) {
	if IsExemptConstructor(class) {
		return s.construct(ctx, class, args)
	}
	if err := s.checkAccessor(ctx, "constructor", class, "new"); err != nil {
		return nil, err
	}
	res, err := s.backend.InvokeConstructor(ctx, class, args)
	return s.result(ctx, class+":new", res, err)
}

func (s *Sandboxed) GetBeanProperty(ctx context.Context, receiver any, name string) (any, error) {
	class := s.ClassOf(receiver)
	if err := s.checkAccessor(ctx, "property", class, name); err != nil {
		return nil, err
	}
	res, err := s.backend.GetBeanProperty(ctx, receiver, name)
	return s.result(ctx, class+":"+name, res, err)
}

func (s *Sandboxed) SetBeanProperty(ctx context.Context, receiver any, name string, v any) error {
	class := s.ClassOf(receiver)
	if err := s.checkAccessor(ctx, "property", class, name); err != nil {
		return err
	}
	if err := s.backend.SetBeanProperty(ctx, receiver, name, v); err != nil {
		return &InvocationError{Target: class + ":" + name, Err: err}
	}
	return nil
}

func (s *Sandboxed) GetStaticField(ctx context.Context, class, name string) (any, error) {
	if err := s.checkAccessor(ctx, "static field", class, name); err != nil {
		return nil, err
	}
	res, err := s.backend.GetStaticField(ctx, class, name)
	return s.result(ctx, class+":"+name, res, err)
}

func (s *Sandboxed) GetInstanceField(ctx context.Context, receiver any, name string) (any, error) {
	class := s.ClassOf(receiver)
	if err := s.checkAccessor(ctx, "field", class, name); err != nil {
		return nil, err
	}
	res, err := s.backend.GetInstanceField(ctx, receiver, name)
	return s.result(ctx, class+":"+name, res, err)
}

func (s *Sandboxed) LoadClasspathResource(ctx context.Context, name string) ([]byte, error) {
	if !s.policy.IsClasspathResourceAllowed(name) {
		return nil, s.deny(ctx, name, "classpath resource "+name+" is not allowed", nil)
	}
	data, err := s.backend.LoadResource(ctx, name)
	if err != nil {
		return nil, &InvocationError{Target: name, Err: err}
	}
	return data, nil
}

func (s *Sandboxed) ReadSystemProperty(ctx context.Context, name string) (string, bool, error) {
	if !s.policy.IsSystemPropertyAllowed(name) {
		return "", false, s.deny(ctx, name, "system property "+name+" is not allowed", nil)
	}
	v, ok := s.backend.SystemProperty(name)
	return v, ok, nil
}

func (s *Sandboxed) ReadSystemEnv(ctx context.Context, name string) (string, bool, error) {
	if !s.policy.IsSystemEnvAllowed(name) {
		return "", false, s.deny(ctx, name, "environment variable "+name+" is not allowed", nil)
	}
	v, ok := s.backend.SystemEnv(name)
	return v, ok, nil
}

func (s *Sandboxed) ValidateFunctionCall(ctx context.Context, name string) error {
	if s.policy.IsFunctionBlacklisted(name) {
		return s.deny(ctx, name, "function "+name+" is not allowed", nil)
	}
	return nil
}

func (s *Sandboxed) ValidateModuleLoad(ctx context.Context, name string) error {
	if !s.policy.IsModuleAllowed(name) {
		return s.deny(ctx, name, "module "+name+" is not allowed", nil)
	}
	return nil
}

func (s *Sandboxed) ValidateExecutionTime(ctx context.Context) error {
	if err := s.deadline.Check(); err != nil {
		return s.deny(ctx, "execution", err.Error(), err)
	}
	return nil
}

func (s *Sandboxed) ValidateFileRead(ctx context.Context, path string) error {
	if !s.policy.IsFileReadAllowed(path) {
		return s.deny(ctx, path, "reading "+path+" is not allowed", nil)
	}
	return nil
}

func (s *Sandboxed) ValidateFileWrite(ctx context.Context, path string) error {
	if !s.policy.IsFileWriteAllowed(path) {
		return s.deny(ctx, path, "writing "+path+" is not allowed", nil)
	}
	return nil
}

func (s *Sandboxed) MaxExecSeconds() (int, bool) {
	return s.policy.MaxExecSeconds()
}

func (s *Sandboxed) MaxCallbackPoolSize() (int, bool) {
	return s.policy.MaxCallbackPoolSize()
}

var _ Interceptor = (*Sandboxed)(nil)
