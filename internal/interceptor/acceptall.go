package interceptor

import (
	"context"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
)

// AcceptAll performs every operation without checks.
type AcceptAll struct {
	base
}

// NewAcceptAll returns an interceptor that delegates everything to backend.
func NewAcceptAll(backend host.Backend, opts ...Option) *AcceptAll {
	o := newOptions(opts)
	return &AcceptAll{base: base{backend: backend, logger: o.logger}}
}

func (a *AcceptAll) InvokeInstanceMethod(ctx context.Context, receiver any, method string, args []any) (any, error) {
	res, err := a.backend.InvokeInstanceMethod(ctx, receiver, method, args)
	return value(a.ClassOf(receiver)+":"+method, res, err)
}

func (a *AcceptAll) InvokeStaticMethod(ctx context.Context, class, method string, args []any) (any, error) {
	res, err := a.backend.InvokeStaticMethod(ctx, class, method, args)
	return value(class+":"+method, res, err)
}

func (a *AcceptAll) InvokeConstructor(ctx context.Context, class string, args []any) (any, error) {
	return a.construct(ctx, class, args)
}

func (a *AcceptAll) GetBeanProperty(ctx context.Context, receiver any, name string) (any, error) {
	res, err := a.backend.GetBeanProperty(ctx, receiver, name)
	return value(a.ClassOf(receiver)+":"+name, res, err)
}

func (a *AcceptAll) SetBeanProperty(ctx context.Context, receiver any, name string, v any) error {
	if err := a.backend.SetBeanProperty(ctx, receiver, name, v); err != nil {
		return &InvocationError{Target: a.ClassOf(receiver) + ":" + name, Err: err}
	}
	return nil
}

func (a *AcceptAll) GetStaticField(ctx context.Context, class, name string) (any, error) {
	res, err := a.backend.GetStaticField(ctx, class, name)
	return value(class+":"+name, res, err)
}

func (a *AcceptAll) GetInstanceField(ctx context.Context, receiver any, name string) (any, error) {
	res, err := a.backend.GetInstanceField(ctx, receiver, name)
	return value(a.ClassOf(receiver)+":"+name, res, err)
}

func (a *AcceptAll) LoadClasspathResource(ctx context.Context, name string) ([]byte, error) {
	data, err := a.backend.LoadResource(ctx, name)
	if err != nil {
		return nil, &InvocationError{Target: name, Err: err}
	}
	return data, nil
}

func (a *AcceptAll) ReadSystemProperty(_ context.Context, name string) (string, bool, error) {
	v, ok := a.backend.SystemProperty(name)
	return v, ok, nil
}

func (a *AcceptAll) ReadSystemEnv(_ context.Context, name string) (string, bool, error) {
	v, ok := a.backend.SystemEnv(name)
	return v, ok, nil
}

func (a *AcceptAll) ValidateFunctionCall(context.Context, string) error { return nil }
func (a *AcceptAll) ValidateModuleLoad(context.Context, string) error   { return nil }
func (a *AcceptAll) ValidateExecutionTime(context.Context) error        { return nil }
func (a *AcceptAll) ValidateFileRead(context.Context, string) error     { return nil }
func (a *AcceptAll) ValidateFileWrite(context.Context, string) error    { return nil }

func (a *AcceptAll) MaxExecSeconds() (int, bool)      { return 0, false }
func (a *AcceptAll) MaxCallbackPoolSize() (int, bool) { return 0, false }

func value(target string, res host.Result, err error) (any, error) {
	if err != nil {
		return nil, &InvocationError{Target: target, Err: err}
	}
	return res.Value, nil
}

var _ Interceptor = (*AcceptAll)(nil)
