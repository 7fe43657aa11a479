package interceptor

import (
	"context"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
)

// RejectAll denies every operation before it reaches the backend. The only
// thing a script can still do is construct the script error class.
type RejectAll struct {
	base
}

// NewRejectAll returns an interceptor that denies everything.
func NewRejectAll(backend host.Backend, opts ...Option) *RejectAll {
	o := newOptions(opts)
	return &RejectAll{base: base{backend: backend, logger: o.logger}}
}

func (r *RejectAll) InvokeInstanceMethod(ctx context.Context, receiver any, method string, _ []any) (any, error) {
	target := r.ClassOf(receiver) + ":" + method
	return nil, r.deny(ctx, target, "method "+target+" is not allowed", nil)
}

func (r *RejectAll) InvokeStaticMethod(ctx context.Context, class, method string, _ []any) (any, error) {
	target := class + ":" + method
	return nil, r.deny(ctx, target, "static method "+target+" is not allowed", nil)
}

func (r *RejectAll) InvokeConstructor(ctx context.Context, class string, args []any) (any, error) {
	if IsExemptConstructor(class) {
		return r.construct(ctx, class, args)
	}
	return nil, r.deny(ctx, class+":new", "constructor of "+class+" is not allowed", nil)
}

func (r *RejectAll) GetBeanProperty(ctx context.Context, receiver any, name string) (any, error) {
	target := r.ClassOf(receiver) + ":" + name
	return nil, r.deny(ctx, target, "property "+target+" is not allowed", nil)
}

func (r *RejectAll) SetBeanProperty(ctx context.Context, receiver any, name string, _ any) error {
	target := r.ClassOf(receiver) + ":" + name
	return r.deny(ctx, target, "property "+target+" is not allowed", nil)
}

func (r *RejectAll) GetStaticField(ctx context.Context, class, name string) (any, error) {
	target := class + ":" + name
	return nil, r.deny(ctx, target, "static field "+target+" is not allowed", nil)
}

func (r *RejectAll) GetInstanceField(ctx context.Context, receiver any, name string) (any, error) {
	target := r.ClassOf(receiver) + ":" + name
	return nil, r.deny(ctx, target, "field "+target+" is not allowed", nil)
}

func (r *RejectAll) LoadClasspathResource(ctx context.Context, name string) ([]byte, error) {
	return nil, r.deny(ctx, name, "classpath resource "+name+" is not allowed", nil)
}

func (r *RejectAll) ReadSystemProperty(ctx context.Context, name string) (string, bool, error) {
	return "", false, r.deny(ctx, name, "system property "+name+" is not allowed", nil)
}

func (r *RejectAll) ReadSystemEnv(ctx context.Context, name string) (string, bool, error) {
	return "", false, r.deny(ctx, name, "environment variable "+name+" is not allowed", nil)
}

// ValidateFunctionCall denies every name. Only privileged builtins, the io
// functions among them, are ever validated.
func (r *RejectAll) ValidateFunctionCall(ctx context.Context, name string) error {
	return r.deny(ctx, name, "function "+name+" is not allowed", nil)
}

func (r *RejectAll) ValidateModuleLoad(ctx context.Context, name string) error {
	return r.deny(ctx, name, "module "+name+" is not allowed", nil)
}

func (r *RejectAll) ValidateExecutionTime(ctx context.Context) error {
	return r.deny(ctx, "execution", "script execution is not allowed", nil)
}

func (r *RejectAll) ValidateFileRead(ctx context.Context, path string) error {
	return r.deny(ctx, path, "reading "+path+" is not allowed", nil)
}

func (r *RejectAll) ValidateFileWrite(ctx context.Context, path string) error {
	return r.deny(ctx, path, "writing "+path+" is not allowed", nil)
}

// No limits are reported: ValidateExecutionTime already refuses to run anything.
func (r *RejectAll) MaxExecSeconds() (int, bool)      { return 0, false }
func (r *RejectAll) MaxCallbackPoolSize() (int, bool) { return 0, false }

var _ Interceptor = (*RejectAll)(nil)
