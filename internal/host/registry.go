package host

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/classid"
)

// ClassDef describes a class scripts can reach by id.
type ClassDef struct {
	// ID is the class id used in rules, e.g. "java.awt.Point".
	ID string

	// Type is the Go type of instances. Values of Type (or *Type) report ID
	// as their class. May be nil for classes with only static members.
	Type reflect.Type

	// Constructor is a func returning an instance, optionally with an error.
	Constructor any

	// Statics maps static method names to funcs.
	Statics map[string]any

	// StaticFields maps static field names to values.
	StaticFields map[string]any
}

// Registry is the reflective Backend. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*ClassDef
	byType map[reflect.Type]string

	resources fs.FS
	props     map[string]string
	lookupEnv func(string) (string, bool)
}

// Option configures a Registry.
type Option func(*Registry)

// WithResources serves classpath resources from fsys.
func WithResources(fsys fs.FS) Option {
	return func(r *Registry) { r.resources = fsys }
}

// WithProperties sets the system properties. The map is copied.
func WithProperties(props map[string]string) Option {
	return func(r *Registry) {
		for k, v := range props {
			r.props[k] = v
		}
	}
}

// WithEnvLookup replaces os.LookupEnv for system env reads.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(r *Registry) { r.lookupEnv = lookup }
}

// NewRegistry returns a registry holding only the script error class.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:      make(map[string]*ClassDef),
		byType:    make(map[reflect.Type]string),
		props:     make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.MustRegister(ClassDef{
		ID:          ScriptErrorClass,
		Type:        reflect.TypeOf(ScriptError{}),
		Constructor: NewScriptError,
	})
	return r
}

// Register adds a class. Registering an id or type twice is an error.
func (r *Registry) Register(def ClassDef) error {
	if def.ID == "" {
		return fmt.Errorf("register class: empty id")
	}
	if classid.IsBuiltin(def.ID) {
		return fmt.Errorf("register class %q: id is reserved", def.ID)
	}
	if def.Constructor != nil && reflect.TypeOf(def.Constructor).Kind() != reflect.Func {
		return fmt.Errorf("register class %q: constructor is %T, not a func", def.ID, def.Constructor)
	}
	for name, fn := range def.Statics {
		if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
			return fmt.Errorf("register class %q: static %q is %T, not a func", def.ID, name, fn)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[def.ID]; exists {
		return fmt.Errorf("register class %q: already registered", def.ID)
	}
	t := def.Type
	if t != nil {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if prev, exists := r.byType[t]; exists {
			return fmt.Errorf("register class %q: type %s already registered as %q", def.ID, t, prev)
		}
		r.byType[t] = def.ID
	}

	d := def
	r.byID[def.ID] = &d
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(def ClassDef) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Classes returns the registered class ids.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) class(id string) (*ClassDef, error) {
	r.mu.RLock()
	def, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, id)
	}
	return def, nil
}

// ClassOf returns the registered id of v's type, or its classid.
func (r *Registry) ClassOf(v any) string {
	if v == nil {
		return classid.Nil
	}
	return r.classOfType(reflect.TypeOf(v))
}

func (r *Registry) classOfType(t reflect.Type) string {
	if t == nil {
		return classid.Nil
	}
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	switch base.Kind() {
	case reflect.Slice, reflect.Array:
		if base.Name() == "" {
			return classid.ArrayPrefix + r.classOfType(base.Elem())
		}
	}

	r.mu.RLock()
	id, ok := r.byType[base]
	r.mu.RUnlock()
	if ok {
		return id
	}
	return classid.Of(t)
}

// InvokeConstructor calls the class constructor.
func (r *Registry) InvokeConstructor(ctx context.Context, class string, args []any) (Result, error) {
	def, err := r.class(class)
	if err != nil {
		return Result{}, err
	}
	if def.Constructor == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNoConstructor, class)
	}
	return r.call(ctx, reflect.ValueOf(def.Constructor), args)
}

// InvokeStaticMethod calls a static method of a registered class.
func (r *Registry) InvokeStaticMethod(ctx context.Context, class, method string, args []any) (Result, error) {
	def, err := r.class(class)
	if err != nil {
		return Result{}, err
	}
	fn, ok := lookupName(def.Statics, method)
	if !ok {
		return Result{}, fmt.Errorf("%w: static method %s.%s", ErrNoSuchMember, class, method)
	}
	return r.call(ctx, reflect.ValueOf(fn), args)
}

// GetStaticField reads a static field of a registered class.
func (r *Registry) GetStaticField(_ context.Context, class, name string) (Result, error) {
	def, err := r.class(class)
	if err != nil {
		return Result{}, err
	}
	v, ok := lookupName(def.StaticFields, name)
	if !ok {
		return Result{}, fmt.Errorf("%w: static field %s.%s", ErrNoSuchMember, class, name)
	}
	return Result{Value: v, Declared: r.ClassOf(v)}, nil
}

// InvokeInstanceMethod calls a method on receiver. The method name is tried
// as given and then with its first letter upper-cased.
func (r *Registry) InvokeInstanceMethod(ctx context.Context, receiver any, method string, args []any) (Result, error) {
	if receiver == nil {
		return Result{}, fmt.Errorf("call %s: nil receiver", method)
	}
	m, ok := findMethod(reflect.ValueOf(receiver), method)
	if !ok {
		return Result{}, fmt.Errorf("%w: method %s.%s", ErrNoSuchMember, r.ClassOf(receiver), method)
	}
	return r.call(ctx, m, args)
}

// GetBeanProperty reads a property through GetX, IsX or X(), falling back to
// an exported field.
func (r *Registry) GetBeanProperty(ctx context.Context, receiver any, name string) (Result, error) {
	if receiver == nil {
		return Result{}, fmt.Errorf("get property %s: nil receiver", name)
	}
	rv := reflect.ValueOf(receiver)
	prop := capitalize(name)
	for _, candidate := range []string{"Get" + prop, "Is" + prop, prop} {
		m, ok := findMethod(rv, candidate)
		if ok && isGetter(m.Type()) {
			return r.call(ctx, m, nil)
		}
	}
	if f, ok := findField(rv, name); ok {
		return r.fieldResult(f), nil
	}
	return Result{}, fmt.Errorf("%w: property %s.%s", ErrNoSuchMember, r.ClassOf(receiver), name)
}

// SetBeanProperty writes a property through SetX, falling back to a settable
// exported field. Fields can only be set through a pointer receiver.
func (r *Registry) SetBeanProperty(ctx context.Context, receiver any, name string, value any) error {
	if receiver == nil {
		return fmt.Errorf("set property %s: nil receiver", name)
	}
	rv := reflect.ValueOf(receiver)
	if m, ok := findMethod(rv, "Set"+capitalize(name)); ok {
		_, err := r.call(ctx, m, []any{value})
		return err
	}

	f, ok := findField(rv, name)
	if !ok {
		return fmt.Errorf("%w: property %s.%s", ErrNoSuchMember, r.ClassOf(receiver), name)
	}
	if !f.CanSet() {
		return fmt.Errorf("set property %s.%s: receiver is not addressable", r.ClassOf(receiver), name)
	}
	v, err := convertArg(value, f.Type())
	if err != nil {
		return fmt.Errorf("set property %s.%s: %w", r.ClassOf(receiver), name, err)
	}
	f.Set(v)
	return nil
}

// GetInstanceField reads an exported field.
func (r *Registry) GetInstanceField(_ context.Context, receiver any, name string) (Result, error) {
	if receiver == nil {
		return Result{}, fmt.Errorf("get field %s: nil receiver", name)
	}
	f, ok := findField(reflect.ValueOf(receiver), name)
	if !ok {
		return Result{}, fmt.Errorf("%w: field %s.%s", ErrNoSuchMember, r.ClassOf(receiver), name)
	}
	return r.fieldResult(f), nil
}

func (r *Registry) fieldResult(f reflect.Value) Result {
	return Result{Value: valueOf(f), Declared: r.classOfType(f.Type())}
}

// LoadResource reads a resource from the configured file system.
func (r *Registry) LoadResource(_ context.Context, name string) ([]byte, error) {
	if r.resources == nil {
		return nil, fmt.Errorf("load resource %s: %w", name, fs.ErrNotExist)
	}
	p := path.Clean(strings.TrimPrefix(name, "/"))
	if !fs.ValidPath(p) {
		return nil, fmt.Errorf("load resource %s: %w", name, fs.ErrInvalid)
	}
	data, err := fs.ReadFile(r.resources, p)
	if err != nil {
		return nil, fmt.Errorf("load resource %s: %w", name, err)
	}
	return data, nil
}

// SystemProperty returns a configured system property.
func (r *Registry) SystemProperty(name string) (string, bool) {
	v, ok := r.props[name]
	return v, ok
}

// SystemEnv looks up an environment variable.
func (r *Registry) SystemEnv(name string) (string, bool) {
	return r.lookupEnv(name)
}

func lookupName(m map[string]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	v, ok := m[capitalize(name)]
	return v, ok
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var _ Backend = (*Registry)(nil)
