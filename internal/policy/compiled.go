package policy

import (
	"sync"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/classid"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/pattern"
)

// Policy is the compiled, immutable form of a Builder. All methods are safe
// for concurrent use.
//
// Class and accessor verdicts are memoised. The caches only ever record
// "allowed": a verdict is a pure function of the immutable rule set, so two
// goroutines racing to fill the same key store the same value, and a denial
// is recomputed every time instead of being pinned.
type Policy struct {
	rules []Rule

	classes    pattern.Set
	accessors  pattern.Set
	classpath  pattern.Set
	properties pattern.Set
	env        pattern.Set
	blacklist  pattern.Set
	whitelist  pattern.Set
	modules    pattern.Set
	fileRead   pattern.Set
	fileWrite  pattern.Set

	maxExecSeconds     int
	hasMaxExec         bool
	maxCallbackPool    int
	hasMaxCallbackPool bool

	classCache    sync.Map // class id -> true
	accessorCache sync.Map // "class:member" -> true
}

func newPolicy(rules []Rule) *Policy {
	return &Policy{rules: rules}
}

// IsClassAllowed reports whether scripts may hold and use instances of class.
// Primitive and array classes are always allowed.
func (p *Policy) IsClassAllowed(class string) bool {
	if classid.IsBuiltin(class) {
		return true
	}
	if _, ok := p.classCache.Load(class); ok {
		return true
	}
	if p.classes.Match(class) {
		p.classCache.LoadOrStore(class, true)
		return true
	}
	return false
}

// IsAccessorAllowed reports whether scripts may use member (a method, field,
// property or "new" for constructors) of class. It is never true for a class
// that is not itself allowed. Array classes defer to their element class.
func (p *Policy) IsAccessorAllowed(class, member string) bool {
	if !p.IsClassAllowed(class) {
		return false
	}
	if classid.IsArray(class) {
		elem := classid.Element(class)
		if classid.IsPrimitive(elem) {
			return true
		}
		return p.IsAccessorAllowed(elem, member)
	}

	key := class + ":" + member
	if _, ok := p.accessorCache.Load(key); ok {
		return true
	}
	if p.accessors.Match(key) {
		p.accessorCache.LoadOrStore(key, true)
		return true
	}
	return false
}

// IsClasspathResourceAllowed reports whether the named resource may be loaded.
func (p *Policy) IsClasspathResourceAllowed(name string) bool {
	return p.classpath.Match(name)
}

// IsSystemPropertyAllowed reports whether the named system property may be read.
func (p *Policy) IsSystemPropertyAllowed(name string) bool {
	return p.properties.Match(name)
}

// IsSystemEnvAllowed reports whether the named environment variable may be read.
func (p *Policy) IsSystemEnvAllowed(name string) bool {
	return p.env.Match(name)
}

// IsFunctionBlacklisted reports whether the builtin name is blacklisted and
// not carved out again by a whitelist rule.
func (p *Policy) IsFunctionBlacklisted(name string) bool {
	return p.blacklist.Match(name) && !p.whitelist.Match(name)
}

// IsModuleAllowed reports whether the named script module may be loaded.
func (p *Policy) IsModuleAllowed(name string) bool {
	return p.modules.Match(name)
}

// IsFileReadAllowed reports whether the io builtins may read path.
func (p *Policy) IsFileReadAllowed(path string) bool {
	return p.fileRead.Match(path)
}

// IsFileWriteAllowed reports whether the io builtins may write path.
func (p *Policy) IsFileWriteAllowed(path string) bool {
	return p.fileWrite.Match(path)
}

// MaxExecSeconds returns the execution time limit, if one is configured.
func (p *Policy) MaxExecSeconds() (int, bool) {
	return p.maxExecSeconds, p.hasMaxExec
}

// MaxCallbackPoolSize returns the callback pool limit, if one is configured.
func (p *Policy) MaxCallbackPoolSize() (int, bool) {
	return p.maxCallbackPool, p.hasMaxCallbackPool
}

// Rules returns the rules the policy was compiled from.
func (p *Policy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Builder returns a builder holding the policy's rules and limits, for
// extending or re-serialising a compiled policy.
func (p *Policy) Builder() *Builder {
	b := &Builder{rules: p.Rules()}
	if p.hasMaxExec {
		n := p.maxExecSeconds
		b.maxExecSeconds = &n
	}
	if p.hasMaxCallbackPool {
		n := p.maxCallbackPool
		b.maxCallbackPool = &n
	}
	return b
}
