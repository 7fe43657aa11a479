package policy

import (
	"fmt"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/pattern"
)

// Builder accumulates sandbox rules. A Builder is an immutable value: every
// method returns a new Builder and leaves the receiver untouched, so a
// Builder handed to other code can never change underneath it.
//
// Rule bodies are only checked by Build.
type Builder struct {
	rules           []Rule
	pending         []error
	maxExecSeconds  *int
	maxCallbackPool *int
}

// NewBuilder returns an empty builder. A policy built from it allows nothing.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) clone() *Builder {
	c := &Builder{
		rules:           append([]Rule(nil), b.rules...),
		pending:         append([]error(nil), b.pending...),
		maxExecSeconds:  b.maxExecSeconds,
		maxCallbackPool: b.maxCallbackPool,
	}
	return c
}

func (b *Builder) with(kind Kind, bodies []string) *Builder {
	c := b.clone()
	for _, body := range bodies {
		c.rules = append(c.rules, Rule{Kind: kind, Body: body})
	}
	return c
}

// AddRules adds rules written in DSL form ("class:java.lang.Math:min",
// "system.env:HOME", ...).
func (b *Builder) AddRules(raw ...string) *Builder {
	c := b.clone()
	for _, s := range raw {
		r, err := ParseRule(s)
		if err != nil {
			c.pending = append(c.pending, err)
			continue
		}
		c.rules = append(c.rules, r)
	}
	return c
}

// AddClassRules whitelists classes and accessors ("java.lang.Math:min",
// "java.awt.**:*", "java.util.ArrayList").
func (b *Builder) AddClassRules(rules ...string) *Builder {
	return b.with(KindClass, rules)
}

// AddClasspathRules whitelists classpath resources.
func (b *Builder) AddClasspathRules(rules ...string) *Builder {
	return b.with(KindClasspath, rules)
}

// AddSystemPropertyRules whitelists system property names.
func (b *Builder) AddSystemPropertyRules(rules ...string) *Builder {
	return b.with(KindSystemProperty, rules)
}

// AddSystemEnvRules whitelists environment variable names.
func (b *Builder) AddSystemEnvRules(rules ...string) *Builder {
	return b.with(KindSystemEnv, rules)
}

// RejectFunctions blacklists script builtins by name or glob.
func (b *Builder) RejectFunctions(names ...string) *Builder {
	return b.with(KindFunctionBlacklist, names)
}

// AllowFunctions exempts builtins from the blacklist.
func (b *Builder) AllowFunctions(names ...string) *Builder {
	return b.with(KindFunctionWhitelist, names)
}

// AllowModules whitelists loadable script modules.
func (b *Builder) AllowModules(names ...string) *Builder {
	return b.with(KindModule, names)
}

// AllowFileRead whitelists file paths the io builtins may read.
func (b *Builder) AllowFileRead(paths ...string) *Builder {
	return b.with(KindFileRead, paths)
}

// AllowFileWrite whitelists file paths the io builtins may write.
func (b *Builder) AllowFileWrite(paths ...string) *Builder {
	return b.with(KindFileWrite, paths)
}

// SetMaxExecTimeSeconds limits wall-clock execution time. Zero removes the limit.
func (b *Builder) SetMaxExecTimeSeconds(seconds int) *Builder {
	c := b.clone()
	c.maxExecSeconds = &seconds
	return c
}

// SetMaxCallbackPoolSize limits the number of callbacks run concurrently on
// behalf of scripts. Zero removes the limit.
func (b *Builder) SetMaxCallbackPoolSize(size int) *Builder {
	c := b.clone()
	c.maxCallbackPool = &size
	return c
}

// Merge returns a builder holding the rules of both builders. Limits set on
// other take precedence.
func (b *Builder) Merge(other *Builder) *Builder {
	c := b.clone()
	if other == nil {
		return c
	}

	seen := make(map[Rule]bool, len(c.rules))
	for _, r := range c.rules {
		seen[r] = true
	}
	for _, r := range other.rules {
		if !seen[r] {
			seen[r] = true
			c.rules = append(c.rules, r)
		}
	}

	c.pending = append(c.pending, other.pending...)
	if other.maxExecSeconds != nil {
		c.maxExecSeconds = other.maxExecSeconds
	}
	if other.maxCallbackPool != nil {
		c.maxCallbackPool = other.maxCallbackPool
	}
	return c
}

// Rules returns a copy of the accumulated rules in insertion order.
func (b *Builder) Rules() []Rule {
	return append([]Rule(nil), b.rules...)
}

// MaxExecTimeSeconds returns the configured execution limit, if any.
func (b *Builder) MaxExecTimeSeconds() (int, bool) {
	if b.maxExecSeconds == nil {
		return 0, false
	}
	return *b.maxExecSeconds, true
}

// MaxCallbackPoolSize returns the configured callback pool limit, if any.
func (b *Builder) MaxCallbackPoolSize() (int, bool) {
	if b.maxCallbackPool == nil {
		return 0, false
	}
	return *b.maxCallbackPool, true
}

// Build compiles every rule exactly once. The first malformed rule aborts the
// build with a *BuildError.
func (b *Builder) Build() (*Policy, error) {
	if len(b.pending) > 0 {
		return nil, b.pending[0]
	}

	p := newPolicy(b.Rules())

	if b.maxExecSeconds != nil {
		if *b.maxExecSeconds < 0 {
			return nil, &BuildError{Rule: "max_exec_time", Reason: fmt.Sprintf("must not be negative (got %d)", *b.maxExecSeconds)}
		}
		if *b.maxExecSeconds > 0 {
			p.maxExecSeconds = *b.maxExecSeconds
			p.hasMaxExec = true
		}
	}
	if b.maxCallbackPool != nil {
		if *b.maxCallbackPool < 0 {
			return nil, &BuildError{Rule: "max_callback_pool_size", Reason: fmt.Sprintf("must not be negative (got %d)", *b.maxCallbackPool)}
		}
		if *b.maxCallbackPool > 0 {
			p.maxCallbackPool = *b.maxCallbackPool
			p.hasMaxCallbackPool = true
		}
	}

	compiled := make(map[string]*pattern.Pattern)
	compileName := func(r Rule, src string) (*pattern.Pattern, error) {
		if cp, ok := compiled[src]; ok {
			return cp, nil
		}
		cp, err := pattern.Compile(src)
		if err != nil {
			return nil, &BuildError{Rule: r.String(), Reason: "cannot compile pattern", Err: err}
		}
		compiled[src] = cp
		return cp, nil
	}

	for _, r := range b.rules {
		if err := r.validate(); err != nil {
			return nil, err
		}

		switch r.Kind {
		case KindClass:
			classSrc, accessorSrc := splitClassRule(r.Body)
			cp, err := compileName(r, classSrc)
			if err != nil {
				return nil, err
			}
			p.classes = appendUnique(p.classes, cp)
			if accessorSrc != "" {
				ap, err := compileName(r, accessorSrc)
				if err != nil {
					return nil, err
				}
				p.accessors = appendUnique(p.accessors, ap)
			}

		case KindFileRead, KindFileWrite:
			fp, err := pattern.CompilePath(r.Body)
			if err != nil {
				return nil, &BuildError{Rule: r.String(), Reason: "cannot compile pattern", Err: err}
			}
			if r.Kind == KindFileRead {
				p.fileRead = append(p.fileRead, fp)
			} else {
				p.fileWrite = append(p.fileWrite, fp)
			}

		default:
			np, err := compileName(r, r.Body)
			if err != nil {
				return nil, err
			}
			switch r.Kind {
			case KindClasspath:
				p.classpath = appendUnique(p.classpath, np)
			case KindSystemProperty:
				p.properties = appendUnique(p.properties, np)
			case KindSystemEnv:
				p.env = appendUnique(p.env, np)
			case KindFunctionBlacklist:
				p.blacklist = appendUnique(p.blacklist, np)
			case KindFunctionWhitelist:
				p.whitelist = appendUnique(p.whitelist, np)
			case KindModule:
				p.modules = appendUnique(p.modules, np)
			default:
				return nil, &BuildError{Rule: r.String(), Reason: "unsupported rule kind " + r.Kind.String()}
			}
		}
	}

	return p, nil
}

func appendUnique(set pattern.Set, p *pattern.Pattern) pattern.Set {
	for _, existing := range set {
		if existing == p {
			return set
		}
	}
	return append(set, p)
}
