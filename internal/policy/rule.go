package policy

import (
	"fmt"
	"strings"
)

// Kind tags what a rule grants or denies.
type Kind int

const (
	KindClass             Kind = iota + 1 // class:{fqcn}[:{member}]
	KindClasspath                         // classpath:{glob}
	KindSystemProperty                    // system.property:{glob}
	KindSystemEnv                         // system.env:{glob}
	KindFunctionBlacklist                 // blacklist:function:{name|glob}
	KindFunctionWhitelist                 // whitelist:function:{name}
	KindModule                            // module:{name}
	KindFileRead                          // file.read:{path-glob}
	KindFileWrite                         // file.write:{path-glob}
)

// Rule DSL prefixes.
const (
	PrefixClass             = "class:"
	PrefixClasspath         = "classpath:"
	PrefixSystemProperty    = "system.property:"
	PrefixSystemEnv         = "system.env:"
	PrefixFunctionBlacklist = "blacklist:function:"
	PrefixFunctionWhitelist = "whitelist:function:"
	PrefixModule            = "module:"
	PrefixFileRead          = "file.read:"
	PrefixFileWrite         = "file.write:"
)

// prefixes is ordered so that no entry is shadowed by a shorter one.
var prefixes = []struct {
	prefix string
	kind   Kind
}{
	{PrefixFunctionBlacklist, KindFunctionBlacklist},
	{PrefixFunctionWhitelist, KindFunctionWhitelist},
	{PrefixSystemProperty, KindSystemProperty},
	{PrefixSystemEnv, KindSystemEnv},
	{PrefixClasspath, KindClasspath},
	{PrefixClass, KindClass},
	{PrefixModule, KindModule},
	{PrefixFileRead, KindFileRead},
	{PrefixFileWrite, KindFileWrite},
}

// Prefix returns the DSL prefix of the kind.
func (k Kind) Prefix() string {
	for _, p := range prefixes {
		if p.kind == k {
			return p.prefix
		}
	}
	return ""
}

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindClasspath:
		return "classpath"
	case KindSystemProperty:
		return "system property"
	case KindSystemEnv:
		return "system env"
	case KindFunctionBlacklist:
		return "function blacklist"
	case KindFunctionWhitelist:
		return "function whitelist"
	case KindModule:
		return "module"
	case KindFileRead:
		return "file read"
	case KindFileWrite:
		return "file write"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Rule is one declarative policy line.
type Rule struct {
	Kind Kind
	Body string
}

// String renders the rule in DSL form.
func (r Rule) String() string {
	return r.Kind.Prefix() + r.Body
}

// ParseRule parses a rule in DSL form, e.g. "class:java.lang.Math:min".
func ParseRule(raw string) (Rule, error) {
	s := strings.TrimSpace(raw)
	for _, p := range prefixes {
		if strings.HasPrefix(s, p.prefix) {
			r := Rule{Kind: p.kind, Body: strings.TrimSpace(s[len(p.prefix):])}
			if err := r.validate(); err != nil {
				return Rule{}, err
			}
			return r, nil
		}
	}
	return Rule{}, &BuildError{Rule: raw, Reason: "unknown rule prefix"}
}

// validate rejects rules that can never be compiled, so that mistakes surface
// when the policy is built rather than while a script runs.
func (r Rule) validate() error {
	body := r.Body
	if body == "" {
		return &BuildError{Rule: r.String(), Reason: "empty rule"}
	}

	switch r.Kind {
	case KindClass:
		class, member, hasMember := strings.Cut(body, ":")
		if class == "" {
			return &BuildError{Rule: r.String(), Reason: "missing class name"}
		}
		if hasMember && (member == "" || strings.Contains(member, ":")) {
			return &BuildError{Rule: r.String(), Reason: "malformed member name"}
		}
	case KindClasspath:
		if body == "/" {
			return &BuildError{Rule: r.String(), Reason: "resource name must not be \"/\""}
		}
	case KindFunctionWhitelist, KindModule:
		if strings.ContainsAny(body, " \t") {
			return &BuildError{Rule: r.String(), Reason: "name must not contain whitespace"}
		}
	case KindFileRead, KindFileWrite:
		if body == "/" {
			return &BuildError{Rule: r.String(), Reason: "file rule must not be \"/\" (use \"/**\")"}
		}
	}
	return nil
}

// splitClassRule splits a class rule body into its class part and, when a
// member is given, the full class:member accessor rule.
func splitClassRule(body string) (class, accessor string) {
	class, member, ok := strings.Cut(body, ":")
	if !ok {
		return class, ""
	}
	return class, class + ":" + member
}
