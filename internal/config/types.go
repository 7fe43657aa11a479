package config

import (
	"fmt"
	"slices"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/policy"
)

// PolicyFile is the decoded content of a policy file, before compilation.
// The same structure is read from Lua, YAML and JSON files.
type PolicyFile struct {
	Meta Meta `yaml:"meta,omitempty" json:"meta,omitempty"`

	// Presets are applied before Rules, in order.
	Presets []string `yaml:"presets,omitempty" json:"presets,omitempty"`

	// Rules in DSL form, e.g. "class:java.lang.Math:min".
	Rules []string `yaml:"rules,omitempty" json:"rules,omitempty"`

	// MaxExecTime is the execution limit in seconds. Zero removes the limit;
	// nil leaves it unset.
	MaxExecTime *int `yaml:"max_exec_time,omitempty" json:"max_exec_time,omitempty"`

	// MaxCallbackPoolSize bounds concurrently running callbacks.
	MaxCallbackPoolSize *int `yaml:"max_callback_pool_size,omitempty" json:"max_callback_pool_size,omitempty"`
}

// Meta describes a policy file.
type Meta struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// document is the top level of YAML and JSON policy files.
type document struct {
	Sandbox *PolicyFile `yaml:"sandbox" json:"sandbox"`
}

// Validate checks the file without compiling any pattern.
func (pf *PolicyFile) Validate() error {
	if len(pf.Rules) > MaxRuleCount {
		return &ValidationError{
			Field:   "rules",
			Message: fmt.Sprintf("too many rules (%d), maximum is %d", len(pf.Rules), MaxRuleCount),
		}
	}

	for i, raw := range pf.Rules {
		if _, err := policy.ParseRule(raw); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("rules[%d]", i),
				Message: err.Error(),
			}
		}
	}

	known := policy.Presets()
	for i, name := range pf.Presets {
		if !slices.Contains(known, name) {
			return &ValidationError{
				Field:   fmt.Sprintf("presets[%d]", i),
				Message: fmt.Sprintf("unknown preset %q", name),
			}
		}
	}

	if pf.MaxExecTime != nil && *pf.MaxExecTime < 0 {
		return &ValidationError{Field: luaFieldMaxExecTime, Message: "must not be negative"}
	}
	if pf.MaxCallbackPoolSize != nil && *pf.MaxCallbackPoolSize < 0 {
		return &ValidationError{Field: luaFieldMaxCallbackPool, Message: "must not be negative"}
	}
	return nil
}

// Builder returns a policy builder holding the file's presets, rules and
// limits. Malformed rules are reported by Build.
func (pf *PolicyFile) Builder() *policy.Builder {
	b := policy.NewBuilder()
	for _, name := range pf.Presets {
		b = b.ApplyPreset(name)
	}
	b = b.AddRules(pf.Rules...)
	if pf.MaxExecTime != nil {
		b = b.SetMaxExecTimeSeconds(*pf.MaxExecTime)
	}
	if pf.MaxCallbackPoolSize != nil {
		b = b.SetMaxCallbackPoolSize(*pf.MaxCallbackPoolSize)
	}
	return b
}

// DefaultPolicyFile is the starting point written by "policy init".
func DefaultPolicyFile() *PolicyFile {
	execTime := 5
	return &PolicyFile{
		Meta: Meta{
			Name:        "default",
			Description: "Math helpers, standard platform properties and no file access",
		},
		Presets: []string{
			policy.PresetStandardSystemProperties,
			policy.PresetDefaultClasses,
			policy.PresetRejectIOFunctions,
		},
		Rules: []string{
			"class:luaguard.Math:*",
		},
		MaxExecTime: &execTime,
	}
}

// ValidationError represents a policy file validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "policy validation failed for " + e.Field + ": " + e.Message
	}
	return "policy validation failed: " + e.Message
}
