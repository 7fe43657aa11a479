package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/clock"
)

// Generator writes policy files from PolicyFile values.
type Generator struct {
	indent string // Indentation string (default: two spaces)
	clock  clock.Clock
}

// NewGenerator creates a new policy file generator.
func NewGenerator() *Generator {
	return &Generator{
		indent: "  ",
		clock:  clock.Real{},
	}
}

// WithClock returns a copy of the generator that stamps output with c.
func (g *Generator) WithClock(c clock.Clock) *Generator {
	cp := *g
	cp.clock = c
	return &cp
}

// Generate generates a Lua policy file from pf.
// The output is formatted and human-readable.
func (g *Generator) Generate(pf *PolicyFile) (string, error) {
	if err := pf.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString("-- luaguard sandbox policy\n")
	buf.WriteString("-- Generated: ")
	buf.WriteString(g.clock.Now().UTC().Format(time.RFC3339))
	buf.WriteString("\n\n")

	buf.WriteString(luaGlobalSandbox + " = {\n")

	if pf.Meta.Name != "" || pf.Meta.Description != "" {
		g.writeMeta(&buf, pf.Meta)
	}
	if len(pf.Presets) > 0 {
		g.writeList(&buf, luaFieldPresets, pf.Presets)
	}
	if len(pf.Rules) > 0 {
		g.writeList(&buf, luaFieldRules, pf.Rules)
	}
	if pf.MaxExecTime != nil {
		buf.WriteString(fmt.Sprintf("%s%s = %d,\n", g.indent, luaFieldMaxExecTime, *pf.MaxExecTime))
	}
	if pf.MaxCallbackPoolSize != nil {
		buf.WriteString(fmt.Sprintf("%s%s = %d,\n", g.indent, luaFieldMaxCallbackPool, *pf.MaxCallbackPoolSize))
	}

	buf.WriteString("}\n")
	return buf.String(), nil
}

// GenerateYAML generates a YAML policy file from pf.
func (g *Generator) GenerateYAML(pf *PolicyFile) (string, error) {
	if err := pf.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString("# luaguard sandbox policy\n")
	buf.WriteString("# Generated: " + g.clock.Now().UTC().Format(time.RFC3339) + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(len(g.indent))
	if err := enc.Encode(document{Sandbox: pf}); err != nil {
		return "", fmt.Errorf("encode policy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode policy: %w", err)
	}
	return buf.String(), nil
}

// writeMeta writes the meta section to the buffer.
func (g *Generator) writeMeta(buf *bytes.Buffer, meta Meta) {
	buf.WriteString(g.indent)
	buf.WriteString("meta = {\n")

	if meta.Name != "" {
		buf.WriteString(g.indent + g.indent)
		buf.WriteString("name = ")
		buf.WriteString(g.quoteLuaString(meta.Name))
		buf.WriteString(",\n")
	}
	if meta.Description != "" {
		buf.WriteString(g.indent + g.indent)
		buf.WriteString("description = ")
		buf.WriteString(g.quoteLuaString(meta.Description))
		buf.WriteString(",\n")
	}

	buf.WriteString(g.indent)
	buf.WriteString("},\n\n")
}

func (g *Generator) writeList(buf *bytes.Buffer, field string, items []string) {
	buf.WriteString(g.indent)
	buf.WriteString(field + " = {\n")

	for _, item := range items {
		buf.WriteString(g.indent + g.indent)
		buf.WriteString(g.quoteLuaString(item))
		buf.WriteString(",\n")
	}

	buf.WriteString(g.indent)
	buf.WriteString("},\n\n")
}

// quoteLuaString quotes a string for Lua, handling special characters.
func (g *Generator) quoteLuaString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\") // Escape backslashes first
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}
