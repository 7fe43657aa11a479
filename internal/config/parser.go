package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/logging"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/platform"
)

// Format identifies the syntax of a policy file.
type Format string

const (
	FormatLua  Format = "lua"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return FormatLua, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported policy file extension: %q", filepath.Ext(path))
}

// Parser reads policy files. Lua policy files see a read-only "platform"
// table when a detector is configured.
type Parser struct {
	detector platform.Detector
	logger   logging.Logger
}

// NewParser creates a new policy parser with the given platform detector,
// which may be nil.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, logger: logging.Noop()}
}

// WithLogger returns a copy of the parser that logs to logger.
func (p *Parser) WithLogger(logger logging.Logger) *Parser {
	c := *p
	c.logger = logging.OrNoop(logger)
	return &c
}

// ParseFile reads and parses the policy file at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*PolicyFile, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	if info.Size() > MaxPolicySize {
		return nil, &ParseError{
			Message: "policy file too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", info.Size(), MaxPolicySize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	pf, err := p.ParseBytes(ctx, format, data)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("parsed policy file", "path", path, "format", string(format), "rules", len(pf.Rules), "presets", len(pf.Presets))
	return pf, nil
}

// ParseString parses a Lua policy from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*PolicyFile, error) {
	return p.ParseBytes(ctx, FormatLua, []byte(luaCode))
}

// ParseBytes parses data in the given format and validates the result.
func (p *Parser) ParseBytes(ctx context.Context, format Format, data []byte) (*PolicyFile, error) {
	if len(data) > MaxPolicySize {
		return nil, &ParseError{
			Message: "policy file too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", len(data), MaxPolicySize),
		}
	}

	var (
		pf  *PolicyFile
		err error
	)
	switch format {
	case FormatLua:
		pf, err = p.parseLua(ctx, string(data))
	case FormatYAML:
		pf, err = parseYAML(data)
	case FormatJSON:
		pf, err = parseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported policy format: %q", format)
	}
	if err != nil {
		return nil, err
	}

	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return pf, nil
}

func (p *Parser) parseLua(ctx context.Context, code string) (*PolicyFile, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultParseTimeout)
		defer cancel()
	}

	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		platform.InjectPlatformTable(L, info)
	}

	if err := L.DoString(code); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("evaluate policy: %w", ctxErr)
		}
		return nil, &ParseError{
			Message: "Lua error in policy file",
			Detail:  err.Error(),
		}
	}

	return extractPolicy(L)
}

func parseYAML(data []byte) (*PolicyFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ParseError{Message: "invalid YAML policy", Detail: err.Error()}
	}
	return doc.policy()
}

// parseJSON accepts JSON with comments and trailing commas.
func parseJSON(data []byte) (*PolicyFile, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ParseError{Message: "invalid JSON policy", Detail: err.Error()}
	}
	return doc.policy()
}

func (d document) policy() (*PolicyFile, error) {
	if d.Sandbox == nil {
		return nil, &ParseError{
			Message: "missing or invalid 'sandbox' table",
			Detail:  "expected a top-level sandbox key",
		}
	}
	return d.Sandbox, nil
}

// ParseError represents a policy parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua or decoder error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractPolicy reads the global "sandbox" table.
func extractPolicy(L *lua.LState) (*PolicyFile, error) {
	sandboxVal := L.GetGlobal(luaGlobalSandbox)
	table, ok := sandboxVal.(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: "missing or invalid 'sandbox' table",
			Detail:  fmt.Sprintf("expected table, got %s", sandboxVal.Type()),
		}
	}

	pf := &PolicyFile{}
	var err error
	table.ForEach(func(key, value lua.LValue) {
		if err != nil {
			return
		}
		name, isString := key.(lua.LString)
		if !isString {
			err = &ParseError{Message: "invalid 'sandbox' table", Detail: fmt.Sprintf("unexpected %s key", key.Type())}
			return
		}
		switch string(name) {
		case luaFieldMeta:
			pf.Meta, err = extractMeta(value)
		case luaFieldRules:
			pf.Rules, err = extractStrings(luaFieldRules, value)
		case luaFieldPresets:
			pf.Presets, err = extractStrings(luaFieldPresets, value)
		case luaFieldMaxExecTime:
			pf.MaxExecTime, err = extractInt(luaFieldMaxExecTime, value)
		case luaFieldMaxCallbackPool:
			pf.MaxCallbackPoolSize, err = extractInt(luaFieldMaxCallbackPool, value)
		default:
			err = &ParseError{Message: "invalid 'sandbox' table", Detail: fmt.Sprintf("unknown field %q", string(name))}
		}
	})
	if err != nil {
		return nil, err
	}
	return pf, nil
}

func extractMeta(value lua.LValue) (Meta, error) {
	table, ok := value.(*lua.LTable)
	if !ok {
		return Meta{}, &ParseError{Message: "invalid 'meta' table", Detail: fmt.Sprintf("expected table, got %s", value.Type())}
	}

	meta := Meta{}
	if nameVal := table.RawGetString(luaFieldName); nameVal.Type() == lua.LTString {
		meta.Name = nameVal.String()
	}
	if descVal := table.RawGetString(luaFieldDesc); descVal.Type() == lua.LTString {
		meta.Description = descVal.String()
	}
	return meta, nil
}

// extractStrings reads a list of strings. Holes left by conditional entries
// such as `platform.is_linux and "..." or nil` are skipped.
func extractStrings(field string, value lua.LValue) ([]string, error) {
	table, ok := value.(*lua.LTable)
	if !ok {
		return nil, &ParseError{Message: fmt.Sprintf("invalid '%s' list", field), Detail: fmt.Sprintf("expected table, got %s", value.Type())}
	}

	type entry struct {
		index float64
		value string
	}
	var entries []entry
	var err error
	table.ForEach(func(key, item lua.LValue) {
		if err != nil {
			return
		}
		index, isNumber := key.(lua.LNumber)
		if !isNumber {
			err = &ParseError{Message: fmt.Sprintf("invalid '%s' list", field), Detail: fmt.Sprintf("unexpected key %s", key.String())}
			return
		}
		s, isString := item.(lua.LString)
		if !isString {
			err = &ParseError{
				Message: fmt.Sprintf("invalid '%s' list", field),
				Detail:  fmt.Sprintf("%s[%d]: expected string, got %s", field, int(index)-1, item.Type()),
			}
			return
		}
		entries = append(entries, entry{index: float64(index), value: string(s)})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out, nil
}

func extractInt(field string, value lua.LValue) (*int, error) {
	n, ok := value.(lua.LNumber)
	if !ok {
		return nil, &ParseError{Message: fmt.Sprintf("invalid '%s'", field), Detail: fmt.Sprintf("expected number, got %s", value.Type())}
	}
	f := float64(n)
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil, &ParseError{Message: fmt.Sprintf("invalid '%s'", field), Detail: fmt.Sprintf("expected an integer, got %v", f)}
	}
	i := int(f)
	return &i, nil
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
