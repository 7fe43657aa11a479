package config

import (
	"context"
	"testing"
)

func FuzzParser_ParseString(f *testing.F) {
	f.Add(`sandbox = { rules = { "class:luaguard.Math:*" } }`)
	f.Add(`sandbox = { presets = { "default_classes" }, max_exec_time = 1 }`)
	f.Add(`sandbox = { meta = { name = "test" } }`)

	parser := NewParser(nil)

	f.Fuzz(func(t *testing.T, luaCode string) {
		_, _ = parser.ParseString(context.Background(), luaCode)
	})
}

func FuzzParser_ParseBytesJSON(f *testing.F) {
	f.Add([]byte(`{"sandbox": {"rules": ["module:util"]}}`))
	f.Add([]byte("{/* c */ \"sandbox\": {},}"))

	parser := NewParser(nil)

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = parser.ParseBytes(context.Background(), FormatJSON, data)
	})
}

func FuzzGenerator_QuoteLuaString(f *testing.F) {
	f.Add("hello")
	f.Add(`say "hello"`)
	f.Add("line1\nline2")
	f.Add(`C:\\Users\\test`)

	gen := NewGenerator()

	f.Fuzz(func(t *testing.T, input string) {
		quoted := gen.quoteLuaString(input)
		if len(quoted) < 2 || quoted[0] != '"' || quoted[len(quoted)-1] != '"' {
			t.Errorf("quoteLuaString(%q) = %q, invalid format", input, quoted)
		}
	})
}
