package config

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestSandboxLuaVM(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
		errMsg  string
	}{
		// Safe operations that should work
		{
			name: "string operations allowed",
			code: `x = string.upper("hello")`,
		},
		{
			name: "table operations allowed",
			code: `t = {1, 2, 3}; table.insert(t, 4)`,
		},
		{
			name: "math operations allowed",
			code: `x = math.floor(3.7)`,
		},
		{
			name: "pairs and ipairs allowed",
			code: `t = {a=1, b=2}; for k,v in pairs(t) do end; for i,v in ipairs({1}) do end`,
		},

		// Dangerous operations that should fail
		{
			name:    "os.getenv blocked",
			code:    `x = os.getenv("PATH")`,
			wantErr: true,
			errMsg:  "attempt to index",
		},
		{
			name:    "io.open blocked",
			code:    `f = io.open("/etc/passwd")`,
			wantErr: true,
			errMsg:  "attempt to index",
		},
		{
			name:    "require blocked",
			code:    `socket = require("socket")`,
			wantErr: true,
			errMsg:  "attempt to call",
		},
		{
			name:    "package.loadlib blocked",
			code:    `package.loadlib("libc.so", "system")`,
			wantErr: true,
			errMsg:  "attempt to index",
		},
		{
			name:    "dofile blocked",
			code:    `dofile("/tmp/evil.lua")`,
			wantErr: true,
			errMsg:  "attempt to call",
		},
		{
			name:    "loadstring blocked",
			code:    `f = loadstring("return 1+1")`,
			wantErr: true,
			errMsg:  "attempt to call",
		},
		{
			name:    "debug blocked",
			code:    `debug.getinfo(1)`,
			wantErr: true,
			errMsg:  "attempt to index",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newSandboxedVM()
			defer L.Close()

			err := L.DoString(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("DoString(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("DoString(%q) error = %v, want substring %q", tt.code, err, tt.errMsg)
			}
		})
	}
}

func TestSandboxLuaVM_StringHelpersForRules(t *testing.T) {
	L := newSandboxedVM()
	defer L.Close()

	code := `
		dirs = {}
		for _, d in ipairs({"reports", "exports"}) do
			table.insert(dirs, string.format("file.read:/srv/%s/**", d))
		end
		joined = table.concat(dirs, ";")
	`
	if err := L.DoString(code); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	got := L.GetGlobal("joined").String()
	want := "file.read:/srv/reports/**;file.read:/srv/exports/**"
	if got != want {
		t.Errorf("joined = %q, want %q", got, want)
	}
}

func TestNewSandboxedVM(t *testing.T) {
	L := newSandboxedVM()
	defer L.Close()

	for _, name := range []string{"os", "io", "debug", "package", "load"} {
		if v := L.GetGlobal(name); v.Type() != lua.LTNil {
			t.Errorf("global %s = %v, want nil", name, v.Type())
		}
	}
	if str := L.GetGlobal("string"); str.Type() != lua.LTTable {
		t.Errorf("string = %v, want table", str.Type())
	}
}

func TestNewSandboxedVM_CallStackBounded(t *testing.T) {
	L := newSandboxedVM()
	defer L.Close()

	err := L.DoString(`local function f() return 1 + f() end; f()`)
	if err == nil {
		t.Fatal("unbounded recursion should fail")
	}
	if !strings.Contains(err.Error(), "stack overflow") {
		t.Errorf("error = %v, want stack overflow", err)
	}
}
