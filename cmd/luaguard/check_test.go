package main

import (
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/testutil"
)

func TestRunCheck(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	tests := []struct {
		name     string
		file     string
		content  string
		args     []string
		wantCode int
		want     []string
	}{
		{
			name: "clean lua policy",
			file: "clean.lua",
			content: `sandbox = {
				presets = { "default_classes" },
				rules = { "class:luaguard.Math:*" },
				max_exec_time = 3,
			}`,
			wantCode: exitOK,
			want:     []string{"OK", "4 rules, 1 presets", "max_exec_time=3s"},
		},
		{
			name:     "broad class rule",
			file:     "broad.yaml",
			content:  "sandbox:\n  rules: [\"class:**\"]\n",
			wantCode: exitOK,
			want:     []string{"1 questionable rule(s)", "allows every registered class", "OK"},
		},
		{
			name:     "strict with warning",
			file:     "strict.json",
			content:  `{"sandbox": {"rules": ["system.env:AWS_SECRET_ACCESS_KEY"]}}`,
			args:     []string{"--strict"},
			wantCode: exitError,
			want:     []string{"looks like a credential", "FAIL"},
		},
		{
			name:     "strict with notice only",
			file:     "notice.lua",
			content:  `sandbox = { rules = { "module:**" }, max_callback_pool_size = 4 }`,
			args:     []string{"--strict"},
			wantCode: exitOK,
			want:     []string{"allows loading any module", "OK", "max_callback_pool_size=4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.WriteFile(t, env.Root, tt.file, tt.content)
			args := append([]string{"check"}, tt.args...)
			code, out, errOut := runCLI(t, append(args, path)...)
			if code != tt.wantCode {
				t.Fatalf("exit = %d, want %d (stdout %q, stderr %q)", code, tt.wantCode, out, errOut)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("stdout = %q, want it to contain %q", out, want)
				}
			}
		})
	}
}

func TestRunCheck_Errors(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"bad rule", "bad.lua", `sandbox = { rules = { "class:" } }`, "rules[0]"},
		{"unknown preset", "preset.yaml", "sandbox:\n  presets: [everything]\n", "presets[0]"},
		{"lua error", "err.lua", `error("nope")`, "Lua error in policy file"},
		{"unsupported extension", "policy.toml", "", "unsupported policy file extension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.WriteFile(t, env.Root, tt.file, tt.content)
			code, _, errOut := runCLI(t, "check", path)
			if code != exitError {
				t.Errorf("exit = %d, want %d", code, exitError)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", errOut, tt.want)
			}
		})
	}
}
