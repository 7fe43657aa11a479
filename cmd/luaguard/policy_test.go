package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/config"
)

func TestRunPolicyInit_Stdout(t *testing.T) {
	code, out, errOut := runCLI(t, "policy", "init")
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	if !strings.HasPrefix(out, "-- luaguard sandbox policy\n") {
		t.Errorf("output does not start with the policy header: %q", out)
	}
	if !strings.Contains(out, "sandbox = {") {
		t.Errorf("output = %q, want a sandbox table", out)
	}

	code, out, _ = runCLI(t, "policy", "init", "--format", "yaml")
	if code != exitOK || !strings.Contains(out, "sandbox:\n") {
		t.Errorf("yaml: exit = %d, output = %q", code, out)
	}
}

func TestRunPolicyInit_File(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"policy.lua", "policy.yaml", "policy.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			code, out, errOut := runCLI(t, "policy", "init", "--out", path)
			if code != exitOK {
				t.Fatalf("exit = %d, stderr = %q", code, errOut)
			}
			if !strings.Contains(out, "wrote "+path) {
				t.Errorf("output = %q", out)
			}

			pf, err := config.NewParser(nil).ParseFile(context.Background(), path)
			if err != nil {
				t.Fatalf("ParseFile() error = %v", err)
			}
			want := config.DefaultPolicyFile()
			if pf.Meta.Name != want.Meta.Name || len(pf.Rules) != len(want.Rules) || len(pf.Presets) != len(want.Presets) {
				t.Errorf("round trip = %+v, want %+v", pf, want)
			}
		})
	}
}

func TestRunPolicyInit_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.lua")
	if err := os.WriteFile(path, []byte("-- keep me\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := runCLI(t, "policy", "init", "-o", path)
	if code != exitError || !strings.Contains(errOut, "already exists") {
		t.Errorf("without --force: exit = %d, stderr = %q", code, errOut)
	}
	if data, _ := os.ReadFile(path); string(data) != "-- keep me\n" {
		t.Errorf("file was overwritten without --force: %q", data)
	}

	if code, _, errOut := runCLI(t, "policy", "init", "-o", path, "--force"); code != exitOK {
		t.Fatalf("with --force: exit = %d, stderr = %q", code, errOut)
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), "sandbox = {") {
		t.Errorf("file = %q, want a generated policy", data)
	}
}

func TestInitFormat(t *testing.T) {
	tests := []struct {
		flag    string
		out     string
		want    config.Format
		wantErr bool
	}{
		{"", "", config.FormatLua, false},
		{"lua", "", config.FormatLua, false},
		{"yaml", "", config.FormatYAML, false},
		{"yml", "x.lua", config.FormatYAML, false},
		{"", "x.YAML", config.FormatYAML, false},
		{"", "x.lua", config.FormatLua, false},
		{"", "x.json", "", true},
		{"", "x.txt", "", true},
		{"toml", "", "", true},
	}
	for _, tt := range tests {
		got, err := initFormat(tt.flag, tt.out)
		if (err != nil) != tt.wantErr {
			t.Errorf("initFormat(%q, %q) error = %v, wantErr %v", tt.flag, tt.out, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("initFormat(%q, %q) = %q, want %q", tt.flag, tt.out, got, tt.want)
		}
	}
}
