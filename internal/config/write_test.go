package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWritePolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.lua")

	if err := WritePolicyFile(path, "sandbox = {}\n", false); err != nil {
		t.Fatalf("WritePolicyFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "sandbox = {}\n" {
		t.Errorf("content = %q", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %o, want 644", info.Mode().Perm())
	}

	err = WritePolicyFile(path, "sandbox = { rules = {} }\n", false)
	if !errors.Is(err, ErrPolicyExists) {
		t.Errorf("second write error = %v, want ErrPolicyExists", err)
	}

	if err := WritePolicyFile(path, "sandbox = { rules = {} }\n", true); err != nil {
		t.Fatalf("overwrite error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "sandbox = { rules = {} }\n" {
		t.Errorf("content after overwrite = %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the policy file", len(entries))
	}
}

func TestWritePolicyFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "policy.lua")
	if err := WritePolicyFile(path, "x", false); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
