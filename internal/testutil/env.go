// Package testutil provides helpers for running luaguard tests in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the directories created by SetupTestEnv.
type Env struct {
	Root      string
	Modules   string
	Resources string
	Policy    string
}

// SetupTestEnv creates isolated directories for a test and points the
// LUAGUARD_* variables at them so tests never pick up a user's policy,
// modules or keyring. Cleanup is handled by t.TempDir.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := Env{
		Root:      tmpDir,
		Modules:   filepath.Join(tmpDir, "modules"),
		Resources: filepath.Join(tmpDir, "resources"),
		Policy:    filepath.Join(tmpDir, "policy.lua"),
	}

	t.Setenv("LUAGUARD_POLICY", env.Policy)
	t.Setenv("LUAGUARD_MODULES", env.Modules)
	t.Setenv("LUAGUARD_RESOURCES", env.Resources)
	t.Setenv("LUAGUARD_KEYRING", "")

	for _, dir := range []string{env.Modules, env.Resources} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}
	return env
}

// WriteFile writes content to dir/rel, creating parent directories.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
	return p
}
