package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfigTOML = `
rules_file = "rules.toml"

[[repos]]
name = "Main"
root = 'C:\Repo\'
drive = "C"
`

const testRulesTOML = `
[[rules]]
name = "compress"
version = 1
command_line = "tool.exe {Path}"
output_paths = ["{Repo:Main}{Dir}{File}.dds"]

  [[rules.inputs]]
  repo = "Main"
  pattern = "*.png"
`

const testPrefsTOML = `
start_paused = true
thread_count = 4
`

// TestLoadAssemblesConfigRulesAndPreferences tests that Load reads
// config.toml, resolves rules_file relative to it, and picks up a
// sibling prefs.toml.
func TestLoadAssemblesConfigRulesAndPreferences(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), testConfigTOML)
	writeFile(t, filepath.Join(dir, "rules.toml"), testRulesTOML)
	writeFile(t, filepath.Join(dir, "prefs.toml"), testPrefsTOML)

	cfg, err := Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(cfg.Repos) != 1 || cfg.Repos[0].Name != "Main" {
		t.Fatalf("Repos = %+v, want one repo named Main", cfg.Repos)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Name != "compress" {
		t.Fatalf("Rules = %+v, want one rule named compress", cfg.Rules)
	}
	if !cfg.Preferences.StartPaused || cfg.Preferences.ThreadCount != 4 {
		t.Errorf("Preferences = %+v, want StartPaused=true ThreadCount=4", cfg.Preferences)
	}
	if cfg.LogDir != filepath.Join(dir, "logs") {
		t.Errorf("LogDir = %q, want default under working dir", cfg.LogDir)
	}
	if cfg.CacheDir != filepath.Join(dir, "cache") {
		t.Errorf("CacheDir = %q, want default under working dir", cfg.CacheDir)
	}
}

// TestLoadRequiresRulesFile tests that a config.toml with no rules_file
// is rejected.
func TestLoadRequiresRulesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), `
[[repos]]
name = "Main"
root = 'C:\Repo\'
drive = "C"
`)
	if _, err := Load(filepath.Join(dir, "config.toml")); err == nil {
		t.Error("Load did not reject a config with no rules_file")
	}
}

// TestLoadMissingPrefsIsNotAnError tests that an absent prefs.toml just
// means default Preferences, not a load failure.
func TestLoadMissingPrefsIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), testConfigTOML)
	writeFile(t, filepath.Join(dir, "rules.toml"), testRulesTOML)

	cfg, err := Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Preferences.StartPaused || cfg.Preferences.ThreadCount != 0 {
		t.Errorf("Preferences = %+v, want zero value when prefs.toml is absent", cfg.Preferences)
	}
}

// TestLoadRejectsLuaRulesFile tests that a rules_file ending in .lua is
// rejected outright, rather than being silently misparsed as TOML.
func TestLoadRejectsLuaRulesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), `
rules_file = "rules.lua"

[[repos]]
name = "Main"
root = 'C:\Repo\'
drive = "C"
`)
	writeFile(t, filepath.Join(dir, "rules.lua"), "-- not supported")

	if _, err := Load(filepath.Join(dir, "config.toml")); err == nil {
		t.Error("Load did not reject a .lua rules_file")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
