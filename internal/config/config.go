// Package config holds the Go types the engine is configured with, and
// the TOML readers that fill them in. Per spec §1, the core itself
// treats configuration as an external collaborator: it consumes parsed
// Repo/Rule/Preferences structs, never a TOML document. This package is
// the "TOML/CLI layer" referenced by SPEC_FULL.md §10.3, analogous to
// the teacher's pkg/synchronization/configuration.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Repo is one watched root directory, as declared in config.toml.
type Repo struct {
	Name  string `toml:"name"`
	Root  string `toml:"root"`
	Drive string `toml:"drive"`
}

// InputFilter matches a repo-relative path against a glob pattern, as
// declared in rules.toml.
type InputFilter struct {
	Repo    string `toml:"repo"`
	Pattern string `toml:"pattern"`
}

// DepFile is a rule's optional dep-file declaration.
type DepFile struct {
	Path                string `toml:"path"`
	Format              string `toml:"format"` // "assetcooker" or "make"
	CommandLineTemplate string `toml:"command_line"`
}

// Rule mirrors the Rule data model fields from spec §3, as declared in
// rules.toml.
type Rule struct {
	Name           string        `toml:"name"`
	Priority       int           `toml:"priority"`
	Version        uint16        `toml:"version"`
	Type           string        `toml:"type"` // "command-line" or "copy-file"; default command-line
	CommandLine    string        `toml:"command_line"`
	DepFile        *DepFile      `toml:"dep_file"`
	Inputs         []InputFilter `toml:"inputs"`
	InputPaths     []string      `toml:"input_paths"`
	OutputPaths    []string      `toml:"output_paths"`
	MatchMoreRules bool          `toml:"match_more_rules"`
}

// Preferences holds the subset of prefs.toml the core consumes; UI
// concerns like window scale live only in the outer UI layer.
type Preferences struct {
	StartPaused bool `toml:"start_paused"`
	ThreadCount int  `toml:"thread_count"`
}

// Config is the fully assembled, still-unvalidated configuration: the
// contents of config.toml plus whatever rules.toml and prefs.toml it
// points to.
type Config struct {
	WorkingDir  string
	Repos       []Repo        `toml:"repos"`
	RulesPath   string        `toml:"rules_file"`
	LogDir      string        `toml:"log_dir"`
	CacheDir    string        `toml:"cache_dir"`
	WindowTitle string        `toml:"window_title"`
	Rules       []Rule        `toml:"-"`
	Preferences Preferences   `toml:"-"`
}

// Load reads config.toml from configPath, then the rules file it
// references (resolved relative to configPath's directory unless
// absolute) and the optional prefs.toml in configPath's directory.
func Load(configPath string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
	}
	cfg.WorkingDir = filepath.Dir(configPath)

	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.WorkingDir, "logs")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.WorkingDir, "cache")
	}

	if cfg.RulesPath == "" {
		return Config{}, fmt.Errorf("config: %s: rules_file is required", configPath)
	}
	rulesPath := cfg.RulesPath
	if !filepath.IsAbs(rulesPath) {
		rulesPath = filepath.Join(cfg.WorkingDir, rulesPath)
	}
	rules, err := loadRules(rulesPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Rules = rules

	prefsPath := filepath.Join(cfg.WorkingDir, "prefs.toml")
	prefs, err := loadPreferences(prefsPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Preferences = prefs

	return cfg, nil
}

func loadRules(path string) ([]Rule, error) {
	if strings.EqualFold(filepath.Ext(path), ".lua") {
		return nil, fmt.Errorf("config: %s: Lua rule files are not supported by this build (out of scope per spec §1)", path)
	}
	var doc struct {
		Rules []Rule `toml:"rules"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return doc.Rules, nil
}

func loadPreferences(path string) (Preferences, error) {
	var prefs Preferences
	if _, err := toml.DecodeFile(path, &prefs); err != nil {
		// prefs.toml is optional; a missing file just means defaults.
		if os.IsNotExist(err) {
			return Preferences{}, nil
		}
		return Preferences{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return prefs, nil
}
