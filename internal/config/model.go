package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/assetcooker/assetcooker/internal/model"
)

// ToModel converts a validated Config into the model types the engine's
// subsystems (fileindex, rulegraph, dirty, scheduler) are built around.
// Drives are derived by grouping repos on the same drive letter; their
// JournalID/FirstUSN/NextUSN fields are left zero for the engine to fill
// in at startup from the live journal or an accepted cache entry.
func ToModel(cfg Config) ([]model.Repo, []model.Drive, []model.Rule, error) {
	repos := make([]model.Repo, len(cfg.Repos))
	repoIndexByName := make(map[string]model.RepoIndex, len(cfg.Repos))
	if len(cfg.Repos) > model.MaxRepos {
		return nil, nil, nil, fmt.Errorf("config: %d repos declared, exceeds the %d-repo limit", len(cfg.Repos), model.MaxRepos)
	}
	for i, r := range cfg.Repos {
		root := filepath.Clean(r.Root)
		if !strings.HasSuffix(root, string(filepath.Separator)) {
			root += string(filepath.Separator)
		}
		index := model.RepoIndex(i)
		repos[i] = model.Repo{
			Index: index,
			Name:  r.Name,
			Root:  root,
			Drive: strings.ToUpper(r.Drive),
		}
		repoIndexByName[r.Name] = index
	}

	drives := buildDrives(repos)

	rules := make([]model.Rule, len(cfg.Rules))
	for i, r := range cfg.Rules {
		rule, err := toModelRule(r, repoIndexByName)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		rule.ID = model.RuleID(i)
		rules[i] = rule
	}

	return repos, drives, rules, nil
}

func buildDrives(repos []model.Repo) []model.Drive {
	order := make([]string, 0)
	byLetter := make(map[string][]model.RepoIndex)
	for _, r := range repos {
		if _, ok := byLetter[r.Drive]; !ok {
			order = append(order, r.Drive)
		}
		byLetter[r.Drive] = append(byLetter[r.Drive], r.Index)
	}
	drives := make([]model.Drive, len(order))
	for i, letter := range order {
		drives[i] = model.Drive{Letter: letter, Repos: byLetter[letter]}
	}
	return drives
}

func toModelRule(r Rule, repoIndexByName map[string]model.RepoIndex) (model.Rule, error) {
	inputs := make([]model.InputFilter, len(r.Inputs))
	for i, in := range r.Inputs {
		repoIndex, ok := repoIndexByName[in.Repo]
		if !ok {
			return model.Rule{}, fmt.Errorf("input filter references unknown repo %q", in.Repo)
		}
		inputs[i] = model.InputFilter{Repo: repoIndex, Pattern: in.Pattern}
	}

	commandType := model.CommandTypeCommandLine
	if r.Type == "copy-file" {
		commandType = model.CommandTypeCopyFile
	}

	var depFile *model.DepFileSpec
	if r.DepFile != nil && r.DepFile.Format != "" {
		format := model.DepFileFormatAssetCooker
		if r.DepFile.Format == "make" {
			format = model.DepFileFormatMake
		}
		depFile = &model.DepFileSpec{
			PathTemplate:        r.DepFile.Path,
			Format:              format,
			CommandLineTemplate: r.DepFile.CommandLineTemplate,
		}
	}

	return model.Rule{
		Name:                r.Name,
		Priority:            r.Priority,
		Version:             r.Version,
		Type:                commandType,
		CommandLineTemplate: r.CommandLine,
		DepFile:             depFile,
		Inputs:              inputs,
		InputPaths:          r.InputPaths,
		OutputPaths:         r.OutputPaths,
		MatchMoreRules:      r.MatchMoreRules,
	}, nil
}
