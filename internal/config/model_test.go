package config

import (
	"path/filepath"
	"testing"

	"github.com/assetcooker/assetcooker/internal/model"
)

// TestToModelGroupsReposIntoDrives tests that repos sharing a drive
// letter are grouped into a single model.Drive, in first-seen order.
func TestToModelGroupsReposIntoDrives(t *testing.T) {
	cfg := Config{
		Repos: []Repo{
			{Name: "A", Root: `C:\A`, Drive: "c"},
			{Name: "B", Root: `D:\B`, Drive: "d"},
			{Name: "C", Root: `C:\C`, Drive: "C"},
		},
	}
	repos, drives, _, err := ToModel(cfg)
	if err != nil {
		t.Fatalf("ToModel returned error: %v", err)
	}
	if len(drives) != 2 {
		t.Fatalf("got %d drives, want 2", len(drives))
	}
	if drives[0].Letter != "C" || drives[1].Letter != "D" {
		t.Errorf("drive letters = [%s, %s], want [C, D]", drives[0].Letter, drives[1].Letter)
	}
	if len(drives[0].Repos) != 2 {
		t.Errorf("drive C has %d repos, want 2", len(drives[0].Repos))
	}
	if repos[0].Drive != "C" {
		t.Errorf("repo Drive = %q, want normalized uppercase \"C\"", repos[0].Drive)
	}
}

// TestToModelNormalizesRootTrailingSeparator tests that every repo root
// ends in exactly one path separator.
func TestToModelNormalizesRootTrailingSeparator(t *testing.T) {
	cfg := Config{Repos: []Repo{{Name: "A", Root: `C:\Repo`, Drive: "C"}}}
	repos, _, _, err := ToModel(cfg)
	if err != nil {
		t.Fatalf("ToModel returned error: %v", err)
	}
	if got, want := repos[0].Root, `C:\Repo`+string(filepath.Separator); got != want {
		t.Errorf("Root = %q, want %q", got, want)
	}
}

// TestToModelRejectsTooManyRepos tests that exceeding model.MaxRepos is
// rejected before any drive-grouping or rule conversion happens.
func TestToModelRejectsTooManyRepos(t *testing.T) {
	repos := make([]Repo, model.MaxRepos+1)
	for i := range repos {
		repos[i] = Repo{Name: string(rune('A' + i)), Root: `C:\R`, Drive: "C"}
	}
	if _, _, _, err := ToModel(Config{Repos: repos}); err == nil {
		t.Error("ToModel did not reject exceeding the repo limit")
	}
}

// TestToModelRuleConvertsType tests that the "copy-file" string maps to
// CommandTypeCopyFile and anything else (including the default) maps to
// CommandTypeCommandLine.
func TestToModelRuleConvertsType(t *testing.T) {
	cfg := Config{
		Repos: []Repo{{Name: "Main", Root: `C:\R`, Drive: "C"}},
		Rules: []Rule{
			{Name: "copy", Type: "copy-file", Inputs: []InputFilter{{Repo: "Main", Pattern: "*"}}},
			{Name: "default", Inputs: []InputFilter{{Repo: "Main", Pattern: "*"}}},
		},
	}
	_, _, rules, err := ToModel(cfg)
	if err != nil {
		t.Fatalf("ToModel returned error: %v", err)
	}
	if rules[0].Type != model.CommandTypeCopyFile {
		t.Errorf("rule %q Type = %v, want CommandTypeCopyFile", rules[0].Name, rules[0].Type)
	}
	if rules[1].Type != model.CommandTypeCommandLine {
		t.Errorf("rule %q Type = %v, want CommandTypeCommandLine", rules[1].Name, rules[1].Type)
	}
}

// TestToModelRuleRejectsUnknownInputRepo tests that an input filter
// referencing an undeclared repo name fails conversion.
func TestToModelRuleRejectsUnknownInputRepo(t *testing.T) {
	cfg := Config{
		Repos: []Repo{{Name: "Main", Root: `C:\R`, Drive: "C"}},
		Rules: []Rule{{Name: "bad", Inputs: []InputFilter{{Repo: "Nope", Pattern: "*"}}}},
	}
	if _, _, _, err := ToModel(cfg); err == nil {
		t.Error("ToModel did not reject a rule referencing an unknown repo")
	}
}

// TestToModelRuleDepFileFormat tests that "make" maps to
// DepFileFormatMake and anything else maps to DepFileFormatAssetCooker.
func TestToModelRuleDepFileFormat(t *testing.T) {
	cfg := Config{
		Repos: []Repo{{Name: "Main", Root: `C:\R`, Drive: "C"}},
		Rules: []Rule{
			{Name: "make", Inputs: []InputFilter{{Repo: "Main", Pattern: "*"}}, DepFile: &DepFile{Format: "make"}},
			{Name: "ac", Inputs: []InputFilter{{Repo: "Main", Pattern: "*"}}, DepFile: &DepFile{Format: "assetcooker"}},
		},
	}
	_, _, rules, err := ToModel(cfg)
	if err != nil {
		t.Fatalf("ToModel returned error: %v", err)
	}
	if rules[0].DepFile.Format != model.DepFileFormatMake {
		t.Errorf("make rule DepFile.Format = %v, want DepFileFormatMake", rules[0].DepFile.Format)
	}
	if rules[1].DepFile.Format != model.DepFileFormatAssetCooker {
		t.Errorf("assetcooker rule DepFile.Format = %v, want DepFileFormatAssetCooker", rules[1].DepFile.Format)
	}
}
