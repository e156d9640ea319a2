package cache

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/model"
	"github.com/assetcooker/assetcooker/internal/rulegraph"
)

func testSetup() ([]model.Drive, []model.Repo, *fileindex.Index, *rulegraph.Graph) {
	repos := []model.Repo{
		{Index: 0, Name: "Main", Root: `C:\Repo\`, Drive: "C"},
	}
	drives := []model.Drive{
		{Letter: "C", JournalID: 42, NextUSN: 1000, Repos: []model.RepoIndex{0}},
	}
	index := fileindex.New(nil, repos, nil)
	rules := []model.Rule{
		{
			ID:          0,
			Name:        "compress",
			Version:     3,
			Inputs:      []model.InputFilter{{Repo: 0, Pattern: "*.png"}},
			OutputPaths: []string{"{Repo:Main}{Dir}{File}.dds"},
		},
	}
	graph := rulegraph.New(nil, index, repos, rules)
	return drives, repos, index, graph
}

// TestSaveLoadRoundTrip tests that a snapshot written by Save and read
// back by Load reproduces the drives, repo file contents, and rule/
// command state exactly.
func TestSaveLoadRoundTrip(t *testing.T) {
	drives, repos, index, graph := testSetup()

	fileID, err := index.GetOrAdd(0, `assets\texture.png`, model.FileTypeFile, model.RefNumber{High: 1, Low: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	if err := graph.CreateCommandsForFile(fileID); err != nil {
		t.Fatalf("CreateCommandsForFile returned error: %v", err)
	}
	graph.UpdateCommand(1, func(c *model.Command) {
		c.LastCookUSN = 55
		c.LastLog = &model.CookLog{Command: 1, EndTime: 123456}
		c.LastLog.SetState(model.CookStateSuccess)
	})

	path := filepath.Join(t.TempDir(), "cache.bin")
	if err := Save(path, drives, index, repos, graph); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(snap.Drives) != 1 || snap.Drives[0].Letter != "C" || snap.Drives[0].JournalID != 42 || snap.Drives[0].NextUSN != 1000 {
		t.Fatalf("Drives = %+v, want one C drive with JournalID 42, NextUSN 1000", snap.Drives)
	}
	if len(snap.Drives[0].Repos) != 1 || snap.Drives[0].Repos[0].Name != "Main" || snap.Drives[0].Repos[0].Root != `C:\Repo\` {
		t.Fatalf("Drives[0].Repos = %+v, want one Main repo", snap.Drives[0].Repos)
	}

	if len(snap.Repos) != 1 || len(snap.Repos[0].Files) != 1 {
		t.Fatalf("Repos = %+v, want one repo with one file", snap.Repos)
	}
	file := snap.Repos[0].Files[0]
	if file.Path != `assets\texture.png` || file.IsDirectory {
		t.Errorf("restored file = %+v, want path assets\\texture.png, not a directory", file)
	}
	if file.RefNumber.High != 1 || file.RefNumber.Low != 1 {
		t.Errorf("restored RefNumber = %+v, want {1 1}", file.RefNumber)
	}

	if len(snap.Rules) != 1 || snap.Rules[0].Name != "compress" || snap.Rules[0].Version != 3 {
		t.Fatalf("Rules = %+v, want one compress rule at version 3", snap.Rules)
	}
	if len(snap.Rules[0].Commands) != 1 {
		t.Fatalf("Rules[0].Commands = %+v, want one command", snap.Rules[0].Commands)
	}
	cmd := snap.Rules[0].Commands[0]
	if cmd.LastCookUSN != 55 {
		t.Errorf("cmd.LastCookUSN = %d, want 55", cmd.LastCookUSN)
	}
	if cmd.IsError {
		t.Error("cmd.IsError = true, want false for a successful cook")
	}
	if cmd.MainInputHash != index.File(fileID).Hash {
		t.Errorf("cmd.MainInputHash = %v, want the texture's hash", cmd.MainInputHash)
	}
}

// TestLoadRejectsIncompatibleVersion tests that Load returns
// ErrIncompatibleVersion (not a generic decode error) when the stored
// version doesn't match currentVersion, so the caller can fall back to a
// cold start.
func TestLoadRejectsIncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")

	var out bytes.Buffer
	writeTag(&out, tagVersion)
	binary.Write(&out, binary.LittleEndian, currentVersion+1)
	binary.Write(&out, binary.LittleEndian, uint64(0))
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatalf("writing malformed cache file: %v", err)
	}

	if _, err := Load(path); err != ErrIncompatibleVersion {
		t.Errorf("Load returned %v, want ErrIncompatibleVersion", err)
	}
}

// TestLoadMissingFile tests that Load surfaces the underlying os error
// for a path that doesn't exist.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.bin")); err == nil {
		t.Error("Load did not return an error for a missing file")
	}
}

// TestAccept tests spec §4.10's acceptance rule: the journal id must
// match exactly and the live first USN must not have advanced past what
// the cache last recorded.
func TestAccept(t *testing.T) {
	entry := DriveEntry{JournalID: 42, NextUSN: 1000}

	if !Accept(entry, 42, 500) {
		t.Error("Accept rejected a matching journal with an older first USN")
	}
	if !Accept(entry, 42, 1000) {
		t.Error("Accept rejected when live first USN equals the cached NextUSN")
	}
	if Accept(entry, 99, 500) {
		t.Error("Accept accepted a mismatched journal id")
	}
	if Accept(entry, 42, 1001) {
		t.Error("Accept accepted when the live journal has discarded records the cache needs")
	}
}

// TestDriveEntryHasRepo tests that HasRepo requires both name and root
// to match exactly.
func TestDriveEntryHasRepo(t *testing.T) {
	entry := DriveEntry{Repos: []RepoRef{{Name: "Main", Root: `C:\Repo\`}}}

	if !entry.HasRepo("Main", `C:\Repo\`) {
		t.Error("HasRepo rejected an exact match")
	}
	if entry.HasRepo("Main", `C:\Other\`) {
		t.Error("HasRepo accepted a matching name with a different root")
	}
	if entry.HasRepo("Other", `C:\Repo\`) {
		t.Error("HasRepo accepted a matching root with a different name")
	}
}

// TestRestoreRepoFiles tests that RestoreRepoFiles installs every file
// record and identifies the root directory entry (the one with an empty
// Path) by its returned FileID.
func TestRestoreRepoFiles(t *testing.T) {
	repos := []model.Repo{{Index: 0, Name: "Main", Root: `C:\Repo\`, Drive: "C"}}
	index := fileindex.New(nil, repos, nil)

	content := RepoContent{
		Name: "Main",
		Files: []FileRecord{
			{Path: "", IsDirectory: true, RefNumber: model.RefNumber{High: 1, Low: 1}, CreationTime: time.Unix(0, 0), ChangeTime: time.Unix(0, 0)},
			{Path: `assets\texture.png`, RefNumber: model.RefNumber{High: 1, Low: 2}, CreationTime: time.Unix(0, 0), ChangeTime: time.Unix(0, 0)},
		},
	}

	rootID := RestoreRepoFiles(index, 0, content)
	if !rootID.IsValid() {
		t.Fatal("RestoreRepoFiles did not return a valid root FileID")
	}
	rootInfo := index.File(rootID)
	if rootInfo.Type != model.FileTypeDirectory || rootInfo.Path != "" {
		t.Errorf("root FileInfo = %+v, want an empty-path directory", rootInfo)
	}

	fileID, ok := index.Lookup(index.File(rootID).Hash)
	if !ok || fileID != rootID {
		t.Error("restored root directory is not reachable via Lookup")
	}

	childHash := pathHashFor(repos[0].Root + `assets\texture.png`)
	childID, ok := index.Lookup(childHash)
	if !ok {
		t.Fatal("restored child file is not reachable via Lookup")
	}
	if index.File(childID).Type != model.FileTypeFile {
		t.Errorf("restored child Type = %v, want FileTypeFile", index.File(childID).Type)
	}
}

// TestPendingCommandStateHookRestoresMatchingCommand tests that the
// CommandCreatedHook restores LastCookUSN, LastCookRuleVersion, and
// LastLog onto a freshly instantiated command whose rule name and main
// input hash match a cached entry, and leaves a non-matching command
// alone.
func TestPendingCommandStateHookRestoresMatchingCommand(t *testing.T) {
	repos := []model.Repo{{Index: 0, Name: "Main", Root: `C:\Repo\`, Drive: "C"}}
	index := fileindex.New(nil, repos, nil)
	rules := []model.Rule{
		{ID: 0, Name: "compress", Inputs: []model.InputFilter{{Repo: 0, Pattern: "*.png"}}, OutputPaths: []string{"{Repo:Main}{Dir}{File}.dds"}},
	}

	matchedID, err := index.GetOrAdd(0, `texture.png`, model.FileTypeFile, model.RefNumber{High: 1, Low: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	unmatchedID, err := index.GetOrAdd(0, `other.png`, model.FileTypeFile, model.RefNumber{High: 1, Low: 2})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}

	pending := NewPendingCommandState([]RuleEntry{
		{
			Name:    "compress",
			Version: 2,
			Commands: []CommandEntry{
				{MainInputHash: index.File(matchedID).Hash, LastCookUSN: 77, IsError: false, LastCookTime: 999},
			},
		},
	})

	graph := rulegraph.New(nil, index, repos, rules)
	graph.SetCommandCreatedHook(pending.Hook(index, graph))

	if err := graph.CreateCommandsForFile(matchedID); err != nil {
		t.Fatalf("CreateCommandsForFile(matched) returned error: %v", err)
	}
	if err := graph.CreateCommandsForFile(unmatchedID); err != nil {
		t.Fatalf("CreateCommandsForFile(unmatched) returned error: %v", err)
	}

	var matchedCmd, unmatchedCmd model.Command
	graph.EachCommand(func(id model.CommandID, c *model.Command) {
		if c.MainInput() == matchedID {
			matchedCmd = *c
		}
		if c.MainInput() == unmatchedID {
			unmatchedCmd = *c
		}
	})

	if matchedCmd.LastCookUSN != 77 {
		t.Errorf("matched command LastCookUSN = %d, want 77", matchedCmd.LastCookUSN)
	}
	if matchedCmd.LastCookRuleVersion != 2 {
		t.Errorf("matched command LastCookRuleVersion = %d, want 2 (the cached rule version)", matchedCmd.LastCookRuleVersion)
	}
	if matchedCmd.LastLog == nil || matchedCmd.LastLog.GetState() != model.CookStateSuccess {
		t.Errorf("matched command LastLog = %+v, want a restored success log", matchedCmd.LastLog)
	}

	if unmatchedCmd.LastLog != nil {
		t.Errorf("unmatched command LastLog = %+v, want nil (no cached entry)", unmatchedCmd.LastLog)
	}
}

func pathHashFor(absolute string) model.PathHash {
	idx := fileindex.New(nil, []model.Repo{{Index: 0, Root: ""}}, nil)
	id, _ := idx.GetOrAdd(0, absolute, model.FileTypeFile, model.RefNumber{})
	return idx.File(id).Hash
}
