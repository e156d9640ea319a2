package rulegraph

import (
	"testing"

	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/model"
)

func testRepos() []model.Repo {
	return []model.Repo{
		{Index: 0, Name: "Main", Root: `C:\Repo\`, Drive: "C"},
	}
}

// TestCreateCommandsForFileBasicRule tests that a matching rule with an
// output-path template instantiates exactly one Command, records
// input_of/output_of on the right files, and marks the source file so a
// second call is a no-op.
func TestCreateCommandsForFileBasicRule(t *testing.T) {
	repos := testRepos()
	index := fileindex.New(nil, repos, nil)
	rules := []model.Rule{
		{
			ID:          0,
			Name:        "compress",
			Inputs:      []model.InputFilter{{Repo: 0, Pattern: "*.png"}},
			OutputPaths: []string{"{Repo:Main}{Dir}{File}.dds"},
		},
	}
	graph := New(nil, index, repos, rules)

	fileID, err := index.GetOrAdd(0, `assets\texture.png`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}

	if err := graph.CreateCommandsForFile(fileID); err != nil {
		t.Fatalf("CreateCommandsForFile returned error: %v", err)
	}
	if got := graph.CommandCount(); got != 1 {
		t.Fatalf("CommandCount() = %d, want 1", got)
	}

	cmd := graph.Command(1)
	if cmd.MainInput() != fileID {
		t.Errorf("command's MainInput = %v, want %v", cmd.MainInput(), fileID)
	}
	if len(cmd.Outputs) != 1 {
		t.Fatalf("command has %d outputs, want 1", len(cmd.Outputs))
	}
	outputInfo := index.File(cmd.Outputs[0])
	if outputInfo.Path != `assets\texture.dds` {
		t.Errorf("output path = %q, want %q", outputInfo.Path, `assets\texture.dds`)
	}
	if len(outputInfo.OutputOf) != 1 || outputInfo.OutputOf[0] != cmd.ID {
		t.Errorf("output's OutputOf = %v, want [%v]", outputInfo.OutputOf, cmd.ID)
	}

	// Second call must be a no-op: the file is now flagged.
	if err := graph.CreateCommandsForFile(fileID); err != nil {
		t.Fatalf("second CreateCommandsForFile returned error: %v", err)
	}
	if got := graph.CommandCount(); got != 1 {
		t.Errorf("CommandCount() after second call = %d, want 1 (no duplicate)", got)
	}
}

// TestCreateCommandsForFileStopsAtFirstMatch tests that, absent
// MatchMoreRules, only the first matching rule in declaration order
// instantiates a command.
func TestCreateCommandsForFileStopsAtFirstMatch(t *testing.T) {
	repos := testRepos()
	index := fileindex.New(nil, repos, nil)
	rules := []model.Rule{
		{ID: 0, Name: "first", Inputs: []model.InputFilter{{Repo: 0, Pattern: "*.png"}}, OutputPaths: []string{"{Repo:Main}{Dir}{File}.a"}},
		{ID: 1, Name: "second", Inputs: []model.InputFilter{{Repo: 0, Pattern: "*.png"}}, OutputPaths: []string{"{Repo:Main}{Dir}{File}.b"}},
	}
	graph := New(nil, index, repos, rules)

	fileID, err := index.GetOrAdd(0, `texture.png`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	if err := graph.CreateCommandsForFile(fileID); err != nil {
		t.Fatalf("CreateCommandsForFile returned error: %v", err)
	}
	if got := graph.CommandCount(); got != 1 {
		t.Fatalf("CommandCount() = %d, want 1 (only the first matching rule should fire)", got)
	}
}

// TestCreateCommandsForFileMatchMoreRules tests that MatchMoreRules lets a
// later rule also match the same file.
func TestCreateCommandsForFileMatchMoreRules(t *testing.T) {
	repos := testRepos()
	index := fileindex.New(nil, repos, nil)
	rules := []model.Rule{
		{ID: 0, Name: "first", Inputs: []model.InputFilter{{Repo: 0, Pattern: "*.png"}}, OutputPaths: []string{"{Repo:Main}{Dir}{File}.a"}, MatchMoreRules: true},
		{ID: 1, Name: "second", Inputs: []model.InputFilter{{Repo: 0, Pattern: "*.png"}}, OutputPaths: []string{"{Repo:Main}{Dir}{File}.b"}},
	}
	graph := New(nil, index, repos, rules)

	fileID, err := index.GetOrAdd(0, `texture.png`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	if err := graph.CreateCommandsForFile(fileID); err != nil {
		t.Fatalf("CreateCommandsForFile returned error: %v", err)
	}
	if got := graph.CommandCount(); got != 2 {
		t.Errorf("CommandCount() = %d, want 2 (MatchMoreRules should let both fire)", got)
	}
}

// TestCreateCommandsForFileSkipsDirectories tests that a directory's
// FileID is never matched against the rule list.
func TestCreateCommandsForFileSkipsDirectories(t *testing.T) {
	repos := testRepos()
	index := fileindex.New(nil, repos, nil)
	rules := []model.Rule{
		{ID: 0, Name: "any", Inputs: []model.InputFilter{{Repo: 0, Pattern: "*"}}, OutputPaths: []string{"{Repo:Main}{Dir}{File}.out"}},
	}
	graph := New(nil, index, repos, rules)

	dirID, err := index.GetOrAdd(0, `assets`, model.FileTypeDirectory, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	if err := graph.CreateCommandsForFile(dirID); err != nil {
		t.Fatalf("CreateCommandsForFile returned error: %v", err)
	}
	if got := graph.CommandCount(); got != 0 {
		t.Errorf("CommandCount() = %d, want 0 (directories are never matched)", got)
	}
}

// TestCreateCommandsForFileNoOutputsIsError tests that a rule with neither
// an output-path template nor an AssetCooker-format dep-file is rejected
// when it matches (spec §4.6 step 3).
func TestCreateCommandsForFileNoOutputsIsError(t *testing.T) {
	repos := testRepos()
	index := fileindex.New(nil, repos, nil)
	rules := []model.Rule{
		{ID: 0, Name: "noop", Inputs: []model.InputFilter{{Repo: 0, Pattern: "*.png"}}},
	}
	graph := New(nil, index, repos, rules)

	fileID, err := index.GetOrAdd(0, `texture.png`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	if err := graph.CreateCommandsForFile(fileID); err == nil {
		t.Error("CreateCommandsForFile did not return an error for a rule with no outputs")
	}
}

// TestCreateCommandsForFileDepFileTracksFlag tests that a rule with an
// AssetCooker-format dep-file flags that dep-file's FileInfo.
func TestCreateCommandsForFileDepFileTracksFlag(t *testing.T) {
	repos := testRepos()
	index := fileindex.New(nil, repos, nil)
	rules := []model.Rule{
		{
			ID:   0,
			Name: "with-depfile",
			Inputs: []model.InputFilter{{Repo: 0, Pattern: "*.obj"}},
			DepFile: &model.DepFileSpec{
				PathTemplate: "{Repo:Main}{Dir}{File}.deps",
				Format:       model.DepFileFormatAssetCooker,
			},
		},
	}
	graph := New(nil, index, repos, rules)

	fileID, err := index.GetOrAdd(0, `model.obj`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	if err := graph.CreateCommandsForFile(fileID); err != nil {
		t.Fatalf("CreateCommandsForFile returned error: %v", err)
	}

	cmd := graph.Command(1)
	depFileID, ok := cmd.DepFileOutput()
	if !ok {
		t.Fatal("command has no dep-file output")
	}
	if !index.File(depFileID).Flags.Has(model.FileFlagIsDepFile) {
		t.Error("dep-file's FileInfo was not flagged FileFlagIsDepFile")
	}
}
