package fileindex

import (
	"testing"

	"github.com/assetcooker/assetcooker/internal/model"
)

func testRepos() []model.Repo {
	return []model.Repo{
		{Index: 0, Name: "Main", Root: `C:\Repo\`, Drive: "C"},
	}
}

type recordingNotifier struct {
	dirtied []model.CommandID
}

func (r *recordingNotifier) NotifyDirty(ids ...model.CommandID) {
	r.dirtied = append(r.dirtied, ids...)
}

// TestGetOrAddCreatesThenReuses tests that GetOrAdd creates a new FileID on
// first sighting and returns the same id for the same path afterward.
func TestGetOrAddCreatesThenReuses(t *testing.T) {
	idx := New(nil, testRepos(), nil)
	ref := model.RefNumber{High: 1, Low: 1}

	first, err := idx.GetOrAdd(0, `assets\texture.png`, model.FileTypeFile, ref)
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	if !first.IsValid() {
		t.Fatal("GetOrAdd returned an invalid FileID")
	}

	second, err := idx.GetOrAdd(0, `assets\texture.png`, model.FileTypeFile, ref)
	if err != nil {
		t.Fatalf("second GetOrAdd returned error: %v", err)
	}
	if second != first {
		t.Errorf("second GetOrAdd returned %v, want the same id %v", second, first)
	}
	if idx.Repo(0).Files.Len() != 1 {
		t.Errorf("Files.Len() = %d, want 1 (no duplicate created)", idx.Repo(0).Files.Len())
	}
}

// TestGetOrAddTypeMismatch tests that re-sighting an existing path with a
// different FileType is rejected rather than silently changing the entry.
func TestGetOrAddTypeMismatch(t *testing.T) {
	idx := New(nil, testRepos(), nil)
	ref := model.RefNumber{High: 1, Low: 1}
	if _, err := idx.GetOrAdd(0, `assets\texture.png`, model.FileTypeFile, ref); err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	if _, err := idx.GetOrAdd(0, `assets\texture.png`, model.FileTypeDirectory, ref); err == nil {
		t.Error("GetOrAdd with a changed FileType did not return an error")
	}
}

// TestLookupByPathHash tests that Lookup finds a file by the PathHash of
// its absolute path after it has been added.
func TestLookupByPathHash(t *testing.T) {
	idx := New(nil, testRepos(), nil)
	id, err := idx.GetOrAdd(0, `a.txt`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	info := idx.File(id)
	got, ok := idx.Lookup(info.Hash)
	if !ok || got != id {
		t.Errorf("Lookup(hash) = (%v, %t), want (%v, true)", got, ok, id)
	}
}

// TestRefNumberCollisionMarksPriorDeleted tests spec §4.2 step (d): when a
// ref number is reassigned to a new FileID, the file that previously held
// it is marked deleted.
func TestRefNumberCollisionMarksPriorDeleted(t *testing.T) {
	idx := New(nil, testRepos(), nil)
	ref := model.RefNumber{High: 1, Low: 1}

	first, err := idx.GetOrAdd(0, `a.txt`, model.FileTypeFile, ref)
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	second, err := idx.GetOrAdd(0, `b.txt`, model.FileTypeFile, ref)
	if err != nil {
		t.Fatalf("second GetOrAdd returned error: %v", err)
	}

	firstInfo := idx.File(first)
	if !firstInfo.IsDeleted() {
		t.Error("prior FileID holding a reassigned ref number was not marked deleted")
	}
	gotSecond, ok := idx.LookupByRefNumber("C", ref)
	if !ok || gotSecond != second {
		t.Errorf("LookupByRefNumber = (%v, %t), want (%v, true)", gotSecond, ok, second)
	}
}

// TestMarkDeletedCascadesToChildren tests that deleting a directory also
// marks every file under it deleted and notifies the dirty engine for
// every input_of/output_of command on an affected file.
func TestMarkDeletedCascadesToChildren(t *testing.T) {
	notifier := &recordingNotifier{}
	idx := New(nil, testRepos(), notifier)

	// The directory's own relative path must contain a separator for
	// dirSeparatorFor's heuristic to pick backslash, matching how a real
	// nested directory's path looks; a bare repo-root-level name like
	// "assets" has no separator to sniff.
	dir, err := idx.GetOrAdd(0, `assets\sub`, model.FileTypeDirectory, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd(dir) returned error: %v", err)
	}
	child, err := idx.GetOrAdd(0, `assets\sub\a.txt`, model.FileTypeFile, model.RefNumber{High: 2})
	if err != nil {
		t.Fatalf("GetOrAdd(child) returned error: %v", err)
	}
	idx.Repo(0).AppendInputOf(child, model.CommandID(7))

	idx.MarkDeleted(dir, 123)

	if !idx.File(dir).IsDeleted() {
		t.Error("directory itself was not marked deleted")
	}
	if !idx.File(child).IsDeleted() {
		t.Error("child file was not cascade-deleted")
	}
	found := false
	for _, id := range notifier.dirtied {
		if id == 7 {
			found = true
		}
	}
	if !found {
		t.Errorf("dirty notification for command 7 was not sent, got %v", notifier.dirtied)
	}
}

// TestAppendOutputOfRejectsSecondCommand tests SPEC_FULL.md §13(b): a file
// gaining a second distinct output_of entry is a hard error, not a
// silently-ignored duplicate.
func TestAppendOutputOfRejectsSecondCommand(t *testing.T) {
	idx := New(nil, testRepos(), nil)
	id, err := idx.GetOrAdd(0, `out.bin`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	repo := idx.Repo(0)
	if err := repo.AppendOutputOf(id, 1); err != nil {
		t.Fatalf("first AppendOutputOf returned error: %v", err)
	}
	if err := repo.AppendOutputOf(id, 1); err != nil {
		t.Errorf("re-appending the same command returned an error: %v", err)
	}
	if err := repo.AppendOutputOf(id, 2); err == nil {
		t.Error("appending a second distinct command as output_of did not return an error")
	}
}

// TestAppendInputOfDeduplicates tests that AppendInputOf does not record
// the same command twice.
func TestAppendInputOfDeduplicates(t *testing.T) {
	idx := New(nil, testRepos(), nil)
	id, err := idx.GetOrAdd(0, `in.bin`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	repo := idx.Repo(0)
	repo.AppendInputOf(id, 3)
	repo.AppendInputOf(id, 3)
	if got := len(idx.File(id).InputOf); got != 1 {
		t.Errorf("InputOf has %d entries, want 1", got)
	}
}

// TestRemoveInputOf tests that RemoveInputOf drops exactly the named
// command from the list.
func TestRemoveInputOf(t *testing.T) {
	idx := New(nil, testRepos(), nil)
	id, err := idx.GetOrAdd(0, `in.bin`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	repo := idx.Repo(0)
	repo.AppendInputOf(id, 1)
	repo.AppendInputOf(id, 2)
	repo.RemoveInputOf(id, 1)
	got := idx.File(id).InputOf
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("InputOf = %v, want [2]", got)
	}
}

// TestFileInfoNameDirExt tests the path-slicing helpers against a nested
// path.
func TestFileInfoNameDirExt(t *testing.T) {
	idx := New(nil, testRepos(), nil)
	id, err := idx.GetOrAdd(0, `assets\sub\texture.png`, model.FileTypeFile, model.RefNumber{High: 1})
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}
	info := idx.File(id)
	if got := info.Name(); got != "texture.png" {
		t.Errorf("Name() = %q, want \"texture.png\"", got)
	}
	if got := info.Dir(); got != `assets\sub\` {
		t.Errorf("Dir() = %q, want %q", got, `assets\sub\`)
	}
	if got := info.Ext(); got != ".png" {
		t.Errorf("Ext() = %q, want \".png\"", got)
	}
}
