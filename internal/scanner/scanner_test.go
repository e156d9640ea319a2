package scanner

import (
	"fmt"
	"sync"
	"testing"

	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/model"
)

func testRepos() []model.Repo {
	return []model.Repo{{Index: 0, Name: "Main", Root: `C:\Repo\`, Drive: "C", RootFileID: model.FileID(0)}}
}

// fakeDirSource serves a fixed tree keyed by RefNumber, simulating the
// Windows directory-enumeration half of InitialScanner.
type fakeDirSource struct {
	mu       sync.Mutex
	children map[model.RefNumber][]Entry
	calls    int
}

func (f *fakeDirSource) ListDirectory(drive string, ref model.RefNumber) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.children[ref], nil
}

func newIndexWithRoot(repos []model.Repo) (*fileindex.Index, model.FileID) {
	index := fileindex.New(nil, repos, nil)
	rootID, err := index.GetOrAdd(0, "", model.FileTypeDirectory, model.RefNumber{High: 1, Low: 0})
	if err != nil {
		panic(err)
	}
	repos[0].RootFileID = rootID
	return index, rootID
}

// TestRunWalksNestedDirectories tests that Run enumerates the root,
// queues any discovered subdirectory, and get_or_adds every file and
// directory it encounters, regardless of worker count.
func TestRunWalksNestedDirectories(t *testing.T) {
	repos := testRepos()
	index, rootID := newIndexWithRoot(repos)
	repos[0].RootFileID = rootID

	rootRef := model.RefNumber{High: 1, Low: 0}
	dirRef := model.RefNumber{High: 1, Low: 1}
	source := &fakeDirSource{children: map[model.RefNumber][]Entry{
		rootRef: {
			{Name: "sub", IsDirectory: true, RefNumber: dirRef},
			{Name: "a.txt", RefNumber: model.RefNumber{High: 1, Low: 2}},
		},
		dirRef: {
			{Name: "b.txt", RefNumber: model.RefNumber{High: 1, Low: 3}},
		},
	}}

	s := New(nil, index, repos, source)
	s.Run(2)

	if _, ok := index.Lookup(pathHashFor(repos, `sub`)); !ok {
		t.Error("subdirectory was not added to the index")
	}
	if _, ok := index.Lookup(pathHashFor(repos, `a.txt`)); !ok {
		t.Error("root file was not added to the index")
	}
	if _, ok := index.Lookup(pathHashFor(repos, `sub\b.txt`)); !ok {
		t.Error("nested file was not added to the index")
	}
}

// TestRunTerminatesWithSingleWorker tests that the busy-counter protocol
// correctly terminates Run even with only one worker (no deadlock
// waiting for a broadcast that never comes).
func TestRunTerminatesWithSingleWorker(t *testing.T) {
	repos := testRepos()
	index, rootID := newIndexWithRoot(repos)
	repos[0].RootFileID = rootID
	source := &fakeDirSource{children: map[model.RefNumber][]Entry{}}

	done := make(chan struct{})
	s := New(nil, index, repos, source)
	go func() {
		s.Run(1)
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done
}

// TestEnqueueBeforeRunIsScanned tests that a directory enqueued before
// Run starts is scanned along with the repo roots.
func TestEnqueueBeforeRunIsScanned(t *testing.T) {
	repos := testRepos()
	index, rootID := newIndexWithRoot(repos)
	repos[0].RootFileID = rootID

	lateRef := model.RefNumber{High: 1, Low: 9}
	lateID, err := index.GetOrAdd(0, "late", model.FileTypeDirectory, lateRef)
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}

	source := &fakeDirSource{children: map[model.RefNumber][]Entry{
		lateRef: {{Name: "c.txt", RefNumber: model.RefNumber{High: 1, Low: 10}}},
	}}
	s := New(nil, index, repos, source)
	s.Enqueue(0, lateID)
	s.Run(2)

	if _, ok := index.Lookup(pathHashFor(repos, `late\c.txt`)); !ok {
		t.Error("file under a pre-enqueued directory was not scanned")
	}
}

// TestBackfillChangeUSNsAssignsFromRangeSweep tests that entries from the
// journal range sweep set ChangeUSN on the matching files.
func TestBackfillChangeUSNsAssignsFromRangeSweep(t *testing.T) {
	repos := testRepos()
	index, rootID := newIndexWithRoot(repos)
	repos[0].RootFileID = rootID
	ref := model.RefNumber{High: 1, Low: 5}
	id, err := index.GetOrAdd(0, "a.txt", model.FileTypeFile, ref)
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}

	drive := model.Drive{Letter: "C", FirstUSN: 0, NextUSN: 100, Repos: []model.RepoIndex{0}}
	source := &fakeJournalSource{
		rangeEntries: []JournalEntry{{RefNumber: ref, USN: 42}},
	}

	s := New(nil, index, repos, &fakeDirSource{})
	s.BackfillChangeUSNs(drive, source, 2)

	if got := index.File(id).ChangeUSN; got != 42 {
		t.Errorf("ChangeUSN = %d, want 42", got)
	}
	if source.singleCalls != 0 {
		t.Errorf("singleCalls = %d, want 0 (range sweep already covered the file)", source.singleCalls)
	}
}

// TestBackfillUntouchedQueriesFilesMissedBySweep tests that a file the
// range sweep didn't mention gets an individual single-file USN read.
func TestBackfillUntouchedQueriesFilesMissedBySweep(t *testing.T) {
	repos := testRepos()
	index, rootID := newIndexWithRoot(repos)
	repos[0].RootFileID = rootID
	ref := model.RefNumber{High: 1, Low: 7}
	id, err := index.GetOrAdd(0, "b.txt", model.FileTypeFile, ref)
	if err != nil {
		t.Fatalf("GetOrAdd returned error: %v", err)
	}

	drive := model.Drive{Letter: "C", FirstUSN: 0, NextUSN: 100, Repos: []model.RepoIndex{0}}
	source := &fakeJournalSource{
		singleResult: JournalEntry{USN: 99},
	}

	s := New(nil, index, repos, &fakeDirSource{})
	s.BackfillChangeUSNs(drive, source, 2)

	if got := index.File(id).ChangeUSN; got != 99 {
		t.Errorf("ChangeUSN = %d, want 99 (from the single-file backfill)", got)
	}
	if source.singleCalls != 1 {
		t.Errorf("singleCalls = %d, want 1", source.singleCalls)
	}
}

type fakeJournalSource struct {
	mu           sync.Mutex
	rangeEntries []JournalEntry
	singleResult JournalEntry
	singleCalls  int
}

func (f *fakeJournalSource) ReadRange(drive string, firstUSN, nextUSN int64) ([]JournalEntry, error) {
	return f.rangeEntries, nil
}

func (f *fakeJournalSource) ReadSingleFileUSN(drive string, ref model.RefNumber) (JournalEntry, error) {
	f.mu.Lock()
	f.singleCalls++
	f.mu.Unlock()
	return f.singleResult, nil
}

func pathHashFor(repos []model.Repo, relativePath string) model.PathHash {
	idx := fileindex.New(nil, repos, nil)
	id, err := idx.GetOrAdd(0, relativePath, model.FileTypeFile, model.RefNumber{})
	if err != nil {
		panic(fmt.Sprintf("pathHashFor(%q): %v", relativePath, err))
	}
	return idx.File(id).Hash
}
