// Package fileindex implements the FileIndex component from spec §4.2: the
// durable, case-insensitively-hashed identity of every file across
// restarts. It owns one append-only arena.Table[model.FileInfo] per repo
// plus the global PathHash and per-drive RefNumber lookup maps.
package fileindex

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/assetcooker/assetcooker/internal/arena"
	"github.com/assetcooker/assetcooker/internal/logging"
	"github.com/assetcooker/assetcooker/internal/model"
	"github.com/assetcooker/assetcooker/internal/pathhash"
)

// DirtyNotifier receives CommandIDs that need their dirty state
// recomputed as a side effect of file index mutations (new sighting,
// deletion, ref-number recycling). The dirty engine registers itself
// here; fileindex never computes dirtiness itself.
type DirtyNotifier interface {
	NotifyDirty(ids ...model.CommandID)
}

// Repo bundles one repo's append-only file table and string arena.
type Repo struct {
	Info   model.Repo
	Files  arena.Table[model.FileInfo]
	Strs   arena.Strings
}

// Index is the FileIndex: per-repo file tables plus the global lookup
// maps described in spec §4.2.
type Index struct {
	logger *logging.Logger

	mu    sync.Mutex // protects byPathHash and byRefNumber
	repos []*Repo

	byPathHash map[model.PathHash]model.FileID
	// byRefNumber is keyed per-drive, since RefNumbers are only unique
	// within a volume (spec §4.3/§9).
	byRefNumber map[string]map[model.RefNumber]model.FileID

	notifier DirtyNotifier
}

// New creates an empty FileIndex for the given repos (in declaration
// order; Info.Index must match each repo's position).
func New(logger *logging.Logger, repos []model.Repo, notifier DirtyNotifier) *Index {
	idx := &Index{
		logger:      logger,
		byPathHash:  make(map[model.PathHash]model.FileID),
		byRefNumber: make(map[string]map[model.RefNumber]model.FileID),
		notifier:    notifier,
	}
	idx.repos = make([]*Repo, len(repos))
	for i, r := range repos {
		idx.repos[i] = &Repo{Info: r}
		idx.byRefNumber[r.Drive] = map[model.RefNumber]model.FileID{}
	}
	return idx
}

// Repo returns the per-repo table for the given repo index.
func (idx *Index) Repo(repo model.RepoIndex) *Repo {
	return idx.repos[repo]
}

// File returns a copy of the FileInfo for id.
func (idx *Index) File(id model.FileID) model.FileInfo {
	return idx.repos[id.Repo()].Files.Get(id.Index())
}

// Update applies fn to the FileInfo for id under the owning repo table's
// lock.
func (idx *Index) Update(id model.FileID, fn func(*model.FileInfo)) {
	idx.repos[id.Repo()].Files.Update(id.Index(), fn)
}

// Lookup returns the FileID for an absolute path's hash, if known.
func (idx *Index) Lookup(hash model.PathHash) (model.FileID, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id, ok := idx.byPathHash[hash]
	return id, ok
}

// LookupByRefNumber returns the FileID currently holding ref on the given
// drive, if any. DriveMonitor uses this to recognize a delete/rename-away
// journal record for a file whose path can no longer be recovered by
// opening its reference number (spec §4.3: "if the file is known,
// cascade-delete").
func (idx *Index) LookupByRefNumber(drive string, ref model.RefNumber) (model.FileID, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id, ok := idx.byRefNumber[drive][ref]
	return id, ok
}

// Restore directly installs a FileInfo loaded from cache.bin (spec
// §4.10), bypassing GetOrAdd's collision handling since a freshly
// restored index starts empty: every path and ref number is distinct by
// construction. Used only during startup, before any journal record has
// been processed for the owning drive.
func (idx *Index) Restore(repo model.RepoIndex, relativePath string, fileType model.FileType, ref model.RefNumber, creationTime, changeTime time.Time, changeUSN int64) model.FileID {
	r := idx.repos[repo]
	absolute := r.Info.Root + relativePath
	hash := pathhash.Hash(absolute)

	interned := r.Strs.Intern(relativePath)
	nameStart, extStart := splitNameExt(interned)
	index := r.Files.Append(model.FileInfo{
		Path:         interned,
		Hash:         hash,
		NameStart:    nameStart,
		ExtStart:     extStart,
		Type:         fileType,
		RefNumber:    ref,
		CreationTime: creationTime,
		ChangeTime:   changeTime,
		ChangeUSN:    changeUSN,
	})
	id := model.NewFileID(repo, index)
	r.Files.Update(index, func(f *model.FileInfo) { f.ID = id })

	idx.mu.Lock()
	idx.byPathHash[hash] = id
	if ref.IsValid() {
		idx.byRefNumber[r.Info.Drive][ref] = id
	}
	idx.mu.Unlock()

	return id
}

func splitNameExt(relPath string) (nameStart, extStart int) {
	nameStart = strings.LastIndexAny(relPath, `/\`) + 1
	dot := strings.LastIndexByte(relPath[nameStart:], '.')
	if dot <= 0 {
		return nameStart, len(relPath)
	}
	return nameStart, nameStart + dot
}

// GetOrAdd implements spec §4.2's get_or_add: look up or create the
// FileInfo for relativePath within repo, updating its RefNumber and
// flagging any ref-number collision or type mismatch.
func (idx *Index) GetOrAdd(repo model.RepoIndex, relativePath string, fileType model.FileType, ref model.RefNumber) (model.FileID, error) {
	r := idx.repos[repo]
	absolute := r.Info.Root + relativePath
	hash := pathhash.Hash(absolute)

	idx.mu.Lock()
	id, existed := idx.byPathHash[hash]
	var index int
	if !existed {
		interned := r.Strs.Intern(relativePath)
		nameStart, extStart := splitNameExt(interned)
		index = r.Files.Append(model.FileInfo{
			Path:      interned,
			Hash:      hash,
			NameStart: nameStart,
			ExtStart:  extStart,
			Type:      fileType,
		})
		id = model.NewFileID(repo, index)
		idx.byPathHash[hash] = id
		r.Files.Update(index, func(f *model.FileInfo) { f.ID = id })
	}
	idx.mu.Unlock()

	if existed {
		existing := r.Files.Get(id.Index())
		if existing.Type != fileType {
			return model.InvalidFileID, fmt.Errorf("type change for %q: was %s, now %s", absolute, existing.Type, fileType)
		}
	}

	idx.setRefNumber(r.Info.Drive, id, ref)
	return id, nil
}

// setRefNumber installs ref as the current RefNumber for id, evicting and
// marking deleted whatever other FileID previously held that ref number on
// the same drive (spec §4.2 step (d)).
func (idx *Index) setRefNumber(drive string, id model.FileID, ref model.RefNumber) {
	idx.mu.Lock()
	refMap := idx.byRefNumber[drive]
	if prior, ok := refMap[ref]; ok && ref.IsValid() && prior != id {
		idx.logger.Warnf("ref number collision on drive %s: reassigning from %s to %s", drive, prior, id)
		idx.markDeletedLocked(prior, nil)
	}
	repo := idx.repos[id.Repo()]
	current := repo.Files.Get(id.Index())
	if current.RefNumber.IsValid() && current.RefNumber != ref {
		idx.logger.Warnf("file %s recreated with a new reference number", id)
		delete(refMap, current.RefNumber)
	}
	if ref.IsValid() {
		refMap[ref] = id
	}
	idx.mu.Unlock()

	repo.Files.Update(id.Index(), func(f *model.FileInfo) {
		f.RefNumber = ref
	})
}

// MarkDeleted implements spec §4.2's mark_deleted, including the
// directory-deletion cascade.
func (idx *Index) MarkDeleted(id model.FileID, timestampUnixNano int64) {
	idx.mu.Lock()
	idx.markDeletedLocked(id, &timestampUnixNano)
	idx.mu.Unlock()
}

// markDeletedLocked must be called with idx.mu held. ts may be nil to mean
// "leave the creation-time slot alone" (used for the ref-collision path,
// where we don't have a meaningful timestamp).
func (idx *Index) markDeletedLocked(id model.FileID, ts *int64) {
	repo := idx.repos[id.Repo()]
	info := repo.Files.Get(id.Index())
	if info.IsDeleted() {
		return
	}
	if info.RefNumber.IsValid() {
		delete(idx.byRefNumber[repo.Info.Drive], info.RefNumber)
	}

	var dirtied []model.CommandID
	repo.Files.Update(id.Index(), func(f *model.FileInfo) {
		f.RefNumber = model.InvalidRefNumber
		if ts != nil {
			f.CreationTime = unixNanoTime(*ts)
		}
		f.ChangeTime = zeroTime
		f.ChangeUSN = 0
		dirtied = append(dirtied, f.InputOf...)
		dirtied = append(dirtied, f.OutputOf...)
	})

	if info.Type == model.FileTypeDirectory {
		prefix := info.Path + dirSeparatorFor(info.Path)
		var toDelete []model.FileID
		repo.Files.Each(func(index int, other *model.FileInfo) {
			if !other.IsDeleted() && other.ID != id && strings.HasPrefix(other.Path, prefix) {
				toDelete = append(toDelete, other.ID)
			}
		})
		for _, child := range toDelete {
			idx.markDeletedLocked(child, ts)
		}
	}

	if idx.notifier != nil && len(dirtied) > 0 {
		idx.notifier.NotifyDirty(dirtied...)
	}
}

func dirSeparatorFor(path string) string {
	if strings.ContainsRune(path, '\\') {
		return `\`
	}
	return "/"
}

// AppendInputOf records id as a static input for command. A command the
// file already lists is not added a second time.
func (r *Repo) AppendInputOf(id model.FileID, command model.CommandID) {
	r.Files.Update(id.Index(), func(f *model.FileInfo) {
		for _, existing := range f.InputOf {
			if existing == command {
				return
			}
		}
		f.InputOf = append(f.InputOf, command)
	})
}

// AppendOutputOf records id as a static output for command. Per
// SPEC_FULL.md §13(b), a file gaining a second output-of entry is a hard
// error.
func (r *Repo) AppendOutputOf(id model.FileID, command model.CommandID) error {
	var err error
	r.Files.Update(id.Index(), func(f *model.FileInfo) {
		if len(f.OutputOf) > 0 && f.OutputOf[0] != command {
			err = fmt.Errorf("file %s is already the output of command %s", id, f.OutputOf[0])
			return
		}
		if len(f.OutputOf) == 0 {
			f.OutputOf = append(f.OutputOf, command)
		}
	})
	return err
}

// RemoveInputOf removes command from id's input_of list, used when a
// dynamic (dep-file) input stops being reported (spec §4.5's "applying a
// dep-file result" reconciliation).
func (r *Repo) RemoveInputOf(id model.FileID, command model.CommandID) {
	r.Files.Update(id.Index(), func(f *model.FileInfo) {
		for i, existing := range f.InputOf {
			if existing == command {
				f.InputOf = append(f.InputOf[:i], f.InputOf[i+1:]...)
				return
			}
		}
	})
}

// RemoveOutputOf removes command from id's output_of list, used when a
// dynamic (dep-file) output stops being reported.
func (r *Repo) RemoveOutputOf(id model.FileID, command model.CommandID) {
	r.Files.Update(id.Index(), func(f *model.FileInfo) {
		for i, existing := range f.OutputOf {
			if existing == command {
				f.OutputOf = append(f.OutputOf[:i], f.OutputOf[i+1:]...)
				return
			}
		}
	})
}
