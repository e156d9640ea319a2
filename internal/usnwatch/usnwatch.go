// Package usnwatch implements DriveMonitor from spec §4.3: per-drive USN
// journal tailing that keeps the FileIndex current and queues dirty
// recomputations and InitialScanner directory work as changes arrive.
package usnwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/logging"
	"github.com/assetcooker/assetcooker/internal/model"
)

// Journal record reason bits, per spec §4.3's reason mask
// (FILE_CREATE, FILE_DELETE, DATA_OVERWRITE, DATA_EXTEND, DATA_TRUNCATION,
// RENAME_NEW_NAME, CLOSE).
const (
	ReasonFileCreate     uint32 = 0x00000100
	ReasonFileDelete     uint32 = 0x00000200
	ReasonDataOverwrite  uint32 = 0x00000001
	ReasonDataExtend     uint32 = 0x00000002
	ReasonDataTruncation uint32 = 0x00000004
	ReasonRenameNewName  uint32 = 0x00002000
	ReasonClose          uint32 = 0x80000000

	// ReasonMask is the full mask DriveMonitor reads the journal with.
	ReasonMask = ReasonFileCreate | ReasonFileDelete | ReasonDataOverwrite |
		ReasonDataExtend | ReasonDataTruncation | ReasonRenameNewName | ReasonClose
)

// JournalRecord is one parsed USN journal entry.
type JournalRecord struct {
	RefNumber model.RefNumber
	Reason    uint32
	USN       int64
	Timestamp int64 // UnixNano
}

// ErrSharingViolation and ErrNotFound classify the two expected failure
// modes of resolving a reference number to a path (spec §4.3): a
// sharing violation is retried, a not-found (the file is already gone by
// the time we looked) is simply dropped.
var (
	ErrSharingViolation = errors.New("sharing violation")
	ErrNotFound         = errors.New("file not found")
)

// IsDroppableResolveError reports whether err is one of the
// "access denied"/"invalid parameter"/"cannot access file" failures spec
// §4.3 says to drop silently, as opposed to treating as fatal.
func IsDroppableResolveError(err error) bool {
	var classified *dropableError
	return errors.As(err, &classified)
}

type dropableError struct{ inner error }

func (d *dropableError) Error() string { return d.inner.Error() }
func (d *dropableError) Unwrap() error { return d.inner }

// Droppable wraps err so IsDroppableResolveError recognizes it.
func Droppable(err error) error { return &dropableError{inner: err} }

// ResolvedFile is what ResolvePath recovers for a reference number.
type ResolvedFile struct {
	AbsolutePath string
	IsDirectory  bool
}

// usnSource abstracts the volume-level operations DriveMonitor needs, so
// the reconciliation logic below can be exercised without a real NTFS
// volume (spec §10.4's `usnSource` test seam).
type usnSource interface {
	QueryJournal() (journalID uint64, firstUSN, nextUSN int64, err error)
	ReadJournal(startUSN int64) (records []JournalRecord, nextUSN int64, err error)
	ResolvePath(ref model.RefNumber) (ResolvedFile, error)
	Close() error
}

// retryDelay is the fixed (not exponential) backoff spec §4.3 mandates
// for a sharing-violation retry.
const retryDelay = 300 * time.Millisecond

// idlePollInterval is how often Run polls the journal once it has caught
// up and the next read returned no new data.
const idlePollInterval = 250 * time.Millisecond

// Monitor is one drive's DriveMonitor instance.
type Monitor struct {
	logger *logging.Logger
	index  *fileindex.Index
	repos  []model.Repo
	drive  model.Drive
	source usnSource

	// onNewDirectory is called for every directory newly get_or_add'd so
	// InitialScanner can enumerate its children (spec §4.3's "push it to
	// the InitialScanner's queue").
	onNewDirectory func(model.FileID)
	// kick, if non-nil, is used by Kick to wake a Run loop that's
	// currently sleeping in its idle poll.
	kick chan struct{}

	initialStateDone atomic.Bool
}

// New constructs a Monitor for one drive.
func New(logger *logging.Logger, index *fileindex.Index, repos []model.Repo, drive model.Drive, source usnSource, onNewDirectory func(model.FileID)) *Monitor {
	return &Monitor{
		logger:         logger,
		index:          index,
		repos:          repos,
		drive:          drive,
		source:         source,
		onNewDirectory: onNewDirectory,
		kick:           make(chan struct{}, 1),
	}
}

// IsIdle reports whether the monitor has finished its initial
// catch-up/cache-reconciliation pass (one half of the system-wide idle
// definition in spec §4.8).
func (m *Monitor) IsIdle() bool {
	return m.initialStateDone.Load()
}

// Kick nudges a sleeping Run loop to poll immediately, used by
// CommandRunner after a successful cook to see the new outputs sooner.
func (m *Monitor) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run tails the journal from drive.NextUSN until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	nextUSN := m.drive.NextUSN
	pendingRetries := map[model.RefNumber]time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		records, advanced, err := m.source.ReadJournal(nextUSN)
		if err != nil {
			return fmt.Errorf("reading USN journal for drive %s: %w", m.drive.Letter, err)
		}

		if advanced == nextUSN && len(records) == 0 {
			m.initialStateDone.Store(true)
			if !m.sleep(ctx, idlePollInterval) {
				return ctx.Err()
			}
			continue
		}
		nextUSN = advanced

		for _, rec := range records {
			m.apply(rec, pendingRetries)
		}
	}
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-m.kick:
		return true
	case <-ctx.Done():
		return false
	}
}

// apply processes one journal record per spec §4.3.
func (m *Monitor) apply(rec JournalRecord, pendingRetries map[model.RefNumber]time.Time) {
	if rec.Reason&ReasonFileDelete != 0 && rec.Reason&ReasonFileCreate != 0 {
		return // transient create-then-delete within the same batch
	}

	if rec.Reason&(ReasonFileDelete|ReasonRenameNewName) != 0 {
		if id, ok := m.index.LookupByRefNumber(m.drive.Letter, rec.RefNumber); ok {
			m.index.MarkDeleted(id, rec.Timestamp)
			return
		}
	}

	if rec.Reason&(ReasonFileCreate|ReasonRenameNewName) != 0 {
		m.resolveAndAdd(rec, pendingRetries)
		return
	}

	// Otherwise it's a modification of an already-known file.
	resolved, err := m.source.ResolvePath(rec.RefNumber)
	if err != nil {
		m.handleResolveError(rec, err, pendingRetries)
		return
	}
	repo, relativePath, ok := m.repoFor(resolved.AbsolutePath)
	if !ok {
		return
	}
	fileType := model.FileTypeFile
	if resolved.IsDirectory {
		fileType = model.FileTypeDirectory
	}
	id, err := m.index.GetOrAdd(repo, relativePath, fileType, rec.RefNumber)
	if err != nil {
		m.logger.Warnf("drive %s: %v", m.drive.Letter, err)
		return
	}
	m.index.Update(id, func(f *model.FileInfo) {
		f.ChangeUSN = rec.USN
		f.ChangeTime = unixNanoTime(rec.Timestamp)
	})
}

func (m *Monitor) resolveAndAdd(rec JournalRecord, pendingRetries map[model.RefNumber]time.Time) {
	if until, retrying := pendingRetries[rec.RefNumber]; retrying && time.Now().Before(until) {
		return
	}
	resolved, err := m.source.ResolvePath(rec.RefNumber)
	if err != nil {
		m.handleResolveError(rec, err, pendingRetries)
		return
	}
	delete(pendingRetries, rec.RefNumber)

	repo, relativePath, ok := m.repoFor(resolved.AbsolutePath)
	if !ok {
		return
	}
	fileType := model.FileTypeFile
	if resolved.IsDirectory {
		fileType = model.FileTypeDirectory
	}
	id, err := m.index.GetOrAdd(repo, relativePath, fileType, rec.RefNumber)
	if err != nil {
		m.logger.Warnf("drive %s: %v", m.drive.Letter, err)
		return
	}
	if resolved.IsDirectory {
		if m.onNewDirectory != nil {
			m.onNewDirectory(id)
		}
		return
	}
	m.index.Update(id, func(f *model.FileInfo) {
		f.ChangeUSN = rec.USN
		f.ChangeTime = unixNanoTime(rec.Timestamp)
	})
}

// handleResolveError implements spec §4.3's classification of failures
// opening a file by reference number: sharing violation reschedules a
// fixed-delay retry, not-found is silently dropped, droppable errors
// (access denied etc.) are silently dropped, anything else is fatal.
func (m *Monitor) handleResolveError(rec JournalRecord, err error, pendingRetries map[model.RefNumber]time.Time) {
	switch {
	case errors.Is(err, ErrSharingViolation):
		pendingRetries[rec.RefNumber] = time.Now().Add(retryDelay)
	case errors.Is(err, ErrNotFound):
	case IsDroppableResolveError(err):
	default:
		m.logger.Errorf("drive %s: fatal error resolving reference number: %v", m.drive.Letter, err)
	}
}

func unixNanoTime(nanos int64) time.Time {
	return time.Unix(0, nanos)
}

// repoFor finds the repo hosting absolutePath and returns the
// repo-relative path, using simple case-insensitive prefix matching
// against each repo's root.
func (m *Monitor) repoFor(absolutePath string) (model.RepoIndex, string, bool) {
	for _, r := range m.repos {
		if r.Drive != m.drive.Letter {
			continue
		}
		if len(absolutePath) > len(r.Root) && strings.EqualFold(absolutePath[:len(r.Root)], r.Root) {
			return r.Index, absolutePath[len(r.Root):], true
		}
	}
	return 0, "", false
}
