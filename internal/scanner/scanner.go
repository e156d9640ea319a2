// Package scanner implements InitialScanner from spec §4.4: a parallel
// directory walk that populates the FileIndex on first run (or for
// drives the cache didn't cover), followed by a journal sweep that
// backfills last_change_usn for everything the walk found.
package scanner

import (
	"sync"

	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/logging"
	"github.com/assetcooker/assetcooker/internal/model"
)

// Entry is one child returned by a directory enumeration.
type Entry struct {
	Name        string
	IsDirectory bool
	RefNumber   model.RefNumber
}

// dirSource abstracts opening a directory by reference number and
// reading its entries, the Windows-specific half of InitialScanner
// (spec §4.4's "open by RefNumber, use the extended-directory-info
// enumeration"), so the queue/busy-counter logic below can be tested
// without a real NTFS volume.
type dirSource interface {
	ListDirectory(drive string, ref model.RefNumber) ([]Entry, error)
}

// item is one directory queued for enumeration.
type item struct {
	repo model.RepoIndex
	id   model.FileID
}

// Scanner drives InitialScanner's directory queue across a fixed worker
// pool.
type Scanner struct {
	logger *logging.Logger
	index  *fileindex.Index
	source dirSource
	repos  []model.Repo

	mu    sync.Mutex
	cond  *sync.Cond
	queue []item
	// busy counts workers that have not yet seen an empty queue since
	// the last time work appeared; it starts at workers and only drops
	// to zero once every worker has simultaneously found nothing left
	// to do (spec §4.4's "busy-thread counter").
	busy int
}

// New constructs a Scanner over the given FileIndex and repo set.
func New(logger *logging.Logger, index *fileindex.Index, repos []model.Repo, source dirSource) *Scanner {
	s := &Scanner{
		logger: logger,
		index:  index,
		source: source,
		repos:  repos,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue adds a directory to the scan queue and wakes any worker
// waiting for work. DriveMonitor calls this for every directory it
// sees newly created after the initial walk has finished.
func (s *Scanner) Enqueue(repo model.RepoIndex, id model.FileID) {
	s.mu.Lock()
	s.queue = append(s.queue, item{repo, id})
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Run walks every repo's root directory with the given number of
// parallel workers (spec §4.4 says up to 4) and blocks until the queue
// has been fully drained.
func (s *Scanner) Run(workers int) {
	if workers < 1 {
		workers = 1
	}
	for _, r := range s.repos {
		s.queue = append(s.queue, item{r.Index, r.RootFileID})
	}
	s.busy = workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			s.worker()
		}()
	}
	wg.Wait()
}

// worker pops directories off the queue until every worker has
// simultaneously found the queue empty. Popping requeues any
// subdirectories the enumeration turns up, which is what lets a worker
// that went idle get woken back up by Broadcast.
func (s *Scanner) worker() {
	s.mu.Lock()
	for {
		for len(s.queue) == 0 {
			s.busy--
			if s.busy == 0 {
				s.cond.Broadcast()
				s.mu.Unlock()
				return
			}
			s.cond.Wait()
			if s.busy == 0 {
				s.mu.Unlock()
				return
			}
			s.busy++
		}
		last := len(s.queue) - 1
		next := s.queue[last]
		s.queue = s.queue[:last]
		s.mu.Unlock()

		s.scanDirectory(next)

		s.mu.Lock()
	}
}

// scanDirectory enumerates one directory's children, get_or_add'ing
// files and queueing subdirectories for further enumeration.
func (s *Scanner) scanDirectory(dir item) {
	drive := s.repos[dir.repo].Drive
	entries, err := s.source.ListDirectory(drive, s.index.File(dir.id).RefNumber)
	if err != nil {
		s.logger.Warnf("scanning directory %s: %v", dir.id, err)
		return
	}

	parentPath := s.index.File(dir.id).Path
	sep := "\\"
	for _, entry := range entries {
		relativePath := parentPath + sep + entry.Name
		if parentPath == "" {
			relativePath = entry.Name
		}

		fileType := model.FileTypeFile
		if entry.IsDirectory {
			fileType = model.FileTypeDirectory
		}
		id, err := s.index.GetOrAdd(dir.repo, relativePath, fileType, entry.RefNumber)
		if err != nil {
			s.logger.Warnf("scanning %s: %v", relativePath, err)
			continue
		}
		if entry.IsDirectory {
			s.Enqueue(dir.repo, id)
		}
	}
}
