package scanner

import (
	"sync"

	"github.com/assetcooker/assetcooker/internal/model"
)

// JournalEntry is one record from a drive's USN journal, stripped down to
// what backfill needs: which file it's about, and when.
type JournalEntry struct {
	RefNumber model.RefNumber
	USN       int64
	Timestamp int64 // UnixNano
}

// journalSource abstracts the two USN reads spec §4.4's second phase
// needs: one end-to-end sweep of a drive's journal, and a per-file
// single-record read for whatever the sweep didn't cover.
type journalSource interface {
	ReadRange(drive string, firstUSN, nextUSN int64) ([]JournalEntry, error)
	ReadSingleFileUSN(drive string, ref model.RefNumber) (JournalEntry, error)
}

// BackfillChangeUSNs implements spec §4.4's second phase: after the
// directory walk, read drive's journal from firstUSN to nextUSN once,
// assigning last_change_usn to every file it mentions, then individually
// query whatever file still has none (never touched since the journal
// started), capped at maxWorkers concurrent per-file reads.
func (s *Scanner) BackfillChangeUSNs(drive model.Drive, source journalSource, maxWorkers int) {
	entries, err := source.ReadRange(drive.Letter, drive.FirstUSN, drive.NextUSN)
	if err != nil {
		s.logger.Warnf("sweeping journal for drive %s: %v", drive.Letter, err)
	}
	for _, e := range entries {
		id, ok := s.index.LookupByRefNumber(drive.Letter, e.RefNumber)
		if !ok {
			continue
		}
		s.index.Update(id, func(f *model.FileInfo) {
			f.ChangeUSN = e.USN
			f.ChangeTime = unixNanoTime(e.Timestamp)
		})
	}

	s.backfillUntouched(drive, source, maxWorkers)
}

// backfillUntouched reads a single USN record per file still missing a
// last_change_usn, fanning the reads out across maxWorkers goroutines
// (spec §4.4: "capped parallelism, ~4 threads").
func (s *Scanner) backfillUntouched(drive model.Drive, source journalSource, maxWorkers int) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var pending []model.FileID
	for _, repoIndex := range drive.Repos {
		repo := s.index.Repo(repoIndex)
		repo.Files.Each(func(_ int, f *model.FileInfo) {
			if !f.IsDeleted() && f.Type != model.FileTypeDirectory && f.ChangeUSN == 0 {
				pending = append(pending, f.ID)
			}
		})
	}

	work := make(chan model.FileID)
	var wg sync.WaitGroup
	wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go func() {
			defer wg.Done()
			for id := range work {
				s.backfillOne(drive.Letter, id, source)
			}
		}()
	}
	for _, id := range pending {
		work <- id
	}
	close(work)
	wg.Wait()
}

func (s *Scanner) backfillOne(drive string, id model.FileID, source journalSource) {
	ref := s.index.File(id).RefNumber
	if !ref.IsValid() {
		return
	}
	entry, err := source.ReadSingleFileUSN(drive, ref)
	if err != nil {
		s.logger.Warnf("reading USN for %s: %v", id, err)
		return
	}
	s.index.Update(id, func(f *model.FileInfo) {
		f.ChangeUSN = entry.USN
		f.ChangeTime = unixNanoTime(entry.Timestamp)
	})
}
