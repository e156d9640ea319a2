package model

// Repo is a named root directory under watch.
type Repo struct {
	// Index is this repo's stable 0..<MaxRepos identifier.
	Index RepoIndex
	// Name is the repo's display name, used in {Repo:Name} template
	// substitutions.
	Name string
	// Root is the absolute path to the repo's root directory, ending in
	// the platform separator.
	Root string
	// Drive is the letter of the drive this repo lives on (e.g. "C").
	Drive string
	// RootFileID is the FileID of the root directory's own FileInfo.
	RootFileID FileID
}

// Drive corresponds to one NTFS volume.
type Drive struct {
	// Letter is the drive letter, e.g. "C".
	Letter string
	// JournalID is the USN journal identifier returned by
	// FSCTL_QUERY_USN_JOURNAL.
	JournalID uint64
	// FirstUSN is the lowest USN the journal guarantees to retain.
	FirstUSN int64
	// NextUSN is the USN from which the next journal read should start.
	NextUSN int64
	// Repos lists the repos hosted on this drive, in configuration order.
	Repos []RepoIndex
	// LoadedFromCache records whether this drive's file population was
	// restored from cache.bin rather than produced by a fresh
	// InitialScanner pass.
	LoadedFromCache bool
}
