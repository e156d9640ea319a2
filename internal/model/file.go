package model

import "time"

// FileType distinguishes files from directories. A FileInfo never changes
// type in place: encountering a type change for an existing path is a
// fatal error (see fileindex.Index.GetOrAdd).
type FileType uint8

const (
	// FileTypeFile indicates a regular file.
	FileTypeFile FileType = iota
	// FileTypeDirectory indicates a directory.
	FileTypeDirectory
)

func (t FileType) String() string {
	if t == FileTypeDirectory {
		return "directory"
	}
	return "file"
}

// FileFlags holds the small set of booleans tracked per FileInfo.
type FileFlags uint8

const (
	// FileFlagIsDepFile marks a file as the dep-file output of some
	// command, so that DepFileReader results can be associated with it.
	FileFlagIsDepFile FileFlags = 1 << iota
	// FileFlagCommandsCreated marks a file for which RuleGraph has already
	// walked the rule list, so that RuleGraph.CreateCommandsForFile becomes
	// a no-op on subsequent sightings.
	FileFlagCommandsCreated
)

// Has reports whether all bits in mask are set.
func (f FileFlags) Has(mask FileFlags) bool { return f&mask == mask }

// FileInfo is the identity of one path in one repo. See spec §3 for field
// semantics and invariants.
type FileInfo struct {
	// ID is this file's stable handle. It is assigned once, at creation,
	// and never reused even after the file is deleted.
	ID FileID
	// Path is relative to the owning repo's root, stored in the repo's
	// string arena.
	Path string
	// Hash is the PathHash of the absolute path (repo root + Path).
	Hash PathHash
	// NameStart is the byte offset of the final path component within
	// Path.
	NameStart int
	// ExtStart is the byte offset of the extension (including the dot)
	// within Path, or len(Path) if there is no extension.
	ExtStart int
	// Type distinguishes file from directory.
	Type FileType
	// Flags holds IsDepFile/CommandsCreated.
	Flags FileFlags
	// RefNumber is the current filesystem reference number, or
	// InvalidRefNumber if the file is deleted.
	RefNumber RefNumber
	// CreationTime is the file's creation time, or (after deletion) the
	// deletion time, reusing the same field per spec §4.2.
	CreationTime time.Time
	// ChangeTime is the time of the most recent journal record observed
	// for this file, or the zero time if deleted.
	ChangeTime time.Time
	// ChangeUSN is the USN of the most recent journal record observed for
	// this file, or 0 if deleted.
	ChangeUSN int64
	// InputOf lists the commands for which this file is a static input.
	InputOf []CommandID
	// OutputOf lists the commands for which this file is a static output.
	// Per the tightened invariant in SPEC_FULL.md §13(b), this never holds
	// more than one entry; a second attempted append is a validation
	// error raised by the caller, not silently recorded here.
	OutputOf []CommandID
}

// IsDeleted reports whether the file has been marked deleted.
func (f *FileInfo) IsDeleted() bool {
	return !f.RefNumber.IsValid()
}

// Name returns the final path component.
func (f *FileInfo) Name() string {
	return f.Path[f.NameStart:]
}

// Ext returns the file extension, including the leading dot, or "" if
// there is none.
func (f *FileInfo) Ext() string {
	return f.Path[f.ExtStart:]
}

// Dir returns the path's directory component, including a trailing
// separator, or "" if the path has no directory component.
func (f *FileInfo) Dir() string {
	return f.Path[:f.NameStart]
}
