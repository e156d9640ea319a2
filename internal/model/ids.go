// Package model defines the core data types shared across the cooking
// engine: repos, drives, rules, files, and commands. Types here are kept
// free of any particular subsystem's locking discipline; callers
// (fileindex, rulegraph, dirty, scheduler) own the synchronization.
package model

import "fmt"

// RepoIndex identifies a Repo. Repos are numbered 0..<64 at configuration
// load time and never renumbered.
type RepoIndex uint8

// MaxRepos is the maximum number of repos a single engine instance may
// watch. FileID packs a RepoIndex into 6 bits.
const MaxRepos = 64

// FileID identifies a FileInfo within a single engine instance. It packs a
// 6-bit repo index and a 26-bit per-repo file index into a single 32-bit
// value so that it can be used as a plain map key and stored compactly in
// cache files.
type FileID uint32

// InvalidFileID is the zero value and never a valid FileID, since file
// index 0 within a repo is reserved for the repo's root directory but
// FileID 0 would collide with "no file" in maps that use zero as absent.
// We avoid the collision by biasing file indices by one internally.
const InvalidFileID FileID = 0

const (
	fileIDRepoBits  = 6
	fileIDIndexBits = 26
	fileIDIndexMask = 1<<fileIDIndexBits - 1
)

// NewFileID packs a repo index and a per-repo file index into a FileID.
// The file index is biased by one so that FileID 0 remains reserved for
// "no file".
func NewFileID(repo RepoIndex, index int) FileID {
	if repo >= MaxRepos {
		panic("repo index out of range")
	}
	if index < 0 || index >= fileIDIndexMask {
		panic("file index out of range")
	}
	return FileID(uint32(repo)<<fileIDIndexBits | uint32(index+1))
}

// Repo extracts the repo index encoded in the FileID.
func (id FileID) Repo() RepoIndex {
	return RepoIndex(uint32(id) >> fileIDIndexBits)
}

// Index extracts the per-repo file index encoded in the FileID.
func (id FileID) Index() int {
	return int(uint32(id)&fileIDIndexMask) - 1
}

// IsValid reports whether the FileID refers to an actual file.
func (id FileID) IsValid() bool {
	return id != InvalidFileID
}

func (id FileID) String() string {
	if id == InvalidFileID {
		return "<invalid-file>"
	}
	return fmt.Sprintf("file(%d:%d)", id.Repo(), id.Index())
}

// CommandID identifies a Command within the global Commands array. Unlike
// FileID it is not packed with any other value, since there is only one
// flat array of commands for the whole engine.
type CommandID uint32

// InvalidCommandID is never a valid CommandID; commands are allocated
// starting at index 1 so that the zero value can mean "absent".
const InvalidCommandID CommandID = 0

// IsValid reports whether the CommandID refers to an actual command.
func (id CommandID) IsValid() bool {
	return id != InvalidCommandID
}

// RuleID identifies a Rule in declaration order.
type RuleID uint16

// InvalidRuleVersion is reserved and may never be used as a real rule
// version, so that it can serve as a sentinel in cache reconciliation.
const InvalidRuleVersion uint16 = 0xFFFF

// RefNumber is the filesystem-supplied 128-bit opaque identifier for a
// file, stable for the file's lifetime and reused only after deletion.
type RefNumber struct {
	High uint64
	Low  uint64
}

// InvalidRefNumber marks a FileInfo as deleted.
var InvalidRefNumber = RefNumber{}

// IsValid reports whether the reference number is non-zero.
func (r RefNumber) IsValid() bool {
	return r != InvalidRefNumber
}
