package model

import "sync/atomic"

// CommandType is the closed set of ways a Command can be executed. It is
// a tagged variant in spirit (see Design Notes in SPEC_FULL.md): each
// value has a corresponding runner.Runner implementation.
type CommandType uint8

const (
	// CommandTypeCommandLine runs a formatted shell command line.
	CommandTypeCommandLine CommandType = iota
	// CommandTypeCopyFile is the built-in byte-for-byte copy command.
	CommandTypeCopyFile
)

func (t CommandType) String() string {
	switch t {
	case CommandTypeCopyFile:
		return "copy-file"
	default:
		return "command-line"
	}
}

// DepFileFormat selects which of the two supported dep-file grammars a
// rule's dep-file should be parsed with.
type DepFileFormat uint8

const (
	// DepFileFormatNone indicates the rule has no dep-file.
	DepFileFormatNone DepFileFormat = iota
	// DepFileFormatAssetCooker selects the "INPUT:"/"OUTPUT:" line format.
	DepFileFormatAssetCooker
	// DepFileFormatMake selects the Makefile-rule prerequisite format.
	DepFileFormatMake
)

// InputFilter matches a FileInfo against a repo and a case-insensitive
// glob pattern using only `*` (any run) and `?` (single character).
type InputFilter struct {
	// Repo is the repo index this filter applies to.
	Repo RepoIndex
	// Pattern is the glob pattern, matched case-insensitively against the
	// file's repo-relative path.
	Pattern string
}

// DepFileSpec describes a rule's optional dep-file.
type DepFileSpec struct {
	// PathTemplate expands to the dep-file's path.
	PathTemplate string
	// Format selects the grammar used to parse the dep-file.
	Format DepFileFormat
	// CommandLineTemplate, if non-empty, is run after the main command
	// line specifically to (re)generate the dep-file.
	CommandLineTemplate string
}

// HasDepFile reports whether the rule declares a dep-file at all.
func (d *DepFileSpec) HasDepFile() bool {
	return d != nil && d.Format != DepFileFormatNone
}

// Rule is a build pattern: it instantiates a Command for every file that
// matches its first satisfied InputFilter.
type Rule struct {
	// ID is the rule's stable declaration-order index.
	ID RuleID
	// Name is the rule's display name.
	Name string
	// Priority orders rule execution; lower values run first (§4.8).
	Priority int
	// Version is a monotonic integer bumped whenever the rule's
	// definition changes meaningfully enough to force recooking.
	// InvalidRuleVersion (0xFFFF) is reserved and must never be used.
	Version uint16
	// Type selects how commands instantiated by this rule are executed.
	Type CommandType
	// CommandLineTemplate is used when Type is CommandTypeCommandLine.
	CommandLineTemplate string
	// DepFile is the rule's optional dep-file specification.
	DepFile *DepFileSpec
	// Inputs is the ordered list of InputFilters; the first to match a
	// file creates a Command for it.
	Inputs []InputFilter
	// InputPaths are additional input path templates, expanded relative
	// to the matched file, appended (with dedup) to a Command's inputs.
	InputPaths []string
	// OutputPaths are output path templates, expanded relative to the
	// matched file.
	OutputPaths []string
	// MatchMoreRules, if true, allows later rules to also match a file
	// that this rule already matched.
	MatchMoreRules bool

	// commandCount is an atomic counter of commands instantiated from
	// this rule, exposed for status reporting.
	commandCount uint64
}

// IncrementCommandCount atomically bumps the rule's command counter and
// returns the new value.
func (r *Rule) IncrementCommandCount() uint64 {
	return atomic.AddUint64(&r.commandCount, 1)
}

// CommandCount returns the current command counter value.
func (r *Rule) CommandCount() uint64 {
	return atomic.LoadUint64(&r.commandCount)
}

// DirtyState is a bitmask describing why a Command needs to be (re)cooked,
// or why it cannot be.
type DirtyState uint16

const (
	// DirtyInputMissing is set when at least one input is deleted.
	DirtyInputMissing DirtyState = 1 << iota
	// DirtyInputChanged is set when at least one input changed after the
	// command's last cook.
	DirtyInputChanged
	// DirtyOutputMissing is set when at least one output is deleted.
	DirtyOutputMissing
	// DirtyAllStaticInputsMissing is set when every static input is
	// deleted; combined with DirtyAllOutputsMissing this means the
	// command is "cleaned up" and should not be scheduled.
	DirtyAllStaticInputsMissing
	// DirtyAllOutputsMissing is set when every output is deleted.
	DirtyAllOutputsMissing
	// DirtyError is set when the command's last cook attempt failed, or
	// its dep-file failed to parse.
	DirtyError
	// DirtyVersionMismatch is set when the owning rule's version has
	// changed since the command's last cook.
	DirtyVersionMismatch
)

// Has reports whether all bits in mask are set.
func (d DirtyState) Has(mask DirtyState) bool { return d&mask == mask }

// CleanedUp reports whether a command has had all of its static inputs
// and all of its outputs removed, meaning cleanup has finished and the
// command should no longer be scheduled even if other bits are set.
func (d DirtyState) CleanedUp() bool {
	return d.Has(DirtyAllStaticInputsMissing) && d.Has(DirtyAllOutputsMissing)
}

// IsDirty reports whether the command should be considered for
// scheduling: some bit is set and the command isn't cleaned up.
func (d DirtyState) IsDirty() bool {
	return d != 0 && !d.CleanedUp()
}

// CookState is the lifecycle of a single CookLog entry.
type CookState uint8

const (
	// CookStateCooking indicates the command is currently executing. Only
	// State is safe to read while in this state.
	CookStateCooking CookState = iota
	// CookStateWaiting indicates execution finished and the engine is
	// waiting for the journal to confirm the outputs were written.
	CookStateWaiting
	// CookStateSuccess indicates the command cooked (or cleaned up)
	// successfully and outputs were confirmed.
	CookStateSuccess
	// CookStateError indicates the command failed, or its outputs were
	// never confirmed within the timeout window.
	CookStateError
)

func (s CookState) String() string {
	switch s {
	case CookStateWaiting:
		return "waiting"
	case CookStateSuccess:
		return "success"
	case CookStateError:
		return "error"
	default:
		return "cooking"
	}
}

// CookLog is one attempted execution of a Command. Fields other than
// State are only safe to read once State has advanced past
// CookStateCooking (see spec §3).
type CookLog struct {
	// ID uniquely identifies this log entry.
	ID uint64
	// Command is the command this entry belongs to.
	Command CommandID
	// State is read and written atomically; see CookState.
	State atomic.Int32
	// IsCleanup indicates this entry represents output deletion rather
	// than a normal cook.
	IsCleanup bool
	// StartTime is when execution began.
	StartTime int64 // UnixNano; avoids importing time for atomic-adjacent field ordering concerns.
	// EndTime is when execution (or confirmation) finished.
	EndTime int64
	// Output is the captured, merged stdout/stderr of the command(s) run.
	Output string
}

// GetState returns the entry's current state.
func (c *CookLog) GetState() CookState {
	return CookState(c.State.Load())
}

// SetState stores a new state.
func (c *CookLog) SetState(s CookState) {
	c.State.Store(int32(s))
}

// Command is one instantiation of a Rule for one primary input file. See
// spec §3 for field semantics.
type Command struct {
	// ID is the command's stable handle.
	ID CommandID
	// Rule is the owning rule's ID.
	Rule RuleID
	// Inputs is the ordered list of static inputs; Inputs[0] is the "main
	// input" that caused the command's creation and is supplied to
	// template expansion.
	Inputs []FileID
	// Outputs is the ordered list of static outputs. The dep-file output,
	// if any, is always Outputs[0].
	Outputs []FileID
	// DepFileInputs are inputs discovered by parsing the dep-file.
	DepFileInputs []FileID
	// DepFileOutputs are outputs discovered by parsing the dep-file (only
	// possible with the AssetCooker dep-file format).
	DepFileOutputs []FileID

	// Dirty is the current dirty-state bitmask. It is only mutated by the
	// dirty engine, which owns a lock over command state.
	Dirty DirtyState
	// IsQueued reports whether the command is currently present in the
	// scheduler's dirty set / cook queue.
	IsQueued bool

	// LastCookRuleVersion is the rule version in effect at the command's
	// last cook.
	LastCookRuleVersion uint16
	// LastDepFileReadUSN is the dep-file's ChangeUSN as of the last
	// successful dep-file read.
	LastDepFileReadUSN int64
	// LastCookUSN is the maximum ChangeUSN over the command's inputs as
	// of its last cook.
	LastCookUSN int64
	// LastCookTime is set only via the most recent CookLog entry; see
	// SPEC_FULL.md §13(c) — it is never duplicated here as a separate
	// field that could drift from the log.

	// LastLog is the most recent CookLog entry for this command, or nil
	// if it has never been cooked.
	LastLog *CookLog

	// HasDepFileOutput records whether Outputs[0] is the rule's dep-file
	// (per §4.6 step 3, the dep file is always the first output when the
	// rule declares one).
	HasDepFileOutput bool
}

// MainInput returns the command's main input, or InvalidFileID if the
// command somehow has no inputs (which should never happen post
// construction).
func (c *Command) MainInput() FileID {
	if len(c.Inputs) == 0 {
		return InvalidFileID
	}
	return c.Inputs[0]
}

// DepFileOutput returns the command's dep-file output, if any.
func (c *Command) DepFileOutput() (FileID, bool) {
	if !c.HasDepFileOutput || len(c.Outputs) == 0 {
		return InvalidFileID, false
	}
	return c.Outputs[0], true
}
