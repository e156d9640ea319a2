// Package dirty implements the DirtyEngine from spec §4.7:
// update_dirty, the per-command recomputation that re-reads a stale
// dep-file, derives the DirtyState bitmask, resolves a pending Waiting
// cook to Success, and maintains the command's membership in the dirty
// set and cook queue.
package dirty

import (
	"fmt"
	"strings"

	"github.com/assetcooker/assetcooker/internal/depfile"
	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/logging"
	"github.com/assetcooker/assetcooker/internal/model"
	"github.com/assetcooker/assetcooker/internal/rulegraph"
	"github.com/assetcooker/assetcooker/internal/scheduler"
)

// DepFileReader abstracts reading a dep-file's bytes off disk, so the
// engine can be exercised in tests without a filesystem.
type DepFileReader interface {
	ReadDepFile(repo model.RepoIndex, relativePath string) ([]byte, error)
}

// Engine owns the dirty set and cook queue alongside the graph and file
// index they're derived from.
type Engine struct {
	logger *logging.Logger
	index  *fileindex.Index
	graph  *rulegraph.Graph
	repos  []model.Repo
	files  DepFileReader

	DirtySet  *scheduler.Queue
	CookQueue *scheduler.WorkQueue
}

// New creates an Engine over the given graph and file index.
func New(logger *logging.Logger, index *fileindex.Index, graph *rulegraph.Graph, repos []model.Repo, files DepFileReader) *Engine {
	return &Engine{
		logger:    logger,
		index:     index,
		graph:     graph,
		repos:     repos,
		files:     files,
		DirtySet:  &scheduler.Queue{},
		CookQueue: scheduler.NewWorkQueue(),
	}
}

func (e *Engine) repoIndexByName(name string) (model.RepoIndex, bool) {
	for _, r := range e.repos {
		if r.Name == name {
			return r.Index, true
		}
	}
	return 0, false
}

// resolveAbsolute is the depfile.Parse resolver for the Make format: it
// finds which repo (if any) an absolute path falls under and returns that
// repo's name plus the path relative to its root.
func (e *Engine) resolveAbsolute(absolutePath string) (repo, relativePath string, err error) {
	for _, r := range e.repos {
		if len(absolutePath) >= len(r.Root) && strings.EqualFold(absolutePath[:len(r.Root)], r.Root) {
			return r.Name, absolutePath[len(r.Root):], nil
		}
	}
	return "", "", fmt.Errorf("path %q is outside every repo", absolutePath)
}

func toDepfileFormat(f model.DepFileFormat) depfile.Format {
	if f == model.DepFileFormatMake {
		return depfile.FormatMake
	}
	return depfile.FormatAssetCooker
}

func containsFileID(ids []model.FileID, target model.FileID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// resolveEntries turns depfile.Entry values into FileIDs, defaulting to
// the command's own main-input repo when an entry doesn't name one
// explicitly (the AssetCooker format never does; the Make format does
// for every absolute path).
func (e *Engine) resolveEntries(entries []depfile.Entry, defaultRepo model.RepoIndex) ([]model.FileID, error) {
	ids := make([]model.FileID, 0, len(entries))
	for _, entry := range entries {
		repoIndex := defaultRepo
		if entry.Repo != "" {
			idx, ok := e.repoIndexByName(entry.Repo)
			if !ok {
				return nil, fmt.Errorf("unknown repo %q named by dep-file entry", entry.Repo)
			}
			repoIndex = idx
		}
		id, err := e.index.GetOrAdd(repoIndex, entry.Path, model.FileTypeFile, model.InvalidRefNumber)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// reconcileMembership diffs oldDynamic against newDynamic and adds/removes
// commandID from each affected file's input_of/output_of list, skipping
// any file that's already a static input/output of the command (per "Applying
// a dep-file result to a Command" in spec §4.5).
func (e *Engine) reconcileMembership(commandID model.CommandID, static, oldDynamic, newDynamic []model.FileID, isInput bool) error {
	oldSet := make(map[model.FileID]bool, len(oldDynamic))
	for _, id := range oldDynamic {
		oldSet[id] = true
	}
	newSet := make(map[model.FileID]bool, len(newDynamic))
	for _, id := range newDynamic {
		newSet[id] = true
	}

	for id := range newSet {
		if oldSet[id] || containsFileID(static, id) {
			continue
		}
		repo := e.index.Repo(id.Repo())
		if isInput {
			repo.AppendInputOf(id, commandID)
		} else if err := repo.AppendOutputOf(id, commandID); err != nil {
			return err
		}
	}
	for id := range oldSet {
		if newSet[id] || containsFileID(static, id) {
			continue
		}
		repo := e.index.Repo(id.Repo())
		if isInput {
			repo.RemoveInputOf(id, commandID)
		} else {
			repo.RemoveOutputOf(id, commandID)
		}
	}
	return nil
}

func (e *Engine) applyDepFileResult(commandID model.CommandID, c *model.Command, result depfile.Result) error {
	defaultRepo := c.MainInput().Repo()

	newInputs, err := e.resolveEntries(result.Inputs, defaultRepo)
	if err != nil {
		return err
	}
	newOutputs, err := e.resolveEntries(result.Outputs, defaultRepo)
	if err != nil {
		return err
	}

	if err := e.reconcileMembership(commandID, c.Inputs, c.DepFileInputs, newInputs, true); err != nil {
		return err
	}
	if err := e.reconcileMembership(commandID, c.Outputs, c.DepFileOutputs, newOutputs, false); err != nil {
		return err
	}

	c.DepFileInputs = newInputs
	c.DepFileOutputs = newOutputs
	return nil
}

func (e *Engine) maxInputUSN(c *model.Command) int64 {
	var max int64
	for _, id := range c.Inputs {
		if usn := e.index.File(id).ChangeUSN; usn > max {
			max = usn
		}
	}
	for _, id := range c.DepFileInputs {
		if usn := e.index.File(id).ChangeUSN; usn > max {
			max = usn
		}
	}
	return max
}

// rereadDepFile implements step 1: re-read the command's dep-file if its
// ChangeUSN has moved since the last successful read, and apply the
// result. Returns false (with the triggering error) on any failure.
func (e *Engine) rereadDepFile(commandID model.CommandID, c *model.Command) (bool, error) {
	depFileID, hasDep := c.DepFileOutput()
	if !hasDep {
		return true, nil
	}

	depInfo := e.index.File(depFileID)
	if depInfo.ChangeUSN == c.LastDepFileReadUSN {
		return true, nil
	}
	if depInfo.IsDeleted() {
		return false, fmt.Errorf("dep-file for command %s is missing", commandID)
	}

	rule := e.graph.Rule(c.Rule)
	content, err := e.files.ReadDepFile(depFileID.Repo(), depInfo.Path)
	if err != nil {
		return false, fmt.Errorf("reading dep-file: %w", err)
	}
	result, err := depfile.Parse(toDepfileFormat(rule.DepFile.Format), content, e.resolveAbsolute)
	if err != nil {
		return false, fmt.Errorf("parsing dep-file: %w", err)
	}
	if err := e.applyDepFileResult(commandID, c, result); err != nil {
		return false, err
	}

	c.LastDepFileReadUSN = depInfo.ChangeUSN
	c.LastCookUSN = e.maxInputUSN(c)
	return true, nil
}

func minOutputUSN(index *fileindex.Index, outputs []model.FileID) int64 {
	min := int64(-1)
	for _, id := range outputs {
		info := index.File(id)
		if info.IsDeleted() {
			continue
		}
		if min == -1 || info.ChangeUSN < min {
			min = info.ChangeUSN
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

// UpdateDirty implements spec §4.7's update_dirty. The caller must ensure
// the command is not currently Cooking.
func (e *Engine) UpdateDirty(commandID model.CommandID) error {
	c := e.graph.Command(commandID)
	rule := e.graph.Rule(c.Rule)

	var dirty model.DirtyState

	// Step 1.
	if ok, err := e.rereadDepFile(commandID, &c); !ok {
		dirty |= model.DirtyError
		if c.LastLog != nil && c.LastLog.GetState() == model.CookStateWaiting {
			c.LastLog.SetState(model.CookStateError)
		}
		if err != nil {
			e.logger.Warnf("command %s: %v", commandID, err)
		}
	}

	// Step 2.
	if c.LastCookRuleVersion != rule.Version {
		dirty |= model.DirtyVersionMismatch
	}

	// Step 3.
	effectiveLastCookUSN := c.LastCookUSN
	if effectiveLastCookUSN <= 0 {
		effectiveLastCookUSN = minOutputUSN(e.index, c.Outputs)
	}

	// Step 4.
	allStaticInputsMissing := len(c.Inputs) > 0
	for _, id := range c.Inputs {
		info := e.index.File(id)
		if info.IsDeleted() {
			dirty |= model.DirtyInputMissing
			continue
		}
		allStaticInputsMissing = false
		if info.ChangeUSN > effectiveLastCookUSN {
			dirty |= model.DirtyInputChanged
		}
	}
	for _, id := range c.DepFileInputs {
		info := e.index.File(id)
		if info.IsDeleted() {
			dirty |= model.DirtyInputMissing
		} else if info.ChangeUSN > effectiveLastCookUSN {
			dirty |= model.DirtyInputChanged
		}
	}
	if allStaticInputsMissing {
		dirty |= model.DirtyAllStaticInputsMissing
	}

	// Step 5.
	allOutputsMissing := len(c.Outputs) > 0
	allOutputsWritten := true
	for _, id := range c.Outputs {
		info := e.index.File(id)
		if info.IsDeleted() {
			dirty |= model.DirtyOutputMissing
			allOutputsWritten = false
			continue
		}
		allOutputsMissing = false
		if info.ChangeUSN < effectiveLastCookUSN {
			allOutputsWritten = false
		}
	}
	if allOutputsMissing {
		dirty |= model.DirtyAllOutputsMissing
	}

	// Step 6.
	if c.LastLog != nil && c.LastLog.GetState() == model.CookStateWaiting {
		if (!c.LastLog.IsCleanup && allOutputsWritten) || (c.LastLog.IsCleanup && allOutputsMissing) {
			c.LastLog.SetState(model.CookStateSuccess)
		}
	}

	// Step 7.
	cleanedUp := allStaticInputsMissing && allOutputsMissing
	isDirty := dirty != 0 && !cleanedUp
	wasQueued := c.IsQueued
	staysQueuedWithRetriggeredError := wasQueued && isDirty && c.Dirty.Has(model.DirtyError) && dirty.Has(model.DirtyInputChanged)

	switch {
	case isDirty && !wasQueued:
		e.DirtySet.Push(commandID, rule.Priority, scheduler.Back)
		if !e.CookQueue.IsPaused() {
			e.CookQueue.Push(commandID, rule.Priority, scheduler.Back)
		}
		c.IsQueued = true
	case !isDirty && wasQueued:
		e.DirtySet.Remove(commandID, rule.Priority, scheduler.AnyOrder)
		e.CookQueue.Remove(commandID, rule.Priority, scheduler.AnyOrder)
		c.IsQueued = false
	case staysQueuedWithRetriggeredError:
		e.CookQueue.Remove(commandID, rule.Priority, scheduler.AnyOrder)
		e.CookQueue.Push(commandID, rule.Priority, scheduler.Front)
	}

	c.Dirty = dirty
	e.graph.UpdateCommand(commandID, func(dst *model.Command) { *dst = c })
	return nil
}

// Pause stops the cook queue from handing out new work and clears it
// (spec §4.8: "pausing clears the worker queue but leaves the dirty set
// intact"). Commands already popped by a worker keep cooking.
func (e *Engine) Pause() {
	e.CookQueue.Pause()
	e.CookQueue.Clear()
}

// Resume reactivates the cook queue and repushes every command still in
// the dirty set, skipping ones currently Cooking or Waiting, and skipping
// errored ones unless their inputs or rule version changed since (spec
// §4.8's pause/resume description).
func (e *Engine) Resume() {
	for _, item := range e.DirtySet.Items() {
		c := e.graph.Command(item.ID)
		if c.LastLog != nil {
			switch c.LastLog.GetState() {
			case model.CookStateCooking, model.CookStateWaiting:
				continue
			}
		}
		if c.Dirty.Has(model.DirtyError) && !c.Dirty.Has(model.DirtyInputChanged) && !c.Dirty.Has(model.DirtyVersionMismatch) {
			continue
		}
		e.CookQueue.Push(item.ID, item.Priority, scheduler.Back)
	}
	e.CookQueue.Unpause()
}

// NotifyDirty implements fileindex.DirtyNotifier: every command named here
// has its dirty state recomputed.
func (e *Engine) NotifyDirty(ids ...model.CommandID) {
	for _, id := range ids {
		if err := e.UpdateDirty(id); err != nil {
			e.logger.Warnf("command %s: %v", id, err)
		}
	}
}
