package cache

import (
	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/model"
	"github.com/assetcooker/assetcooker/internal/rulegraph"
)

// Accept reports whether a cached drive entry can still be trusted,
// per spec §4.10: the live journal id must match exactly, and the
// drive's current first valid USN must not have advanced past what the
// cache last saw (otherwise the journal has already discarded records
// the cache would need to reconcile from).
func Accept(entry DriveEntry, liveJournalID uint64, liveFirstUSN int64) bool {
	return entry.JournalID == liveJournalID && liveFirstUSN <= entry.NextUSN
}

// HasRepo reports whether entry recorded a repo with exactly this name
// and root path, per spec §4.10's "require identical names and root
// paths".
func (entry DriveEntry) HasRepo(name, root string) bool {
	for _, r := range entry.Repos {
		if r.Name == name && r.Root == root {
			return true
		}
	}
	return false
}

// RestoreRepoFiles installs every file record from content into index
// under repo, returning the FileID assigned to the root directory
// record (the one with an empty Path), so the caller can set
// model.Repo.RootFileID.
func RestoreRepoFiles(index *fileindex.Index, repo model.RepoIndex, content RepoContent) model.FileID {
	var rootID model.FileID
	for _, f := range content.Files {
		fileType := model.FileTypeFile
		if f.IsDirectory {
			fileType = model.FileTypeDirectory
		}
		id := index.Restore(repo, f.Path, fileType, f.RefNumber, f.CreationTime, f.ChangeTime, f.ChangeUSN)
		if f.Path == "" {
			rootID = id
		}
	}
	return rootID
}

// PendingCommandState indexes every cached command by (rule name, main
// input PathHash) so a rulegraph.CommandCreatedHook can restore a
// command's last-cook state in O(1) the instant RuleGraph recreates it
// for the same main input a prior run already cooked.
type PendingCommandState struct {
	ruleVersions  map[string]uint16
	byRuleAndHash map[string]map[model.PathHash]CommandEntry
}

// NewPendingCommandState indexes a loaded Snapshot's rules.
func NewPendingCommandState(rules []RuleEntry) *PendingCommandState {
	p := &PendingCommandState{
		ruleVersions:  make(map[string]uint16, len(rules)),
		byRuleAndHash: make(map[string]map[model.PathHash]CommandEntry, len(rules)),
	}
	for _, rule := range rules {
		p.ruleVersions[rule.Name] = rule.Version
		byHash := make(map[model.PathHash]CommandEntry, len(rule.Commands))
		for _, c := range rule.Commands {
			byHash[c.MainInputHash] = c
		}
		p.byRuleAndHash[rule.Name] = byHash
	}
	return p
}

// Hook returns a rulegraph.CommandCreatedHook bound to index and graph,
// restoring a command's cached state the moment rulegraph instantiates
// it, when the cache recorded a matching entry for the same rule and
// main input.
//
// A command's LastCookRuleVersion is set to the rule's version AS IT
// WAS WHEN THE CACHE WAS SAVED, not the live rule's current version;
// this is what lets the dirty engine notice a rule definition changed
// since the cache was written and flag DirtyVersionMismatch on its own,
// without cache needing to duplicate that comparison.
func (p *PendingCommandState) Hook(index *fileindex.Index, graph *rulegraph.Graph) rulegraph.CommandCreatedHook {
	return func(id model.CommandID, rule *model.Rule, mainInput model.FileID) {
		byHash, ok := p.byRuleAndHash[rule.Name]
		if !ok {
			return
		}
		entry, ok := byHash[index.File(mainInput).Hash]
		if !ok {
			return
		}

		log := &model.CookLog{
			Command: id,
			EndTime: entry.LastCookTime,
			Output:  entry.Output,
		}
		if entry.IsError {
			log.SetState(model.CookStateError)
		} else {
			log.SetState(model.CookStateSuccess)
		}

		depInputs := resolveHashes(index, entry.DepFileInputHashes)
		depOutputs := resolveHashes(index, entry.DepFileOutputHashes)

		graph.UpdateCommand(id, func(c *model.Command) {
			c.LastCookUSN = entry.LastCookUSN
			c.LastCookRuleVersion = p.ruleVersions[rule.Name]
			c.LastLog = log
			if len(depInputs) > 0 || len(depOutputs) > 0 {
				c.DepFileInputs = depInputs
				c.DepFileOutputs = depOutputs
			}
		})
	}
}

// resolveHashes looks up every cached PathHash in index, dropping any
// that no longer resolve to a known file (the file may have been
// deleted while the cooker was down, or not scanned yet at the point
// this hook fires).
func resolveHashes(index *fileindex.Index, hashes []model.PathHash) []model.FileID {
	var ids []model.FileID
	for _, h := range hashes {
		if id, ok := index.Lookup(h); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
