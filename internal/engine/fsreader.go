package engine

import (
	"os"

	"github.com/assetcooker/assetcooker/internal/model"
)

// osDepFileReader implements dirty.DepFileReader by reading a repo-relative
// path directly off disk, the same repo.Root-joining idiom runner.Runner
// uses for its own absolute-path resolution.
type osDepFileReader struct {
	repos []model.Repo
}

func (r osDepFileReader) ReadDepFile(repo model.RepoIndex, relativePath string) ([]byte, error) {
	return os.ReadFile(r.repos[repo].Root + relativePath)
}

// notifierProxy breaks the fileindex/dirty construction cycle: fileindex
// needs a DirtyNotifier at construction time, but the dirty engine needs
// the already-constructed file index. New wires an empty proxy into
// fileindex.New, then points it at the real dirty.Engine once that's
// built.
type notifierProxy struct {
	target interface {
		NotifyDirty(ids ...model.CommandID)
	}
}

func (p *notifierProxy) NotifyDirty(ids ...model.CommandID) {
	if p.target != nil {
		p.target.NotifyDirty(ids...)
	}
}
