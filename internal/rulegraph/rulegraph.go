// Package rulegraph implements the RuleGraph component from spec §4.6:
// matching a newly-sighted file against the ordered rule list and
// instantiating Commands, plus the template language those rules are
// expanded with.
package rulegraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/assetcooker/assetcooker/internal/arena"
	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/logging"
	"github.com/assetcooker/assetcooker/internal/model"
	"github.com/assetcooker/assetcooker/internal/template"
)

// errRuleHasNoOutputs is returned when a rule matches a file but declares
// neither an output-path template nor an AssetCooker-format dep-file; a
// Make-format dep-file doesn't count, since reading one can only ever add
// inputs (spec §4.6 step 3).
var errRuleHasNoOutputs = errors.New("rule declares no outputs and no AssetCooker-format dep-file")

// CommandCreatedHook is called whenever a new Command is instantiated.
// The cache package uses this to restore a command's last-cook state
// (spec §4.10) the moment RuleGraph recreates it for the same main
// input a prior run had already cooked.
type CommandCreatedHook func(id model.CommandID, rule *model.Rule, mainInput model.FileID)

// Graph owns the rule list and the flat, append-only Commands array.
type Graph struct {
	logger *logging.Logger
	index  *fileindex.Index
	repos  []model.Repo
	rules  []model.Rule

	commands arena.Table[model.Command]

	onCommandCreated CommandCreatedHook
}

// SetCommandCreatedHook installs fn to be called after every Command is
// instantiated. Only one hook is supported; callers that need more
// should compose their own dispatcher.
func (g *Graph) SetCommandCreatedHook(fn CommandCreatedHook) {
	g.onCommandCreated = fn
}

// New creates a Graph over the given repos (in RepoIndex order) and rules
// (in declaration order; rule.ID must match each rule's position).
func New(logger *logging.Logger, index *fileindex.Index, repos []model.Repo, rules []model.Rule) *Graph {
	return &Graph{
		logger: logger,
		index:  index,
		repos:  repos,
		rules:  rules,
	}
}

// CommandCount returns the number of commands instantiated so far.
func (g *Graph) CommandCount() int {
	return g.commands.Len()
}

// Command returns a copy of the Command for id.
func (g *Graph) Command(id model.CommandID) model.Command {
	return g.commands.Get(int(id) - 1)
}

// UpdateCommand applies fn to the Command for id under the table's lock.
func (g *Graph) UpdateCommand(id model.CommandID, fn func(*model.Command)) {
	g.commands.Update(int(id)-1, fn)
}

// EachCommand calls fn for every instantiated command.
func (g *Graph) EachCommand(fn func(id model.CommandID, c *model.Command)) {
	g.commands.Each(func(index int, c *model.Command) {
		fn(model.CommandID(index+1), c)
	})
}

// Rule returns the rule with the given ID.
func (g *Graph) Rule(id model.RuleID) *model.Rule {
	return &g.rules[id]
}

// Rules returns the full rule list, in declaration order.
func (g *Graph) Rules() []model.Rule {
	return g.rules
}

func (g *Graph) repoIndexByName(name string) (model.RepoIndex, bool) {
	for _, r := range g.repos {
		if r.Name == name {
			return r.Index, true
		}
	}
	return 0, false
}

// FileTemplateContext builds the template.Context for expanding a rule's
// command-line or path templates against the given file, the same
// context create_commands_for_file uses and that CommandRunner reuses
// when formatting a command line at cook time.
func FileTemplateContext(repos []model.Repo, info model.FileInfo) template.Context {
	return fileTemplateContext(repos, info)
}

func fileTemplateContext(repos []model.Repo, info model.FileInfo) template.Context {
	ctx := template.Context{
		Ext:   info.Ext(),
		File:  strings.TrimSuffix(info.Name(), info.Ext()),
		Dir:   info.Dir(),
		Path:  info.Path,
		Repos: make(map[string]string, len(repos)),
	}
	for _, r := range repos {
		ctx.Repos[r.Name] = r.Root
	}
	return ctx
}

// resolvePathTemplate expands a path template against ctx and gets-or-adds
// the resulting FileID, creating a placeholder FileInfo (no reference
// number yet) if the target doesn't already exist in the index.
func (g *Graph) resolvePathTemplate(tmpl string, ctx template.Context) (model.FileID, error) {
	expanded, err := template.ExpandPath(tmpl, ctx)
	if err != nil {
		return model.InvalidFileID, err
	}
	repoIndex, ok := g.repoIndexByName(expanded.RepoName)
	if !ok {
		return model.InvalidFileID, fmt.Errorf("unknown repo %q", expanded.RepoName)
	}
	return g.index.GetOrAdd(repoIndex, expanded.RelativePath, model.FileTypeFile, model.InvalidRefNumber)
}

func (g *Graph) matchesAnyFilter(rule *model.Rule, repo model.RepoIndex, path string) bool {
	for _, filter := range rule.Inputs {
		if filter.Repo == repo && matchGlob(filter.Pattern, path) {
			return true
		}
	}
	return false
}

func appendUnique(ids []model.FileID, seen map[model.FileID]bool, id model.FileID) []model.FileID {
	if seen[id] {
		return ids
	}
	seen[id] = true
	return append(ids, id)
}

// instantiate builds and records one Command for rule matching fileID,
// per spec §4.6 steps 1-4.
func (g *Graph) instantiate(rule *model.Rule, fileID model.FileID, ctx template.Context) error {
	var depFileID model.FileID
	hasDepFile := rule.DepFile.HasDepFile()
	if hasDepFile {
		id, err := g.resolvePathTemplate(rule.DepFile.PathTemplate, ctx)
		if err != nil {
			return fmt.Errorf("dep-file path template: %w", err)
		}
		depFileID = id
		g.index.Update(depFileID, func(f *model.FileInfo) {
			f.Flags |= model.FileFlagIsDepFile
		})
	}

	inputs := []model.FileID{fileID}
	inputsSeen := map[model.FileID]bool{fileID: true}
	for _, pathTmpl := range rule.InputPaths {
		id, err := g.resolvePathTemplate(pathTmpl, ctx)
		if err != nil {
			return fmt.Errorf("input path template %q: %w", pathTmpl, err)
		}
		inputs = appendUnique(inputs, inputsSeen, id)
	}

	var outputs []model.FileID
	outputsSeen := map[model.FileID]bool{}
	if hasDepFile {
		outputs = appendUnique(outputs, outputsSeen, depFileID)
	}
	for _, pathTmpl := range rule.OutputPaths {
		id, err := g.resolvePathTemplate(pathTmpl, ctx)
		if err != nil {
			return fmt.Errorf("output path template %q: %w", pathTmpl, err)
		}
		outputs = appendUnique(outputs, outputsSeen, id)
	}

	hasRealOutput := len(rule.OutputPaths) > 0 || (hasDepFile && rule.DepFile.Format == model.DepFileFormatAssetCooker)
	if !hasRealOutput {
		return errRuleHasNoOutputs
	}

	index := g.commands.Append(model.Command{
		Rule:                rule.ID,
		Inputs:              inputs,
		Outputs:             outputs,
		HasDepFileOutput:    hasDepFile,
		LastCookRuleVersion: model.InvalidRuleVersion,
	})
	commandID := model.CommandID(index + 1)
	g.commands.Update(index, func(c *model.Command) { c.ID = commandID })

	for _, in := range inputs {
		g.index.Repo(in.Repo()).AppendInputOf(in, commandID)
	}
	for _, out := range outputs {
		if err := g.index.Repo(out.Repo()).AppendOutputOf(out, commandID); err != nil {
			return err
		}
	}

	rule.IncrementCommandCount()

	if g.onCommandCreated != nil {
		g.onCommandCreated(commandID, rule, fileID)
	}
	return nil
}

// CreateCommandsForFile implements spec §4.6's create_commands_for_file:
// walk the rule list in declaration order and instantiate a Command for
// every InputFilter match, stopping at the first rule matched unless it
// sets match_more_rules.
func (g *Graph) CreateCommandsForFile(fileID model.FileID) error {
	info := g.index.File(fileID)
	if info.Flags.Has(model.FileFlagCommandsCreated) || info.Type == model.FileTypeDirectory {
		return nil
	}

	ctx := fileTemplateContext(g.repos, info)
	repo := fileID.Repo()

	for i := range g.rules {
		rule := &g.rules[i]
		if !g.matchesAnyFilter(rule, repo, info.Path) {
			continue
		}

		if err := g.instantiate(rule, fileID, ctx); err != nil {
			return fmt.Errorf("rule %q on %q: %w", rule.Name, info.Path, err)
		}

		if !rule.MatchMoreRules {
			break
		}
	}

	g.index.Update(fileID, func(f *model.FileInfo) {
		f.Flags |= model.FileFlagCommandsCreated
	})
	return nil
}
