// Package runner implements CommandRunner from spec §4.8/§4.9: executing
// a Command's formatted command line (or the CopyFile builtin) as a
// worker pops it off the cook queue, plus the dedicated timeout thread
// that demotes a Waiting CookLog to Error once the drive has gone quiet
// for its confirmation window without one ever arriving.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/logging"
	"github.com/assetcooker/assetcooker/internal/model"
	"github.com/assetcooker/assetcooker/internal/rulegraph"
	"github.com/assetcooker/assetcooker/internal/scheduler"
	"github.com/assetcooker/assetcooker/internal/template"
)

// Runner owns everything CommandRunner needs to cook or clean up a
// command: the file index and rule graph it reads commands from, the
// process and filesystem abstractions it executes through, and the
// timeout tracker watching every CookLog it puts into Waiting.
type Runner struct {
	logger *logging.Logger
	index  *fileindex.Index
	graph  *rulegraph.Graph
	repos  []model.Repo
	fs     Filesystem
	proc   processRunner

	timeouts *timeoutTracker
	nextLogID atomic.Uint64

	// kickDriveMonitor, if set, is called after a successful cook so the
	// drive monitor can be nudged to notice the freshly written outputs
	// sooner rather than waiting for its normal poll interval.
	kickDriveMonitor func()
	// incrementErrorCount, if set, bumps the cook queue's global error
	// counter; wired to the same counter the worker loop bumps directly.
	incrementErrorCount func()
	// notifyDirty, if set, requests a dirty-state recomputation for a
	// command whose CookLog just changed state outside of the normal
	// pop/cook/finished_cooking cycle (the timeout path).
	notifyDirty func(model.CommandID)
}

// Config bundles Runner's dependencies.
type Config struct {
	Logger *logging.Logger
	Index  *fileindex.Index
	Graph  *rulegraph.Graph
	Repos  []model.Repo
	FS     Filesystem
	Proc   processRunner

	KickDriveMonitor    func()
	IsDriveMonitorIdle  func() bool
	IncrementErrorCount func()
	NotifyDirty         func(model.CommandID)
}

// New constructs a Runner and starts its timeout-tracking goroutine.
// Callers must eventually call Stop.
func New(cfg Config) *Runner {
	r := &Runner{
		logger:              cfg.Logger,
		index:               cfg.Index,
		graph:               cfg.Graph,
		repos:               cfg.Repos,
		fs:                  cfg.FS,
		proc:                cfg.Proc,
		kickDriveMonitor:    cfg.KickDriveMonitor,
		incrementErrorCount: cfg.IncrementErrorCount,
		notifyDirty:         cfg.NotifyDirty,
	}
	r.timeouts = newTimeoutTracker(cfg.IsDriveMonitorIdle, r.handleTimeout)
	go r.timeouts.run()
	return r
}

// Stop halts the timeout-tracking goroutine.
func (r *Runner) Stop() {
	r.timeouts.Stop()
}

// handleTimeout is the timeoutTracker's onExpire callback: if the
// command's current CookLog is still the one that timed out and it's
// still Waiting, demote it to Error and request a dirty recomputation
// (spec §4.8's timeout-thread description, scenario S5 in SPEC_FULL.md).
func (r *Runner) handleTimeout(logID uint64, commandID model.CommandID) {
	c := r.graph.Command(commandID)
	if c.LastLog == nil || c.LastLog.ID != logID || c.LastLog.GetState() != model.CookStateWaiting {
		return
	}
	c.LastLog.SetState(model.CookStateError)
	if r.incrementErrorCount != nil {
		r.incrementErrorCount()
	}
	if r.notifyDirty != nil {
		r.notifyDirty(commandID)
	}
}

// RunWorker is one worker's loop (spec §4.8): pop a command, clean it up
// if every static input is gone or cook it otherwise, bump the global
// error counter if it ended in Error, then release the priority gate.
// Callers typically launch several of these as goroutines.
func (r *Runner) RunWorker(queue *scheduler.WorkQueue) {
	for {
		commandID, priority, ok := queue.Pop()
		if !ok {
			return
		}

		c := r.graph.Command(commandID)
		var finalState model.CookState
		if c.Dirty.Has(model.DirtyAllStaticInputsMissing) {
			finalState = r.Cleanup(commandID)
		} else {
			finalState = r.Cook(commandID)
		}

		if finalState == model.CookStateError {
			queue.IncrementErrorCount()
		}
		queue.FinishedCooking(priority)
	}
}

func (r *Runner) absolutePath(id model.FileID) string {
	return r.repos[id.Repo()].Root + r.index.File(id).Path
}

func (r *Runner) maxInputUSN(c model.Command) int64 {
	var max int64
	for _, id := range c.Inputs {
		if usn := r.index.File(id).ChangeUSN; usn > max {
			max = usn
		}
	}
	for _, id := range c.DepFileInputs {
		if usn := r.index.File(id).ChangeUSN; usn > max {
			max = usn
		}
	}
	return max
}

func (r *Runner) allocateLog(commandID model.CommandID, isCleanup bool) *model.CookLog {
	log := &model.CookLog{
		ID:        r.nextLogID.Add(1),
		Command:   commandID,
		IsCleanup: isCleanup,
		StartTime: time.Now().UnixNano(),
	}
	log.SetState(model.CookStateCooking)
	r.graph.UpdateCommand(commandID, func(dst *model.Command) {
		dst.LastLog = log
	})
	return log
}

// fail finalizes log as an Error attempt. Per spec §4.8's error path, a
// command whose rule uses a dep-file still has its last_cook_usn
// recomputed from whatever inputs are currently known, even though the
// cook itself failed, so future input changes are still detected.
func (r *Runner) fail(commandID model.CommandID, rule *model.Rule, log *model.CookLog, err error) model.CookState {
	if log.Output != "" {
		log.Output += "\n"
	}
	log.Output += err.Error()
	log.EndTime = time.Now().UnixNano()
	log.SetState(model.CookStateError)
	if rule.DepFile.HasDepFile() {
		r.graph.UpdateCommand(commandID, func(dst *model.Command) {
			dst.LastCookUSN = r.maxInputUSN(*dst)
		})
	}
	return model.CookStateError
}

func (r *Runner) succeed(commandID model.CommandID, log *model.CookLog) model.CookState {
	log.EndTime = time.Now().UnixNano()
	log.SetState(model.CookStateWaiting)
	r.timeouts.register(log.ID, commandID)
	if r.kickDriveMonitor != nil {
		r.kickDriveMonitor()
	}
	return model.CookStateWaiting
}

// Cook runs a command's rule (spec §4.8/§4.9): preflight its inputs and
// output directories, format and run its command line (and, if the rule
// uses one, the dep-file regeneration command line after it), then
// transition the resulting CookLog to Waiting for journal confirmation
// or Error if anything failed.
func (r *Runner) Cook(commandID model.CommandID) model.CookState {
	rule := r.graph.Rule(r.graph.Command(commandID).Rule)
	log := r.allocateLog(commandID, false)

	r.graph.UpdateCommand(commandID, func(dst *model.Command) {
		dst.LastCookRuleVersion = rule.Version
		if !rule.DepFile.HasDepFile() {
			dst.LastCookUSN = r.maxInputUSN(*dst)
		}
	})
	c := r.graph.Command(commandID)

	for _, id := range c.Inputs {
		info := r.index.File(id)
		if info.IsDeleted() {
			return r.fail(commandID, rule, log, fmt.Errorf("input %s is missing", id))
		}
	}
	for _, id := range c.Outputs {
		info := r.index.File(id)
		if dir := info.Dir(); dir != "" {
			absoluteDir := r.repos[id.Repo()].Root + dir
			if err := r.fs.MkdirAll(absoluteDir); err != nil {
				return r.fail(commandID, rule, log, fmt.Errorf("creating output directory %s: %w", absoluteDir, err))
			}
		}
	}

	if rule.Type == model.CommandTypeCopyFile {
		return r.cookCopyFile(commandID, rule, c, log)
	}
	return r.cookCommandLine(commandID, rule, c, log)
}

func (r *Runner) cookCopyFile(commandID model.CommandID, rule *model.Rule, c model.Command, log *model.CookLog) model.CookState {
	if len(c.Inputs) != 1 || len(c.Outputs) != 1 || rule.DepFile.HasDepFile() {
		return r.fail(commandID, rule, log, errors.New("copy-file command must have exactly one input, one output, and no dep-file"))
	}
	src, dst := r.absolutePath(c.Inputs[0]), r.absolutePath(c.Outputs[0])
	if err := r.fs.CopyFile(src, dst); err != nil {
		return r.fail(commandID, rule, log, fmt.Errorf("copying %s to %s: %w", src, dst, err))
	}
	return r.succeed(commandID, log)
}

func (r *Runner) cookCommandLine(commandID model.CommandID, rule *model.Rule, c model.Command, log *model.CookLog) model.CookState {
	mainInfo := r.index.File(c.MainInput())
	ctx := rulegraph.FileTemplateContext(r.repos, mainInfo)
	workDir := r.repos[c.MainInput().Repo()].Root

	commandLine, err := template.Expand(rule.CommandLineTemplate, ctx)
	if err != nil {
		return r.fail(commandID, rule, log, fmt.Errorf("formatting command line: %w", err))
	}

	var output strings.Builder
	if err := r.proc.Run(context.Background(), commandLine, workDir, &output); err != nil {
		log.Output = output.String()
		return r.fail(commandID, rule, log, fmt.Errorf("command exited with error: %w", err))
	}

	if rule.DepFile.HasDepFile() && rule.DepFile.CommandLineTemplate != "" {
		depCommandLine, err := template.Expand(rule.DepFile.CommandLineTemplate, ctx)
		if err != nil {
			log.Output = output.String()
			return r.fail(commandID, rule, log, fmt.Errorf("formatting dep-file command line: %w", err))
		}
		if err := r.proc.Run(context.Background(), depCommandLine, workDir, &output); err != nil {
			log.Output = output.String()
			return r.fail(commandID, rule, log, fmt.Errorf("dep-file command exited with error: %w", err))
		}
	}

	log.Output = output.String()
	return r.succeed(commandID, log)
}

// Cleanup deletes a command's outputs from disk, used once every static
// input has disappeared (spec §4.8's worker loop). Like Cook it ends in
// Waiting rather than Success directly, so the DirtyEngine still gets to
// confirm (via subsequent journal records or the timeout path) that the
// outputs are really gone before marking the command cleaned up.
func (r *Runner) Cleanup(commandID model.CommandID) model.CookState {
	c := r.graph.Command(commandID)
	log := r.allocateLog(commandID, true)

	var output strings.Builder
	for _, id := range c.Outputs {
		path := r.absolutePath(id)
		if err := r.fs.RemoveFile(path); err != nil {
			fmt.Fprintf(&output, "removing %s: %v\n", path, err)
		}
	}

	log.Output = output.String()
	return r.succeed(commandID, log)
}
