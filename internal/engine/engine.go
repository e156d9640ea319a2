// Package engine wires together every subsystem spec §2 lists into one
// running Asset Cooker instance: configuration loading, cache
// restoration, the file index and rule graph, per-drive journal
// monitoring, the dirty/cook pipeline, and the RemoteControl ABI. It is
// the cmd/assetcooker entry point's only dependency.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/assetcooker/assetcooker/internal/cache"
	"github.com/assetcooker/assetcooker/internal/config"
	"github.com/assetcooker/assetcooker/internal/dirty"
	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/logging"
	"github.com/assetcooker/assetcooker/internal/model"
	"github.com/assetcooker/assetcooker/internal/remotecontrol"
	"github.com/assetcooker/assetcooker/internal/rulegraph"
	"github.com/assetcooker/assetcooker/internal/runner"
	"github.com/assetcooker/assetcooker/internal/scanner"
	"github.com/assetcooker/assetcooker/internal/scheduler"
	"github.com/assetcooker/assetcooker/internal/usnwatch"
)

// driveRuntime bundles one live drive's journal source and monitor
// alongside the model.Drive it was constructed from. firstUSN/lastNextUSN
// are only meaningful when accepted is false: they're the range
// BackfillChangeUSNs needs to sweep once InitialScanner's walk finishes.
type driveRuntime struct {
	drive    model.Drive
	source   usnSource
	monitor  *usnwatch.Monitor
	cancel   context.CancelFunc
	accepted bool
	firstUSN int64
	nextUSN  int64
}

// usnSource is the subset of usnwatch's volume source Engine needs
// directly at startup, ahead of handing the rest to the Monitor.
type usnSource interface {
	QueryJournal() (journalID uint64, firstUSN, nextUSN int64, err error)
	Close() error
}

// Engine owns one running instance's full subsystem graph.
type Engine struct {
	logger *logging.Logger
	cfg    config.Config

	repos     []model.Repo
	cachePath string

	index       *fileindex.Index
	graph       *rulegraph.Graph
	dirtyEngine *dirty.Engine
	scan        *scanner.Scanner
	run         *runner.Runner
	drives      []*driveRuntime

	control       *remotecontrol.Controller
	controlServer *remotecontrol.ControlServer

	threadCount int

	stop     chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup
	monitors sync.WaitGroup
}

// New loads configuration from configPath, validates it, restores
// whatever cache.Snapshot is compatible with the live drives, walks
// whatever isn't, and constructs every subsystem. It does not yet start
// any goroutines; call Run for that.
func New(logger *logging.Logger, configPath string) (*Engine, error) {
	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("engine: resolving config path: %w", err)
	}

	cfg, err := config.Load(absConfigPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("engine: invalid configuration: %w", err)
	}

	repos, modelDrives, rules, err := config.ToModel(cfg)
	if err != nil {
		return nil, err
	}

	threadCount := cfg.Preferences.ThreadCount
	if threadCount < 1 {
		threadCount = runtime.NumCPU()
	}

	cachePath := filepath.Join(cfg.CacheDir, "cache.bin")
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating cache directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating log directory: %w", err)
	}

	snapshot, loadErr := cache.Load(cachePath)
	haveCache := loadErr == nil
	if loadErr != nil && !os.IsNotExist(loadErr) {
		logger.Warnf("cache: %v; starting from a fresh scan", loadErr)
	}

	notifier := &notifierProxy{}
	index := fileindex.New(logger, repos, notifier)
	graph := rulegraph.New(logger, index, repos, rules)
	dirtyEngine := dirty.New(logger, index, graph, repos, osDepFileReader{repos: repos})
	notifier.target = dirtyEngine

	if haveCache {
		pending := cache.NewPendingCommandState(snapshot.Rules)
		graph.SetCommandCreatedHook(pending.Hook(index, graph))
	}

	e := &Engine{
		logger:      logger,
		cfg:         cfg,
		repos:       repos,
		cachePath:   cachePath,
		index:       index,
		graph:       graph,
		dirtyEngine: dirtyEngine,
		threadCount: threadCount,
		stop:        make(chan struct{}),
	}

	var needsScan []model.Repo
	for _, d := range modelDrives {
		dr, scanRepos, err := e.openDrive(d, snapshot, haveCache)
		if err != nil {
			return nil, err
		}
		e.drives = append(e.drives, dr)
		needsScan = append(needsScan, scanRepos...)
	}

	if err := e.runInitialScan(needsScan); err != nil {
		return nil, err
	}

	e.run = runner.New(runner.Config{
		Logger:              logger,
		Index:               index,
		Graph:               graph,
		Repos:               repos,
		FS:                  runner.NewOSFilesystem(),
		Proc:                runner.NewProcessRunner(),
		KickDriveMonitor:    e.kickAllMonitors,
		IsDriveMonitorIdle:  e.monitorsIdle,
		IncrementErrorCount: func() { dirtyEngine.CookQueue.IncrementErrorCount() },
		NotifyDirty:         func(id model.CommandID) { dirtyEngine.NotifyDirty(id) },
	})

	control, err := remotecontrol.New(logger.Sublogger("remotecontrol"), absConfigPath, uint32(os.Getpid()), e)
	if err != nil {
		return nil, err
	}
	e.control = control

	controlServer, err := remotecontrol.NewControlServer(control.Identity(), cfg.CacheDir, e)
	if err != nil {
		control.Close()
		return nil, err
	}
	e.controlServer = controlServer

	if cfg.Preferences.StartPaused {
		dirtyEngine.Pause()
		control.SetPaused(true)
	}

	return e, nil
}

// openDrive opens drive's volume source, decides whether the cache's
// recorded state for it is still usable (spec §4.10: acceptance is
// purely a function of the journal ID and first-available USN the live
// volume reports right now), restores whatever it can when it is, and
// constructs the drive's Monitor. It returns the repos on this drive
// that still need InitialScanner's full walk.
func (e *Engine) openDrive(d model.Drive, snapshot cache.Snapshot, haveCache bool) (*driveRuntime, []model.Repo, error) {
	source, err := usnwatch.NewVolumeSource(d.Letter)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: opening drive %s: %w", d.Letter, err)
	}

	journalID, firstUSN, nextUSN, err := source.QueryJournal()
	if err != nil {
		source.Close()
		return nil, nil, fmt.Errorf("engine: querying journal for drive %s: %w", d.Letter, err)
	}
	d.JournalID = journalID

	accepted := false
	if haveCache {
		if entry, ok := findDriveEntry(snapshot.Drives, d.Letter); ok && allReposPresent(entry, e.repos, d.Repos) {
			if cache.Accept(entry, journalID, firstUSN) {
				accepted = true
				d.NextUSN = entry.NextUSN
				d.LoadedFromCache = true
				e.restoreDriveFromCache(d, snapshot)
			}
		}
	}

	var needsScan []model.Repo
	if !accepted {
		d.NextUSN = nextUSN
		for _, repoIndex := range d.Repos {
			if err := e.seedRepoRoot(repoIndex); err != nil {
				source.Close()
				return nil, nil, err
			}
			needsScan = append(needsScan, e.repos[repoIndex])
		}
	}

	onNewDirectory := func(id model.FileID) { e.scanQueue(id) }
	monitor := usnwatch.New(e.logger.Sublogger("usnwatch."+d.Letter), e.index, e.repos, d, source, onNewDirectory)

	return &driveRuntime{
		drive:    d,
		source:   source,
		monitor:  monitor,
		accepted: accepted,
		firstUSN: firstUSN,
		nextUSN:  nextUSN,
	}, needsScan, nil
}

// seedRepoRoot establishes repo's root FileID by asking the OS for its
// reference number, the scan-from-scratch counterpart to
// cache.RestoreRepoFiles for a repo the cache already covered.
func (e *Engine) seedRepoRoot(repoIndex model.RepoIndex) error {
	repo := &e.repos[repoIndex]
	ref, err := rootRefNumber(repo.Root)
	if err != nil {
		return fmt.Errorf("engine: resolving root of repo %q: %w", repo.Name, err)
	}
	id, err := e.index.GetOrAdd(repoIndex, "", model.FileTypeDirectory, ref)
	if err != nil {
		return fmt.Errorf("engine: seeding repo %q: %w", repo.Name, err)
	}
	repo.RootFileID = id
	return nil
}

func findDriveEntry(entries []cache.DriveEntry, letter string) (cache.DriveEntry, bool) {
	for _, entry := range entries {
		if entry.Letter == letter {
			return entry, true
		}
	}
	return cache.DriveEntry{}, false
}

func allReposPresent(entry cache.DriveEntry, repos []model.Repo, indices []model.RepoIndex) bool {
	for _, idx := range indices {
		r := repos[idx]
		if !entry.HasRepo(r.Name, r.Root) {
			return false
		}
	}
	return true
}

// restoreDriveFromCache replays every repo on d from the cache snapshot
// into the file index, establishing each repo's root FileID.
func (e *Engine) restoreDriveFromCache(d model.Drive, snapshot cache.Snapshot) {
	for _, repoIndex := range d.Repos {
		name := e.repos[repoIndex].Name
		content, ok := findRepoContent(snapshot.Repos, name)
		if !ok {
			continue
		}
		rootID := cache.RestoreRepoFiles(e.index, repoIndex, content)
		e.repos[repoIndex].RootFileID = rootID
	}
}

func findRepoContent(contents []cache.RepoContent, name string) (cache.RepoContent, bool) {
	for _, c := range contents {
		if c.Name == name {
			return c, true
		}
	}
	return cache.RepoContent{}, false
}

// runInitialScan runs InitialScanner once over every repo that wasn't
// restored from cache (spec §4.4's two phases), then backfills
// last_change_usn for each such repo's drive from its journal history.
func (e *Engine) runInitialScan(needsScan []model.Repo) error {
	dirSource, err := scanner.NewWindowsDirSource()
	if err != nil {
		return fmt.Errorf("engine: opening directory source: %w", err)
	}
	e.scan = scanner.New(e.logger.Sublogger("scanner"), e.index, needsScan, dirSource)

	if len(needsScan) > 0 {
		workers := e.threadCount
		if workers > 4 {
			workers = 4
		}
		e.scan.Run(workers)
	}

	journalSource, err := scanner.NewWindowsJournalSource()
	if err != nil {
		e.logger.Warnf("opening journal source for backfill: %v", err)
		return nil
	}
	workers := e.threadCount
	if workers > 4 {
		workers = 4
	}
	for _, d := range e.drives {
		if d.accepted {
			continue
		}
		backfill := d.drive
		backfill.FirstUSN, backfill.NextUSN = d.firstUSN, d.nextUSN
		e.scan.BackfillChangeUSNs(backfill, journalSource, workers)
	}
	return nil
}

// scanQueue enqueues a newly-discovered directory with the scanner,
// implementing usnwatch's onNewDirectory hook (spec §4.3).
func (e *Engine) scanQueue(id model.FileID) {
	e.scan.Enqueue(id.Repo(), id)
}

func (e *Engine) kickAllMonitors() {
	for _, d := range e.drives {
		d.monitor.Kick()
	}
}

func (e *Engine) monitorsIdle() bool {
	for _, d := range e.drives {
		if !d.monitor.IsIdle() {
			return false
		}
	}
	return true
}

// Run starts every background goroutine (drive monitors, cook workers,
// the RemoteControl loop, the control-pipe server) and blocks until Stop
// is called or OnKill fires, then performs spec §5's shutdown sequence.
func (e *Engine) Run() error {
	for _, d := range e.drives {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		e.monitors.Add(1)
		go func(d *driveRuntime) {
			defer e.monitors.Done()
			if err := d.monitor.Run(ctx); err != nil && ctx.Err() == nil {
				e.logger.Errorf("drive %s monitor: %v", d.drive.Letter, err)
			}
		}(d)
	}

	for i := 0; i < e.threadCount; i++ {
		e.workers.Add(1)
		go func() {
			defer e.workers.Done()
			e.run.RunWorker(e.dirtyEngine.CookQueue)
		}()
	}

	go e.control.Run()
	go e.controlServer.Serve()

	<-e.stop
	return e.shutdown()
}

// Stop requests Run to return, idempotently.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// shutdown implements spec §5's ordering: stop handing out new work,
// join the cook workers, stop the timeout thread, stop every drive
// monitor, save the cache, then tear down RemoteControl.
func (e *Engine) shutdown() error {
	e.dirtyEngine.CookQueue.Stop()
	e.workers.Wait()

	e.run.Stop()

	for _, d := range e.drives {
		d.cancel()
		d.monitor.Kick()
	}
	e.monitors.Wait()
	for _, d := range e.drives {
		d.source.Close()
	}

	if err := e.saveCache(); err != nil {
		e.logger.Errorf("saving cache: %v", err)
	}

	e.controlServer.Close()
	e.control.Close()
	return nil
}

func (e *Engine) saveCache() error {
	drives := make([]model.Drive, len(e.drives))
	for i, d := range e.drives {
		drives[i] = d.drive
	}
	return cache.Save(e.cachePath, drives, e.index, e.repos, e.graph)
}

// OnKill implements remotecontrol.Handler.
func (e *Engine) OnKill() { e.Stop() }

// OnPause implements remotecontrol.Handler.
func (e *Engine) OnPause() {
	e.dirtyEngine.Pause()
	e.control.SetPaused(true)
}

// OnUnpause implements remotecontrol.Handler.
func (e *Engine) OnUnpause() {
	e.dirtyEngine.Resume()
	e.control.SetPaused(false)
}

// OnShowWindow implements remotecontrol.Handler. Asset Cooker's window is
// a UI-layer concern outside this module's scope (SPEC_FULL.md's
// Non-goals); the engine only logs the request so a UI built against it
// has something to hook.
func (e *Engine) OnShowWindow() {
	e.logger.Debug("remote control requested the window be shown")
}

// Status implements remotecontrol.StatusSource.
func (e *Engine) Status() remotecontrol.StatusReport {
	errored := e.ErroredCommands()
	return remotecontrol.StatusReport{
		ProcessID:    uint32(os.Getpid()),
		Paused:       e.dirtyEngine.CookQueue.IsPaused(),
		Idle:         e.dirtyEngine.CookQueue.IsIdle() && e.monitorsIdle(),
		CommandCount: e.graph.CommandCount(),
		DirtyCount:   e.dirtyEngine.DirtySet.Len(),
		ErrorCount:   len(errored),
	}
}

// ErroredCommands implements remotecontrol.StatusSource.
func (e *Engine) ErroredCommands() []remotecontrol.ErroredCommand {
	var out []remotecontrol.ErroredCommand
	e.graph.EachCommand(func(id model.CommandID, c *model.Command) {
		if c.LastLog == nil || c.LastLog.GetState() != model.CookStateError {
			return
		}
		rule := e.graph.Rule(c.Rule)
		out = append(out, remotecontrol.ErroredCommand{
			ID:     uint64(id),
			Rule:   rule.Name,
			Input:  e.index.File(c.MainInput()).Path,
			Output: c.LastLog.Output,
		})
	})
	return out
}

// RequeueErrored implements remotecontrol.StatusSource: it pushes an
// errored command back onto the cook queue, mirroring the retrigger path
// dirty.Engine.UpdateDirty takes when an errored command's inputs
// change.
func (e *Engine) RequeueErrored(id uint64) error {
	if id == 0 || id > uint64(e.graph.CommandCount()) {
		return fmt.Errorf("engine: no such command %d", id)
	}
	commandID := model.CommandID(id)
	c := e.graph.Command(commandID)
	if c.ID != commandID {
		return fmt.Errorf("engine: no such command %d", id)
	}
	if c.LastLog == nil || c.LastLog.GetState() != model.CookStateError {
		return fmt.Errorf("engine: command %d is not in the error state", id)
	}
	rule := e.graph.Rule(c.Rule)
	e.dirtyEngine.CookQueue.Push(commandID, rule.Priority, scheduler.Back)
	return nil
}

// RequeueAllErrored implements remotecontrol.StatusSource: it re-queues
// every command currently in the Error state in one pass, the batch
// counterpart to RequeueErrored's single-id form. It returns the number
// of commands requeued.
func (e *Engine) RequeueAllErrored() int {
	n := 0
	for _, ec := range e.ErroredCommands() {
		if err := e.RequeueErrored(ec.ID); err == nil {
			n++
		}
	}
	return n
}

// ForceCook implements remotecontrol.StatusSource: it jumps a command to
// the front of the cook queue regardless of its current dirty state, the
// manual "select and cook" action a GUI would expose as a context-menu
// item. A command already cooking or waiting is left alone.
func (e *Engine) ForceCook(id uint64) error {
	if id == 0 || id > uint64(e.graph.CommandCount()) {
		return fmt.Errorf("engine: no such command %d", id)
	}
	commandID := model.CommandID(id)
	c := e.graph.Command(commandID)
	if c.ID != commandID {
		return fmt.Errorf("engine: no such command %d", id)
	}
	if c.LastLog != nil {
		switch c.LastLog.GetState() {
		case model.CookStateCooking, model.CookStateWaiting:
			return nil
		}
	}

	rule := e.graph.Rule(c.Rule)
	e.dirtyEngine.CookQueue.Remove(commandID, rule.Priority, scheduler.AnyOrder)
	e.dirtyEngine.CookQueue.Push(commandID, rule.Priority, scheduler.Front)
	return nil
}
