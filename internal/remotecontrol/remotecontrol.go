// Package remotecontrol implements the RemoteControl component from
// spec §4.11: a single-process exclusive lock plus a small set of
// named inter-process signals identifying one running instance by its
// configuration file's absolute path. A dedicated thread waits on the
// action events (Kill, Pause, Unpause, ShowWindow) and invokes the
// matching Handler method; the engine drives the status events
// (IsPaused, IsIdle, HasErrors) whenever observable state changes.
//
// A second, richer channel — a named pipe dialed via the pipe-name-
// record-file pattern from the teacher's pkg/daemon/ipc_windows.go —
// carries the "assetcooker status" and "assetcooker cook-errored"
// request/response traffic that doesn't fit in the spec-mandated
// shared-memory struct (see control.go).
package remotecontrol

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/assetcooker/assetcooker/internal/logging"
)

// Action is one of the four auto-reset events a remote client can
// signal on a running instance.
type Action uint8

const (
	ActionKill Action = iota
	ActionPause
	ActionUnpause
	ActionShowWindow
)

func (a Action) String() string {
	switch a {
	case ActionKill:
		return "Kill"
	case ActionPause:
		return "Pause"
	case ActionUnpause:
		return "Unpause"
	case ActionShowWindow:
		return "ShowWindow"
	default:
		return "unknown"
	}
}

// Status is one of the three manual-reset events the engine publishes.
type Status uint8

const (
	StatusIsPaused Status = iota
	StatusIsIdle
	StatusHasErrors
)

func (s Status) String() string {
	switch s {
	case StatusIsPaused:
		return "IsPaused"
	case StatusIsIdle:
		return "IsIdle"
	case StatusHasErrors:
		return "HasErrors"
	default:
		return "unknown"
	}
}

// Handler receives actions signalled by a remote client. Its methods
// run on the RemoteControl thread (spec §5) and must not block.
type Handler interface {
	OnKill()
	OnPause()
	OnUnpause()
	OnShowWindow()
}

// Identity computes the "Asset Cooker <16-hex-digits>" instance
// identifier from a configuration file's absolute path, per spec
// §4.11/§6: the FNV-1a-64 hash of the path, lowercased, with forward
// slashes normalized to backslashes.
func Identity(absConfigPath string) string {
	normalized := strings.ToLower(strings.ReplaceAll(absConfigPath, "/", `\`))
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("Asset Cooker %016x", h.Sum64())
}

// backend abstracts the OS-level named event, mutex, and shared-memory
// primitives, so Controller has exactly one seam that differs between
// Windows and every other platform (this tool has no non-Windows
// production target; the other side of the seam exists so the package
// still builds and its protocol-level logic is still testable off
// Windows, matching the teacher's watch_native_unsupported.go idiom).
type backend interface {
	// tryAcquireInstanceLock attempts the process-wide exclusive lock
	// that prevents a second instance from running against the same
	// configuration. ok is false, with a nil error, if another live
	// instance already holds it.
	tryAcquireInstanceLock() (ok bool, err error)
	// publishProcessID writes {version: 0, process_id: pid} to the
	// identity's shared-memory section.
	publishProcessID(pid uint32) error
	// waitAction blocks until an action event fires or stop is closed,
	// returning ok=false in the latter case.
	waitAction(stop <-chan struct{}) (a Action, ok bool)
	// setStatus sets or resets a manual-reset status event.
	setStatus(s Status, on bool)
	close() error
}

// remoteBackend is the minimal surface Signal needs to poke a
// *different*, already-running instance's action event without
// constructing a full Controller (no lock, no shared memory, no
// status events — just "set this one named event").
type remoteBackend interface {
	signal(identity string, a Action) error
}

// Controller owns one running instance's RemoteControl ABI.
type Controller struct {
	logger   *logging.Logger
	identity string
	backend  backend
	handler  Handler

	stop chan struct{}
	done chan struct{}
}

// New acquires the single-instance lock and publishes this process's
// id under identity's shared-memory section. It returns an error if
// another instance already holds the lock for the same configuration
// file.
func New(logger *logging.Logger, absConfigPath string, pid uint32, handler Handler) (*Controller, error) {
	identity := Identity(absConfigPath)
	b, err := newBackend(identity)
	if err != nil {
		return nil, fmt.Errorf("remotecontrol: %w", err)
	}

	acquired, err := b.tryAcquireInstanceLock()
	if err != nil {
		b.close()
		return nil, fmt.Errorf("remotecontrol: acquiring instance lock: %w", err)
	}
	if !acquired {
		b.close()
		return nil, fmt.Errorf("remotecontrol: another Asset Cooker instance is already running for %s", absConfigPath)
	}

	if err := b.publishProcessID(pid); err != nil {
		b.close()
		return nil, fmt.Errorf("remotecontrol: publishing process id: %w", err)
	}

	return &Controller{
		logger:   logger,
		identity: identity,
		backend:  b,
		handler:  handler,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Identity returns the instance identifier this controller was created
// with.
func (c *Controller) Identity() string {
	return c.identity
}

// Run blocks on the action events until Stop is called, invoking the
// matching Handler method for every signal (spec §4.11).
func (c *Controller) Run() {
	defer close(c.done)
	for {
		action, ok := c.backend.waitAction(c.stop)
		if !ok {
			return
		}
		c.logger.Debugf("remote control action: %s", action)
		switch action {
		case ActionKill:
			c.handler.OnKill()
		case ActionPause:
			c.handler.OnPause()
		case ActionUnpause:
			c.handler.OnUnpause()
		case ActionShowWindow:
			c.handler.OnShowWindow()
		}
	}
}

// Stop requests Run to return and waits for it to do so. Per spec §5's
// shutdown procedure, "the RemoteControl thread is stopped by setting
// an action event after flipping its stop flag": closing c.stop is
// that flag, and the platform backend's waitAction selects on it
// alongside the OS wait.
func (c *Controller) Stop() {
	close(c.stop)
	<-c.done
}

// SetPaused publishes the IsPaused status event. Per spec §4.11, this
// must be called once at startup (before cooking begins) to reflect
// whatever start-paused preference or queued remote Pause/Unpause
// action was already pending, and again on every pause-state change.
func (c *Controller) SetPaused(paused bool) { c.backend.setStatus(StatusIsPaused, paused) }

// SetIdle publishes the IsIdle status event.
func (c *Controller) SetIdle(idle bool) { c.backend.setStatus(StatusIsIdle, idle) }

// SetHasErrors publishes the HasErrors status event.
func (c *Controller) SetHasErrors(hasErrors bool) { c.backend.setStatus(StatusHasErrors, hasErrors) }

// Close releases the instance lock, shared memory, and event handles.
func (c *Controller) Close() error {
	return c.backend.close()
}

// Signal opens an already-running instance's named action event,
// identified by its configuration file's absolute path, and sets it.
// This is what the CLI's "assetcooker pause/unpause/kill/show-window"
// subcommands do: they never construct a Controller, since only the
// owning instance holds the lock.
func Signal(absConfigPath string, a Action) error {
	b, err := newRemoteBackend()
	if err != nil {
		return fmt.Errorf("remotecontrol: %w", err)
	}
	return b.signal(Identity(absConfigPath), a)
}
