package runner

import (
	"sync"
	"time"

	"github.com/assetcooker/assetcooker/internal/model"
)

// timeoutWindow is how long a CookLog may sit in CookStateWaiting, once
// the drive monitor has gone idle, before it's declared Error (spec
// §4.8).
const timeoutWindow = 300 * time.Millisecond

// pollInterval is how often the tracker rechecks drive-monitor idleness
// while a batch's window is being held open.
const pollInterval = 10 * time.Millisecond

type timeoutEntry struct {
	logID     uint64
	commandID model.CommandID
}

// timeoutTracker is the dedicated "Timeout / Waiting confirmation" thread
// from spec §4.8: two alternating batches of outstanding CookLog IDs.
// Every ~300ms (extended for as long as the drive monitor reports it
// isn't idle, since a busy journal means more output-confirmation
// records may still be on the way) the current batch is swapped out and
// anything in it still Waiting is demoted to Error.
type timeoutTracker struct {
	mu           sync.Mutex
	currentBatch []timeoutEntry
	nextBatch    []timeoutEntry
	wake         chan struct{}
	stop         chan struct{}

	isMonitorIdle func() bool
	onExpire      func(logID uint64, commandID model.CommandID)
}

func newTimeoutTracker(isMonitorIdle func() bool, onExpire func(logID uint64, commandID model.CommandID)) *timeoutTracker {
	return &timeoutTracker{
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		isMonitorIdle: isMonitorIdle,
		onExpire:      onExpire,
	}
}

// register adds logID/commandID to the batch that will next come up for
// timeout, waking the run loop if it's idle.
func (t *timeoutTracker) register(logID uint64, commandID model.CommandID) {
	t.mu.Lock()
	t.nextBatch = append(t.nextBatch, timeoutEntry{logID: logID, commandID: commandID})
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Stop permanently halts the run loop.
func (t *timeoutTracker) Stop() {
	close(t.stop)
}

// run is the dedicated thread's body; callers start it with `go`.
func (t *timeoutTracker) run() {
	for {
		t.mu.Lock()
		for len(t.nextBatch) == 0 {
			t.mu.Unlock()
			select {
			case <-t.wake:
			case <-t.stop:
				return
			}
			t.mu.Lock()
		}
		t.currentBatch, t.nextBatch = t.nextBatch, t.currentBatch[:0]
		batch := t.currentBatch
		t.mu.Unlock()

		if !t.waitForWindow() {
			return
		}

		for _, entry := range batch {
			t.onExpire(entry.logID, entry.commandID)
		}
	}
}

// waitForWindow blocks for timeoutWindow, restarting the window any time
// the drive monitor reports it isn't idle yet. Returns false if Stop was
// called while waiting.
func (t *timeoutTracker) waitForWindow() bool {
	deadline := time.Now().Add(timeoutWindow)
	for {
		if t.isMonitorIdle == nil || t.isMonitorIdle() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return true
			}
			select {
			case <-time.After(remaining):
				return true
			case <-t.stop:
				return false
			}
		}

		select {
		case <-time.After(pollInterval):
			deadline = time.Now().Add(timeoutWindow)
		case <-t.stop:
			return false
		}
	}
}
