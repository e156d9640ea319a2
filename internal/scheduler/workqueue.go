package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/assetcooker/assetcooker/internal/model"
)

// WorkQueue is the worker-facing cook queue from spec §4.8: the same
// bucketed-by-priority structure as Queue, but Pop additionally tracks a
// per-priority "still cooking" counter and blocks rather than skipping
// past an empty bucket whose counter is nonzero — this is what guarantees
// no priority-N command starts before every priority-<N command has
// finished or failed.
type WorkQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buckets      []bucket
	stillCooking map[int]int

	paused  bool
	stopped bool

	// errorCount is the global error counter from spec §4.8's worker loop:
	// bumped whenever a popped command ends in Error.
	errorCount atomic.Int64
}

// IncrementErrorCount bumps the global error counter, called by the
// worker loop when a command ends in Error.
func (w *WorkQueue) IncrementErrorCount() int64 {
	return w.errorCount.Add(1)
}

// ErrorCount returns the current global error counter value.
func (w *WorkQueue) ErrorCount() int64 {
	return w.errorCount.Load()
}

// NewWorkQueue creates an empty, unpaused, unstopped WorkQueue.
func NewWorkQueue() *WorkQueue {
	w := &WorkQueue{stillCooking: make(map[int]int)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Push inserts id into the bucket for priority, at the given edge, and
// wakes any worker blocked in Pop.
func (w *WorkQueue) Push(id model.CommandID, priority int, edge Edge) {
	w.mu.Lock()
	index, exists := bucketsInsertionIndex(w.buckets, priority)
	if !exists {
		w.buckets = append(w.buckets, bucket{})
		copy(w.buckets[index+1:], w.buckets[index:])
		w.buckets[index] = bucket{priority: priority}
	}
	b := &w.buckets[index]
	if edge == Front {
		b.ids = append([]model.CommandID{id}, b.ids...)
	} else {
		b.ids = append(b.ids, id)
	}
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Remove deletes id from the bucket for priority, reporting whether it was
// present. It does not touch the still-cooking counter: removal happens
// because a command stopped being dirty before a worker ever popped it.
func (w *WorkQueue) Remove(id model.CommandID, priority int, order RemoveOrder) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	index, exists := bucketsInsertionIndex(w.buckets, priority)
	if !exists {
		return false
	}
	b := &w.buckets[index]
	for i, existing := range b.ids {
		if existing != id {
			continue
		}
		if order == KeepOrder {
			b.ids = append(b.ids[:i], b.ids[i+1:]...)
		} else {
			last := len(b.ids) - 1
			b.ids[i] = b.ids[last]
			b.ids = b.ids[:last]
		}
		return true
	}
	return false
}

// Pop blocks until a command is runnable under the priority gate, the
// queue is paused (in which case it keeps blocking), or Stop is called
// (in which case it returns false). A bucket is only skipped once it is
// both empty and has no commands still cooking at that priority;
// otherwise Pop blocks rather than reaching into a lower priority.
func (w *WorkQueue) Pop() (model.CommandID, int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if w.stopped {
			return model.InvalidCommandID, 0, false
		}
		if !w.paused {
			if id, priority, ok := w.popLocked(); ok {
				return id, priority, true
			}
		}
		w.cond.Wait()
	}
}

// popLocked must be called with w.mu held. It returns false if no bucket
// currently has a runnable command (whether because every bucket is empty
// with nothing cooking, or because a higher-priority bucket is gating).
func (w *WorkQueue) popLocked() (model.CommandID, int, bool) {
	for i := range w.buckets {
		b := &w.buckets[i]
		if len(b.ids) > 0 {
			last := len(b.ids) - 1
			id := b.ids[last]
			b.ids = b.ids[:last]
			w.stillCooking[b.priority]++
			return id, b.priority, true
		}
		if w.stillCooking[b.priority] > 0 {
			return model.InvalidCommandID, 0, false
		}
	}
	return model.InvalidCommandID, 0, false
}

// FinishedCooking decrements the still-cooking counter for priority and
// wakes blocked workers, so a lower priority can proceed once every
// higher-priority command has settled.
func (w *WorkQueue) FinishedCooking(priority int) {
	w.mu.Lock()
	w.stillCooking[priority]--
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Pause prevents Pop from returning new work until Unpause is called;
// commands already popped keep running.
func (w *WorkQueue) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Clear empties every bucket without touching the still-cooking counters,
// implementing the "pausing clears the worker queue" half of spec §4.8's
// pause/resume description. The dirty set, held separately by the
// caller, is left untouched.
func (w *WorkQueue) Clear() {
	w.mu.Lock()
	for i := range w.buckets {
		w.buckets[i].ids = nil
	}
	w.mu.Unlock()
}

// Unpause resumes Pop.
func (w *WorkQueue) Unpause() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	w.cond.Broadcast()
}

// IsPaused reports whether the queue is currently paused.
func (w *WorkQueue) IsPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Stop permanently unblocks every worker's Pop, making it return false.
func (w *WorkQueue) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// IsIdle reports whether every bucket is empty and nothing is still
// cooking anywhere: no worker has anything to do and none will produce
// more work.
func (w *WorkQueue) IsIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.buckets {
		if len(b.ids) > 0 {
			return false
		}
	}
	for _, count := range w.stillCooking {
		if count > 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of queued (not-yet-popped) entries across
// all buckets.
func (w *WorkQueue) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := 0
	for _, b := range w.buckets {
		total += len(b.ids)
	}
	return total
}
