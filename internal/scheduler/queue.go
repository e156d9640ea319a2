// Package scheduler implements the two bucketed priority queues from spec
// §4.8: the plain dirty set (this file's Queue) and the worker-facing cook
// queue (workqueue.go's WorkQueue, which additionally enforces the
// still-cooking priority gate).
package scheduler

import (
	"sync"

	"github.com/assetcooker/assetcooker/internal/model"
)

// Edge selects which end of a priority bucket Push inserts at.
type Edge int

const (
	// Back appends to the bucket; Pop takes from the back, so the most
	// recently Back-pushed command is popped first among its priority (LIFO).
	Back Edge = iota
	// Front inserts at the head of the bucket, so the command is popped
	// after everything already queued at that priority.
	Front
)

// RemoveOrder selects how Remove closes the gap left by a removed entry.
type RemoveOrder int

const (
	// AnyOrder removes in O(1) by swapping in the last element, disturbing
	// bucket order.
	AnyOrder RemoveOrder = iota
	// KeepOrder removes by shifting, preserving the relative order of the
	// remaining entries at O(n).
	KeepOrder
)

type bucket struct {
	priority int
	ids      []model.CommandID
}

// bucketsInsertionIndex returns the index at which a bucket with the given
// priority exists or should be inserted to keep buckets sorted ascending.
func bucketsInsertionIndex(buckets []bucket, priority int) (index int, exists bool) {
	for i := range buckets {
		if buckets[i].priority == priority {
			return i, true
		}
		if buckets[i].priority > priority {
			return i, false
		}
	}
	return len(buckets), false
}

// Queue is the plain bucketed priority structure backing the dirty set:
// every command currently considered dirty, independent of whether it's
// also sitting in the cook queue.
type Queue struct {
	mu      sync.Mutex
	buckets []bucket
}

// Push inserts id into the bucket for priority, at the given edge.
func (q *Queue) Push(id model.CommandID, priority int, edge Edge) {
	q.mu.Lock()
	defer q.mu.Unlock()
	index, exists := bucketsInsertionIndex(q.buckets, priority)
	if !exists {
		q.buckets = append(q.buckets, bucket{})
		copy(q.buckets[index+1:], q.buckets[index:])
		q.buckets[index] = bucket{priority: priority}
	}
	b := &q.buckets[index]
	if edge == Front {
		b.ids = append([]model.CommandID{id}, b.ids...)
	} else {
		b.ids = append(b.ids, id)
	}
}

// Pop returns and removes the back element of the lowest-priority
// non-empty bucket (LIFO within a bucket). Returns false if the queue is
// empty.
func (q *Queue) Pop() (model.CommandID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.buckets {
		b := &q.buckets[i]
		if len(b.ids) == 0 {
			continue
		}
		last := len(b.ids) - 1
		id := b.ids[last]
		b.ids = b.ids[:last]
		return id, true
	}
	return model.InvalidCommandID, false
}

// Remove deletes id from the bucket for priority, reporting whether it was
// present.
func (q *Queue) Remove(id model.CommandID, priority int, order RemoveOrder) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	index, exists := bucketsInsertionIndex(q.buckets, priority)
	if !exists {
		return false
	}
	b := &q.buckets[index]
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

// Len returns the total number of entries across all buckets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, b := range q.buckets {
		total += len(b.ids)
	}
	return total
}

// Entry pairs a queued CommandID with the priority of its bucket.
type Entry struct {
	ID       model.CommandID
	Priority int
}

// Items returns a snapshot of every entry currently in the queue, used by
// the dirty engine's Resume to repopulate the cook queue from the dirty
// set after a pause.
func (q *Queue) Items() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var items []Entry
	for _, b := range q.buckets {
		for _, id := range b.ids {
			items = append(items, Entry{ID: id, Priority: b.priority})
		}
	}
	return items
}
