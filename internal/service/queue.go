package service

import (
	"sync"

	"github.com/punchamoorthee/bookpay/internal/telemetry"
)

// PendingQueue is a FIFO of gateway operation ids awaiting confirmation.
// An id is present at most once.
type PendingQueue struct {
	mu  sync.Mutex
	ids []string
	set map[string]struct{}
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{set: make(map[string]struct{})}
}

// Push appends id unless it is already queued.
func (q *PendingQueue) Push(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.set[id]; ok {
		return false
	}
	q.set[id] = struct{}{}
	q.ids = append(q.ids, id)
	telemetry.PendingQueueDepth.Set(float64(len(q.ids)))
	return true
}

// Remove drops id wherever it is in the queue.
func (q *PendingQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.set[id]; !ok {
		return false
	}
	delete(q.set, id)
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	telemetry.PendingQueueDepth.Set(float64(len(q.ids)))
	return true
}

// Snapshot returns the queued ids in enqueue order.
func (q *PendingQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}

func (q *PendingQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.set[id]
	return ok
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ids)
}

func (q *PendingQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ids = nil
	clear(q.set)
	telemetry.PendingQueueDepth.Set(0)
}
