package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1000

// Queue is a bounded, priority-ordered command queue.
type Queue struct {
	mu       sync.Mutex
	lanes    [command.NumPriorities][]command.Request
	ids      map[string]command.Priority
	count    int
	capacity int
	nextSeq  uint64

	processed uint64
	rejected  uint64

	// wake is closed and replaced on every enqueue to release waiters.
	wake chan struct{}
}

// New creates a queue holding at most capacity commands.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ids:      make(map[string]command.Priority),
		capacity: capacity,
		wake:     make(chan struct{}),
	}
}

// Enqueue adds req and returns it with its assigned sequence number.
//
// Returns:
//   - command.ErrQueueFull when the queue holds Capacity commands
//   - command.ErrDuplicateID when a command with the same ID is queued
//   - command.ErrInvalidRequest for an empty ID or unknown priority
func (q *Queue) Enqueue(req command.Request) (command.Request, error) {
	return q.EnqueueThen(req, nil)
}

// EnqueueThen is Enqueue that also calls then with the sequenced request
// after it is admitted but before any waiting Dequeue can take it. then
// runs under the queue lock and must not block or call back into q.
func (q *Queue) EnqueueThen(req command.Request, then func(command.Request)) (command.Request, error) {
	if req.ID == "" {
		return req, fmt.Errorf("%w: id required", command.ErrInvalidRequest)
	}
	if !req.Priority.Valid() {
		return req, fmt.Errorf("%w: unknown priority %d", command.ErrInvalidRequest, int(req.Priority))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.ids[req.ID]; exists {
		return req, fmt.Errorf("%w: %s", command.ErrDuplicateID, req.ID)
	}
	if q.count >= q.capacity {
		q.rejected++
		return req, command.ErrQueueFull
	}

	q.nextSeq++
	req.Sequence = q.nextSeq
	q.lanes[req.Priority] = append(q.lanes[req.Priority], req)
	q.ids[req.ID] = req.Priority
	q.count++

	if then != nil {
		then(req)
	}

	close(q.wake)
	q.wake = make(chan struct{})

	return req, nil
}

// TryDequeue removes and returns the next command without blocking.
func (q *Queue) TryDequeue() (command.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Dequeue removes and returns the next command, waiting until one is
// available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (command.Request, error) {
	for {
		q.mu.Lock()
		if req, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return req, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return command.Request{}, ctx.Err()
		case <-wake:
		}
	}
}

func (q *Queue) popLocked() (command.Request, bool) {
	for p := command.NumPriorities - 1; p >= 0; p-- {
		lane := q.lanes[p]
		if len(lane) == 0 {
			continue
		}
		req := lane[0]
		lane[0] = command.Request{}
		q.lanes[p] = lane[1:]
		if len(q.lanes[p]) == 0 {
			q.lanes[p] = nil
		}
		delete(q.ids, req.ID)
		q.count--
		q.processed++
		return req, true
	}
	return command.Request{}, false
}

// Remove drops a queued command by ID. It reports whether it was queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.ids[id]
	if !ok {
		return false
	}
	lane := q.lanes[p]
	for i := range lane {
		if lane[i].ID == id {
			q.lanes[p] = append(lane[:i:i], lane[i+1:]...)
			break
		}
	}
	delete(q.ids, id)
	q.count--
	return true
}

// Contains reports whether a command is queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.ids[id]
	return ok
}

// Clear discards every queued command and returns how many were dropped.
// The state store is not touched.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	for p := range q.lanes {
		q.lanes[p] = nil
	}
	q.ids = make(map[string]command.Priority)
	q.count = 0
	return n
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// IsEmpty reports whether the queue holds no commands.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Capacity returns the maximum number of queued commands.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Stats returns a consistent snapshot of queue counters.
func (q *Queue) Stats() command.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byPriority := make(map[string]int, command.NumPriorities)
	for _, p := range command.AllPriorities() {
		byPriority[p.String()] = len(q.lanes[p])
	}
	return command.QueueStats{
		TotalCount:     q.count,
		ProcessedCount: q.processed,
		FailedCount:    q.rejected,
		Capacity:       q.capacity,
		ByPriority:     byPriority,
	}
}
