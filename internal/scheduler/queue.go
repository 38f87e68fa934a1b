package scheduler

import (
	"sync"
	"time"

	"github.com/me/qcpipe/pkg/model"
)

// Queue is an unbounded FIFO of jobs shared by all workers.
type Queue struct {
	mu    sync.Mutex
	items []model.JobSpec
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends job to the tail of the queue.
func (q *Queue) Push(job model.JobSpec) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.signal()
}

// Pop removes the head of the queue, waiting up to timeout for an item.
// It returns false on timeout or when cancel is closed.
func (q *Queue) Pop(timeout time.Duration, cancel <-chan struct{}) (model.JobSpec, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-cancel:
			return model.JobSpec{}, false
		default:
		}
		if job, ok := q.tryPop(); ok {
			return job, true
		}
		select {
		case <-q.ready:
		case <-timer.C:
			return model.JobSpec{}, false
		case <-cancel:
			return model.JobSpec{}, false
		}
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) tryPop() (model.JobSpec, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return model.JobSpec{}, false
	}
	job := q.items[0]
	q.items[0] = model.JobSpec{}
	q.items = q.items[1:]
	more := len(q.items) > 0
	q.mu.Unlock()

	// Wake the next waiter if work remains.
	if more {
		q.signal()
	}
	return job, true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
