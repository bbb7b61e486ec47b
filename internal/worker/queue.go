package worker

import (
	"sync"
	"time"
)

type queued struct {
	text     string
	seq      uint64
	sentinel bool
}

// commandQueue is an unbounded FIFO with a single consumer. put never
// blocks, so the bus callback that feeds it cannot stall behind a slow
// command.
type commandQueue struct {
	signal chan struct{}
	items  []queued
	mu     sync.Mutex
}

func newCommandQueue() *commandQueue {
	return &commandQueue{signal: make(chan struct{}, 1)}
}

func (q *commandQueue) put(item queued) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// get returns the oldest item, waiting up to timeout for one to arrive.
func (q *commandQueue) get(timeout time.Duration) (queued, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = queued{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-timer.C:
			return queued{}, false
		}
	}
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if !it.sentinel {
			n++
		}
	}
	return n
}
