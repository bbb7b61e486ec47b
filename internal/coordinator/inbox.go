package coordinator

import (
	"context"
	"sync"
)

// inbox runs work handed over by bus callbacks on one goroutine owned by
// the coordinator, in arrival order. Callbacks only append, so a job may
// publish and wait for the broker's acknowledgment without holding up
// delivery of the next message.
type inbox struct {
	jobs   []func(context.Context)
	wake   chan struct{}
	done   chan struct{}
	idle   *sync.Cond
	mu     sync.Mutex
	busy   bool
	closed bool
}

func newInbox() *inbox {
	b := &inbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// post queues job. It reports false once the inbox has stopped.
func (b *inbox) post(job func(context.Context)) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.jobs = append(b.jobs, job)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// run executes jobs until ctx is done. Jobs still queued at that point
// are discarded.
func (b *inbox) run(ctx context.Context) {
	defer func() {
		b.mu.Lock()
		b.closed = true
		b.jobs = nil
		b.busy = false
		b.idle.Broadcast()
		b.mu.Unlock()
		close(b.done)
	}()

	for {
		b.mu.Lock()
		for len(b.jobs) == 0 {
			b.busy = false
			b.idle.Broadcast()
			b.mu.Unlock()
			select {
			case <-b.wake:
			case <-ctx.Done():
				return
			}
			b.mu.Lock()
		}
		job := b.jobs[0]
		b.jobs = b.jobs[1:]
		b.busy = true
		b.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}
}

// settle blocks until every job posted so far has run, or the inbox has
// stopped.
func (b *inbox) settle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for (len(b.jobs) > 0 || b.busy) && !b.closed {
		b.idle.Wait()
	}
}
