package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/logging"
)

// AckFunc publishes an acknowledgment addressed to a worker identity.
type AckFunc func(ctx context.Context, id string) error

// registration is the registry's private record for one identity.
type registration struct {
	firstSeen    time.Time
	id           string
	acknowledged bool
	acking       bool
}

// Registry is the de-duplicated set of worker identities seen during one
// run, together with the quiescence timer that decides when discovery is
// complete.
//
// Membership only grows. An identity is acknowledged exactly once: if an
// ack publish fails, the next registration from that identity retries it,
// and once an ack has gone out further registrations are absorbed.
//
// Discovery state machine:
//
//	WAITING ──(set non-empty and now-lastSeen > timeout)──▶ READY
//
// lastSeen moves forward on every new identity. While the set is empty it
// tracks the clock, so an idle coordinator never becomes ready.
//
// Concurrency Model:
//   - One mutex guards the set and lastSeen for readers and writers alike
//   - No lock is held while publishing an ack
//   - Snapshot and Registrations return copies
type Registry struct {
	records  map[string]*registration
	ack      AckFunc
	now      func() time.Time
	log      *logging.Logger
	lastSeen time.Time
	order    []string
	timeout  time.Duration
	mu       sync.Mutex
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClock replaces time.Now. Tests use it to drive the quiescence timer.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry whose quiescence window is timeout.
// ack is called once for each newly observed identity.
//
// Example:
//
//	reg := NewRegistry(5*time.Second, func(ctx context.Context, id string) error {
//	    return b.Publish(ctx, "fleet/ack", []byte(id))
//	}, log)
func NewRegistry(timeout time.Duration, ack AckFunc, log *logging.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		records: make(map[string]*registration),
		ack:     ack,
		now:     time.Now,
		timeout: timeout,
		log:     log.WithComponent("registry"),
	}
	for _, o := range opts {
		o(r)
	}
	r.lastSeen = r.now()
	return r
}

// Observe records a registration announcement for id and acknowledges it
// if it has not been acknowledged yet. It reports whether id was new.
func (r *Registry) Observe(ctx context.Context, id string) bool {
	r.mu.Lock()
	rec, exists := r.records[id]
	if !exists {
		rec = &registration{id: id, firstSeen: r.now()}
		r.records[id] = rec
		r.order = append(r.order, id)
		r.lastSeen = rec.firstSeen
	}
	needAck := !rec.acknowledged && !rec.acking
	if needAck {
		rec.acking = true
	}
	total := len(r.order)
	r.mu.Unlock()

	if exists {
		r.log.Debug("duplicate registration", "id", id)
	} else {
		r.log.Info("registered new worker", "id", id, "workers", total)
	}
	if !needAck {
		return !exists
	}

	err := r.ack(ctx, id)

	r.mu.Lock()
	rec.acking = false
	rec.acknowledged = err == nil
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("failed to acknowledge worker, will retry on next registration", "id", id, "error", err)
	} else {
		r.log.Debug("acknowledged worker", "id", id)
	}
	return !exists
}

// Ready reports whether discovery is complete: at least one worker is
// known and none has joined for longer than the quiescence window.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if len(r.order) == 0 {
		r.lastSeen = now
		return false
	}
	return now.Sub(r.lastSeen) > r.timeout
}

// WaitReady polls Ready every interval until it holds or ctx is done.
// The first check happens immediately.
func (r *Registry) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if r.Ready() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info("waiting for workers", "quiescence", r.timeout)
	for {
		select {
		case <-ticker.C:
			if r.Ready() {
				r.log.Info("discovery complete", "workers", r.Len())
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Snapshot returns the registered identities in first-seen order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Contains reports whether id has registered.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

// Registrations returns a copy of every record in first-seen order.
func (r *Registry) Registrations() []cluster.Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cluster.Registration, 0, len(r.order))
	for _, id := range r.order {
		rec := r.records[id]
		out = append(out, cluster.Registration{
			ID:           rec.id,
			FirstSeen:    rec.firstSeen,
			Acknowledged: rec.acknowledged,
		})
	}
	return out
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
