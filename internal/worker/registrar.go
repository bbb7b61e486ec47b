package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/logging"
)

// RegistrarOptions tunes a Registrar.
type RegistrarOptions struct {
	Topic string
	// Interval separates announcements. Defaults to five seconds.
	Interval time.Duration
	// StartupDelay precedes the first announcement so the rest of the
	// worker can come up first.
	StartupDelay time.Duration
	// PublishTimeout bounds each announcement publish.
	PublishTimeout time.Duration
}

// Registrar announces a worker identity until the coordinator acknowledges
// it. There is no cap on attempts.
type Registrar struct {
	bus      bus.Bus
	log      *logging.Logger
	acked    chan struct{}
	id       string
	opts     RegistrarOptions
	attempts atomic.Int64
	ackOnce  sync.Once
}

// NewRegistrar builds a Registrar for id. HandleAck must be subscribed to
// the ack topic by the caller.
func NewRegistrar(b bus.Bus, id string, opts RegistrarOptions, log *logging.Logger) *Registrar {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Registrar{
		bus:   b,
		id:    id,
		opts:  opts,
		log:   log.WithComponent("registrar"),
		acked: make(chan struct{}),
	}
}

// HandleAck consumes an ack topic message. Acks for other ids and repeated
// acks for this id are ignored.
func (r *Registrar) HandleAck(msg bus.Message) {
	if string(msg.Payload) != r.id {
		return
	}
	r.ackOnce.Do(func() {
		r.log.Info("received acknowledgment", "id", r.id, "attempts", r.attempts.Load())
		close(r.acked)
	})
}

// Acknowledged is closed once an ack for this id has been seen.
func (r *Registrar) Acknowledged() <-chan struct{} {
	return r.acked
}

// Attempts returns how many announcements have been published.
func (r *Registrar) Attempts() int64 {
	return r.attempts.Load()
}

// Run announces until acknowledged or until ctx is done.
func (r *Registrar) Run(ctx context.Context) {
	if !r.sleep(ctx, r.opts.StartupDelay) {
		return
	}
	for {
		r.announce(ctx)
		if !r.sleep(ctx, r.opts.Interval) {
			return
		}
	}
}

func (r *Registrar) announce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, r.opts.PublishTimeout)
	defer cancel()

	n := r.attempts.Add(1)
	if err := r.bus.Publish(pctx, r.opts.Topic, []byte(r.id)); err != nil {
		r.log.Warn("registration publish failed, will retry", "id", r.id, "attempt", n, "error", err)
		return
	}
	r.log.Info("sent registration", "id", r.id, "attempt", n)
}

// sleep waits for d and reports whether announcing should continue.
func (r *Registrar) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-r.acked:
		return false
	default:
	}
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		select {
		case <-r.acked:
			return false
		default:
			return true
		}
	case <-r.acked:
		return false
	case <-ctx.Done():
		return false
	}
}
