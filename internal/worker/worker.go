package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/logging"
)

// Options configures a Worker.
type Options struct {
	ID string

	RegistrationTopic string
	AckTopic          string
	CommandTopic      string
	ResponseTopic     string

	RegistrationInterval time.Duration
	StartupDelay         time.Duration
	PublishTimeout       time.Duration
	PollTimeout          time.Duration
	CommandTimeout       time.Duration

	// Now overrides the clock used for result timestamps.
	Now func() time.Time
}

// Worker is one registered agent. It announces itself, accepts commands
// addressed to its id and publishes one result per command.
type Worker struct {
	bus       bus.Bus
	codec     codec.Codec
	log       *logging.Logger
	engine    *Engine
	registrar *Registrar
	cancel    context.CancelFunc
	wg        conc.WaitGroup
	opts      Options
	stopOnce  sync.Once
}

// New wires a Worker. Nothing touches the bus until Start.
func New(opts Options, b bus.Bus, c codec.Codec, runner Runner, log *logging.Logger) *Worker {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	log = log.With("worker", opts.ID)

	w := &Worker{
		bus:   b,
		codec: c,
		log:   log,
		opts:  opts,
	}
	w.engine = NewEngine(opts.ID, runner, w, EngineOptions{
		Now:            opts.Now,
		PollTimeout:    opts.PollTimeout,
		CommandTimeout: opts.CommandTimeout,
	}, log)
	w.registrar = NewRegistrar(b, opts.ID, RegistrarOptions{
		Topic:          opts.RegistrationTopic,
		Interval:       opts.RegistrationInterval,
		StartupDelay:   opts.StartupDelay,
		PublishTimeout: opts.PublishTimeout,
	}, log)
	return w
}

// ID returns the worker identity.
func (w *Worker) ID() string {
	return w.opts.ID
}

// Engine exposes the execution engine, mostly for inspection in tests.
func (w *Worker) Engine() *Engine {
	return w.engine
}

// Registrar exposes the registration loop.
func (w *Worker) Registrar() *Registrar {
	return w.registrar
}

// Start subscribes, connects and launches the execution loop and the
// registration loop. It returns once the bus session is up.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.bus.Subscribe(w.opts.AckTopic, w.registrar.HandleAck); err != nil {
		return fmt.Errorf("subscribe %s: %w", w.opts.AckTopic, err)
	}
	if err := w.bus.Subscribe(w.opts.CommandTopic, w.handleCommand); err != nil {
		return fmt.Errorf("subscribe %s: %w", w.opts.CommandTopic, err)
	}
	if err := w.bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	w.engine.Start()

	rctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Go(func() { w.registrar.Run(rctx) })

	w.log.Info("worker started", "command_topic", w.opts.CommandTopic)
	return nil
}

// Stop halts registration, lets the command in flight finish and closes
// the bus session. Queued commands that have not started are dropped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.engine.Stop()
		w.wg.Wait()
		if err := w.bus.Close(); err != nil {
			w.log.Warn("bus close failed", "error", err)
		}
		w.log.Info("worker stopped")
	})
}

// PublishResult encodes res and sends it on the response topic.
func (w *Worker) PublishResult(ctx context.Context, res cluster.CommandResult) error {
	payload, err := w.codec.EncodeResult(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.opts.PublishTimeout)
	defer cancel()
	if err := w.bus.Publish(ctx, w.opts.ResponseTopic, payload); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

func (w *Worker) handleCommand(msg bus.Message) {
	cmd, err := w.codec.DecodeCommand(msg.Payload)
	if err != nil {
		w.log.Warn("dropping undecodable command", "payload", string(msg.Payload), "error", err)
		return
	}
	if cmd.Target != w.opts.ID {
		return
	}
	if !w.engine.Enqueue(cmd.Text) {
		w.log.Warn("worker stopping, command refused", "command", cmd.Text)
	}
}
