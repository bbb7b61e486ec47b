package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/config"
	"github.com/dreamware/fleetcmd/internal/feedback"
	"github.com/dreamware/fleetcmd/internal/logging"
	"github.com/dreamware/fleetcmd/internal/storage"
)

// Coordinator wires the registry, dispatcher and feedback collector to one
// bus session and drives a run: discovery, then pipeline and/or realtime
// dispatch, then operator confirmed shutdown.
type Coordinator struct {
	bus        bus.Bus
	cfg        *config.Config
	registry   *Registry
	dispatcher *Dispatcher
	collector  *feedback.Collector
	history    storage.ResultStore
	inbox      *inbox
	stop       context.CancelFunc
	log        *logging.Logger
}

// Option customizes a Coordinator.
type Option func(*options)

type options struct {
	history  storage.ResultStore
	registry []RegistryOption
}

// WithHistory retains collected results in h and serves them on /results.
func WithHistory(h storage.ResultStore) Option {
	return func(o *options) { o.history = h }
}

// WithRegistryOptions passes opts through to the registry.
func WithRegistryOptions(opts ...RegistryOption) Option {
	return func(o *options) { o.registry = append(o.registry, opts...) }
}

// New builds a Coordinator from cfg. The collector receives every result
// from the response topic.
func New(cfg *config.Config, b bus.Bus, c codec.Codec, collector *feedback.Collector, log *logging.Logger, opts ...Option) *Coordinator {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	co := &Coordinator{
		bus:       b,
		cfg:       cfg,
		collector: collector,
		history:   o.history,
		inbox:     newInbox(),
		log:       log.WithComponent("coordinator"),
	}
	if co.history != nil {
		collector.Notify(co.history.Append)
	}
	co.registry = NewRegistry(cfg.Coordinator.RegistrationTimeout, co.publishAck, log, o.registry...)
	co.dispatcher = NewDispatcher(b, c, co.registry, DispatcherOptions{
		Topic:          cfg.Topics.Command,
		CommandDelay:   cfg.Coordinator.CommandDelay,
		PublishTimeout: cfg.Broker.PublishTimeout,
	}, log)
	return co
}

// Registry returns the worker registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Dispatcher returns the command dispatcher.
func (c *Coordinator) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Start subscribes every coordinator topic and connects the bus.
// Registrations and loader requests are acted on by a goroutine that runs
// until Close, never on the bus callback itself: both publish, and a
// publish may only complete once the callback has returned.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.stop == nil {
		ictx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.stop = cancel
		go c.inbox.run(ictx)
	}

	subs := map[string]bus.Handler{
		c.cfg.Topics.Registration: c.handleRegistration,
		c.cfg.Topics.Response:     c.collector.Handle,
	}
	if c.cfg.Coordinator.AcceptLoader {
		subs[c.cfg.Topics.CommandLoader] = c.handleLoaderRequest
	}
	for topic, h := range subs {
		if err := c.bus.Subscribe(topic, h); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	if err := c.bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.log.Info("coordinator started",
		"registration_topic", c.cfg.Topics.Registration,
		"accept_loader", c.cfg.Coordinator.AcceptLoader,
	)
	return nil
}

// Run blocks through one session. It waits for discovery to finish, runs
// the configured pipelines, then either hands off to the realtime loop or
// waits for the operator to press Enter. Prompts go to out.
func (c *Coordinator) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := c.registry.WaitReady(ctx, c.cfg.Coordinator.PollInterval); err != nil {
		return err
	}
	c.log.Info("workers ready", "workers", strings.Join(c.registry.Snapshot(), ","))

	if c.cfg.Coordinator.PipelineMode {
		if err := c.dispatcher.RunPipelines(ctx, c.cfg.Pipelines); err != nil && !errors.Is(err, ErrNoWorkers) {
			return err
		}
		c.log.Info("pipelines dispatched", "pipelines", len(c.cfg.Pipelines))
	}

	if c.cfg.Coordinator.RealtimeMode {
		return c.dispatcher.RunRealtime(ctx, in, out)
	}
	return waitForOperator(ctx, in, out)
}

// Close stops the background goroutine and disconnects from the bus.
// Registrations and loader requests not yet acted on are dropped.
func (c *Coordinator) Close() error {
	if c.stop != nil {
		c.stop()
		<-c.inbox.done
	}
	return c.bus.Close()
}

func (c *Coordinator) publishAck(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Broker.PublishTimeout)
	defer cancel()
	return c.bus.Publish(ctx, c.cfg.Topics.Ack, []byte(id))
}

func (c *Coordinator) handleRegistration(msg bus.Message) {
	id := strings.TrimSpace(string(msg.Payload))
	if id == "" {
		c.log.Warn("dropping empty registration")
		return
	}
	if !c.inbox.post(func(ctx context.Context) { c.registry.Observe(ctx, id) }) {
		c.log.Debug("dropping registration after close", "id", id)
	}
}

func (c *Coordinator) handleLoaderRequest(msg bus.Message) {
	if !c.inbox.post(func(ctx context.Context) { c.dispatcher.HandleLoaderRequest(ctx, msg) }) {
		c.log.Debug("dropping loader request after close", "payload", string(msg.Payload))
	}
}

// waitForOperator returns when a line is read from in, in is exhausted or
// ctx is done.
func waitForOperator(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Press Enter to exit...")
	done := make(chan struct{})
	go func() {
		defer close(done)
		bufio.NewReader(in).ReadString('\n')
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
