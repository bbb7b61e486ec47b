package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/logging"
)

var (
	// ErrNoWorkers is returned when a broadcast finds no registered worker.
	ErrNoWorkers = errors.New("coordinator: no registered workers")
	// ErrEmptyCommand is returned for a dispatch without command text.
	ErrEmptyCommand = errors.New("coordinator: empty command")
	// ErrNoTarget is returned for a dispatch without a target.
	ErrNoTarget = errors.New("coordinator: empty target")
)

// ExitCommand ends the realtime loop.
const ExitCommand = "exit"

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	// Topic is the command topic workers subscribe to.
	Topic string
	// CommandDelay is the pause after each pipeline publish.
	CommandDelay time.Duration
	// PublishTimeout bounds each publish.
	PublishTimeout time.Duration
}

// Dispatcher publishes commands to registered workers. "all" is expanded
// here into one publish per worker, against a snapshot of the registry
// taken at dispatch time.
type Dispatcher struct {
	bus      bus.Bus
	codec    codec.Codec
	registry *Registry
	log      *logging.Logger
	opts     DispatcherOptions
}

// NewDispatcher builds a Dispatcher routing against reg.
func NewDispatcher(b bus.Bus, c codec.Codec, reg *Registry, opts DispatcherOptions, log *logging.Logger) *Dispatcher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Dispatcher{
		bus:      b,
		codec:    c,
		registry: reg,
		opts:     opts,
		log:      log.WithComponent("dispatcher"),
	}
}

// Send publishes text to target, or to every registered worker when target
// is "all" in any letter case. It returns the identities that were
// published to successfully. Publish failures for individual workers are
// joined into the returned error; the remaining workers are still tried.
//
// A specific target that never registered is still addressed, since it may
// have joined without being seen yet.
func (d *Dispatcher) Send(ctx context.Context, target, text string) ([]string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrNoTarget
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyCommand
	}

	var targets []string
	if (cluster.Command{Target: target}).IsBroadcast() {
		targets = d.registry.Snapshot()
		if len(targets) == 0 {
			return nil, ErrNoWorkers
		}
	} else {
		if !d.registry.Contains(target) {
			d.log.Warn("dispatching to unregistered worker", "target", target)
		}
		targets = []string{target}
	}

	sent := make([]string, 0, len(targets))
	var errs []error
	for _, id := range targets {
		if err := d.publish(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		sent = append(sent, id)
	}
	return sent, errors.Join(errs...)
}

func (d *Dispatcher) publish(ctx context.Context, id, text string) error {
	payload, err := d.codec.EncodeCommand(cluster.Command{Target: id, Text: text})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.PublishTimeout)
	defer cancel()
	if err := d.bus.Publish(ctx, d.opts.Topic, payload); err != nil {
		d.log.Error("failed to publish command", "target", id, "command", text, "error", err)
		return err
	}
	d.log.Info("sent command", "target", id, "command", text)
	return nil
}

// RunPipelines sends every pipeline to every registered worker. For each
// pipeline the worker set is snapshotted once; each worker then receives
// the pipeline's commands in order, with CommandDelay after every publish.
// Publish failures are logged and do not stop the run.
func (d *Dispatcher) RunPipelines(ctx context.Context, pipelines []cluster.Pipeline) error {
	for _, p := range pipelines {
		workers := d.registry.Snapshot()
		if len(workers) == 0 {
			return ErrNoWorkers
		}
		d.log.Info("running pipeline", "pipeline", p.Name, "commands", len(p.Commands), "workers", len(workers))

		for _, id := range workers {
			for _, text := range p.Commands {
				if err := ctx.Err(); err != nil {
					return err
				}
				_ = d.publish(ctx, id, text)
				if err := sleep(ctx, d.opts.CommandDelay); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RunRealtime reads one command per line from in and broadcasts it to all
// registered workers until the operator types "exit", in reaches EOF or
// ctx is done. A prompt is written to out before each read.
func (d *Dispatcher) RunRealtime(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprint(out, "command> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if strings.EqualFold(text, ExitCommand) {
				d.log.Info("realtime mode ended by operator")
				return nil
			}
			sent, err := d.Send(ctx, cluster.TargetAll, text)
			if err != nil {
				d.log.Warn("broadcast incomplete", "command", text, "sent", len(sent), "error", err)
			}
		}
	}
}

// HandleLoaderRequest acts on one message from the command-loader topic.
// A well-formed (target, command) payload is dispatched exactly like an
// operator command; anything else is logged and dropped. It publishes and
// waits, so it must not run on a bus callback.
func (d *Dispatcher) HandleLoaderRequest(ctx context.Context, msg bus.Message) {
	cmd, err := d.codec.DecodeCommand(msg.Payload)
	if err != nil {
		d.log.Warn("dropping malformed loader request", "payload", string(msg.Payload), "error", err)
		return
	}
	sent, err := d.Send(ctx, cmd.Target, cmd.Text)
	if err != nil {
		d.log.Warn("loader request not fully dispatched", "target", cmd.Target, "command", cmd.Text, "sent", sent, "error", err)
		return
	}
	d.log.Info("dispatched loader request", "target", cmd.Target, "command", cmd.Text, "sent", sent)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
