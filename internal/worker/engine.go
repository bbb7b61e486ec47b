package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/logging"
)

// ResultPublisher hands a finished CommandResult to the bus.
type ResultPublisher interface {
	PublishResult(ctx context.Context, res cluster.CommandResult) error
}

// EngineOptions tunes an Engine.
type EngineOptions struct {
	// Now is the clock used for result timestamps. Defaults to time.Now.
	Now func() time.Time
	// PollTimeout bounds how long the consumer blocks on an empty queue
	// before re-checking for a stop request. Defaults to one second.
	PollTimeout time.Duration
	// CommandTimeout bounds each command. Zero means no limit.
	CommandTimeout time.Duration
}

// Engine runs the commands admitted for one worker strictly one at a time,
// in admission order.
type Engine struct {
	runner    Runner
	publisher ResultPublisher
	log       *logging.Logger
	queue     *commandQueue
	done      chan struct{}
	opts      EngineOptions
	id        string
	seq       atomic.Uint64
	startOnce sync.Once
	stopOnce  sync.Once
	stopping  atomic.Bool
	started   atomic.Bool
}

// NewEngine builds an Engine for worker id. Start must be called before
// queued commands run.
func NewEngine(id string, runner Runner, publisher ResultPublisher, opts EngineOptions, log *logging.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	return &Engine{
		id:        id,
		runner:    runner,
		publisher: publisher,
		opts:      opts,
		log:       log.WithComponent("engine"),
		queue:     newCommandQueue(),
		done:      make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Later calls are no-ops.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.run()
	})
}

// Enqueue admits a command. It reports false once a stop was requested.
func (e *Engine) Enqueue(text string) bool {
	if e.stopping.Load() {
		return false
	}
	seq := e.seq.Add(1)
	e.queue.put(queued{text: text, seq: seq})
	e.log.Debug("command queued", "seq", seq, "command", text, "pending", e.queue.len())
	return true
}

// Pending returns how many admitted commands have not started.
func (e *Engine) Pending() int {
	return e.queue.len()
}

// RequestStop asks the consumer to exit without waiting for it. Commands
// still queued are not run.
func (e *Engine) RequestStop() {
	e.stopOnce.Do(func() {
		e.stopping.Store(true)
		e.queue.put(queued{sentinel: true})
	})
}

// Done is closed when the consumer goroutine has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Stop requests a stop and waits for the consumer to exit. The command in
// flight, if any, runs to completion first.
func (e *Engine) Stop() {
	e.RequestStop()
	if e.started.Load() {
		<-e.done
	}
}

func (e *Engine) run() {
	defer close(e.done)
	e.log.Info("execution loop started", "worker", e.id)

	for !e.stopping.Load() {
		item, ok := e.queue.get(e.opts.PollTimeout)
		if !ok {
			continue
		}
		if item.sentinel || e.stopping.Load() {
			break
		}
		e.execute(item)
	}
	e.log.Info("execution loop stopped", "worker", e.id, "dropped", e.queue.len())
}

func (e *Engine) execute(item queued) {
	log := e.log.With("seq", item.seq, "command", item.text)
	log.Info("executing command")

	ctx := context.Background()
	if e.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.CommandTimeout)
		defer cancel()
	}

	start := e.opts.Now().Truncate(time.Microsecond)
	out, err := e.runSafely(ctx, item.text)
	end := e.opts.Now().Truncate(time.Microsecond)

	res := cluster.CommandResult{
		ClientID:  e.id,
		Command:   item.text,
		StartTime: start,
		EndTime:   end,
		Output:    out.Stdout,
		ExitCode:  out.ExitCode,
	}
	switch {
	case err != nil:
		res.Status = cluster.StatusError
		res.Error = fmt.Sprintf("Failed to execute command: %v", err)
		log.Error("command failed to run", "error", err)
	case out.ExitCode != 0:
		res.Status = cluster.StatusFailed
		res.Error = errorField(out.Stderr)
		log.Warn("command exited non-zero", "exit_code", out.ExitCode, "duration", res.Duration())
	default:
		res.Status = cluster.StatusSucceeded
		res.Error = errorField(out.Stderr)
		log.Info("command finished", "duration", res.Duration())
	}

	if err := e.publisher.PublishResult(context.Background(), res); err != nil {
		log.Error("failed to publish result", "error", err)
	}
}

// runSafely converts a Runner panic into an error so one bad command
// cannot take down the loop.
func (e *Engine) runSafely(ctx context.Context, text string) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = Output{ExitCode: -1}
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()
	return e.runner.Run(ctx, text)
}

func errorField(stderr string) string {
	if stderr == "" {
		return cluster.ErrorNone
	}
	return stderr
}
