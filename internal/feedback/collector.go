package feedback

import (
	"sync"
	"sync/atomic"

	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/logging"
)

// Sink receives the encoded form of every collected result.
type Sink interface {
	Append(line []byte) error
}

// Collector consumes CommandResults from the response topic.
type Collector struct {
	codec     codec.Codec
	sink      Sink
	log       *logging.Logger
	observers []func(cluster.CommandResult)
	mu        sync.Mutex
	received  atomic.Int64
	dropped   atomic.Int64
}

// Option customizes a Collector.
type Option func(*Collector)

// WithSink persists every decoded result to s.
func WithSink(s Sink) Option {
	return func(c *Collector) { c.sink = s }
}

// OnResult registers fn to be called with each decoded result after it has
// been logged and persisted.
func OnResult(fn func(cluster.CommandResult)) Option {
	return func(c *Collector) { c.observers = append(c.observers, fn) }
}

// NewCollector builds a Collector decoding with c.
func NewCollector(c codec.Codec, log *logging.Logger, opts ...Option) *Collector {
	col := &Collector{codec: c, log: log.WithComponent("feedback")}
	for _, o := range opts {
		o(col)
	}
	return col
}

// Notify adds fn to the functions called with each decoded result. It is
// safe to call while results are being collected.
func (c *Collector) Notify(fn func(cluster.CommandResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Handle is a bus.Handler for the response topic. Undecodable payloads are
// logged with their raw content and dropped.
func (c *Collector) Handle(msg bus.Message) {
	res, err := c.codec.DecodeResult(msg.Payload)
	if err != nil {
		c.dropped.Add(1)
		c.log.Warn("dropping undecodable result", "payload", string(msg.Payload), "error", err)
		return
	}
	c.Collect(res)
}

// Collect logs res and appends it to the sink, if any.
func (c *Collector) Collect(res cluster.CommandResult) {
	c.received.Add(1)
	c.log.Info("command result",
		"client_id", res.ClientID,
		"command", res.Command,
		"status", string(res.Status),
		"exit_code", res.ExitCode,
		"duration", res.Duration(),
		"output", res.Output,
		"error", res.Error,
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink != nil {
		line, err := c.codec.EncodeResult(res)
		if err != nil {
			c.log.Error("failed to encode result for feedback log", "client_id", res.ClientID, "error", err)
		} else if err := c.sink.Append(line); err != nil {
			c.log.Error("failed to append to feedback log", "client_id", res.ClientID, "error", err)
		}
	}
	for _, fn := range c.observers {
		fn(res)
	}
}

// Received returns how many results have been collected.
func (c *Collector) Received() int64 {
	return c.received.Load()
}

// Dropped returns how many payloads failed to decode.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}
