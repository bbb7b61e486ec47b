package bus

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process broker. Every client created from one
// broker shares its topics. Deliveries happen on a single goroutine in
// publish order, which mirrors the single callback context of a real
// broker client.
//
// Fault injection hooks let tests model an at-least-once transport:
// Duplicate delivers a message twice and Drop discards it.
type MemoryBroker struct {
	// Duplicate, when non-nil and returning true, delivers the message twice.
	Duplicate func(Message) bool
	// Drop, when non-nil and returning true, discards the message.
	Drop func(Message) bool

	subs    map[string][]*memorySub
	pending []delivery
	wake    chan struct{}
	done    chan struct{}
	idle    *sync.Cond
	mu      sync.Mutex
	busy    bool
	closed  bool
}

type memorySub struct {
	client  *MemoryClient
	handler Handler
}

type delivery struct {
	msg  Message
	subs []*memorySub
}

// NewMemoryBroker starts a broker. Call Close to stop its delivery goroutine.
func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{
		subs: make(map[string][]*memorySub),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Client returns a new Bus attached to the broker.
func (b *MemoryBroker) Client() *MemoryClient {
	return &MemoryClient{broker: b}
}

// Flush blocks until every message published so far has been handled,
// including messages published by handlers while flushing.
func (b *MemoryBroker) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for (len(b.pending) > 0 || b.busy) && !b.closed {
		b.idle.Wait()
	}
}

// Close stops delivery. Pending messages are discarded.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.pending = nil
	b.idle.Broadcast()
	b.mu.Unlock()
	close(b.done)
}

func (b *MemoryBroker) publish(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.Drop != nil && b.Drop(msg) {
		return nil
	}
	subs := append([]*memorySub(nil), b.subs[msg.Topic]...)
	if len(subs) == 0 {
		return nil
	}
	d := delivery{msg: msg, subs: subs}
	b.pending = append(b.pending, d)
	if b.Duplicate != nil && b.Duplicate(msg) {
		b.pending = append(b.pending, d)
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBroker) subscribe(c *MemoryClient, topic string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	subs := b.subs[topic]
	for _, s := range subs {
		if s.client == c {
			s.handler = h
			return nil
		}
	}
	b.subs[topic] = append(subs, &memorySub{client: c, handler: h})
	return nil
}

func (b *MemoryBroker) unsubscribeAll(c *MemoryClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.client != c {
				kept = append(kept, s)
			}
		}
		b.subs[topic] = kept
	}
}

func (b *MemoryBroker) run() {
	for {
		b.mu.Lock()
		for len(b.pending) == 0 {
			b.busy = false
			b.idle.Broadcast()
			b.mu.Unlock()
			select {
			case <-b.wake:
			case <-b.done:
				return
			}
			b.mu.Lock()
		}
		d := b.pending[0]
		b.pending = b.pending[1:]
		b.busy = true
		b.mu.Unlock()

		for _, s := range d.subs {
			if s.client.isClosed() {
				continue
			}
			b.mu.Lock()
			h := s.handler
			b.mu.Unlock()
			h(Message{Topic: d.msg.Topic, Payload: append([]byte(nil), d.msg.Payload...)})
		}
	}
}

// MemoryClient is a Bus attached to a MemoryBroker.
type MemoryClient struct {
	broker    *MemoryBroker
	mu        sync.Mutex
	connected bool
	closed    bool
}

var _ Bus = (*MemoryClient)(nil)

func (c *MemoryClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.connected = true
	return nil
}

func (c *MemoryClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed, connected := c.closed, c.connected
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}
	return c.broker.publish(Message{Topic: topic, Payload: append([]byte(nil), payload...)})
}

func (c *MemoryClient) Subscribe(topic string, h Handler) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.broker.subscribe(c, topic, h)
}

func (c *MemoryClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.broker.unsubscribeAll(c)
	return nil
}

func (c *MemoryClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
