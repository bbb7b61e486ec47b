// Package bus is the publish/subscribe transport shared by the coordinator,
// its workers and the command loader.
//
// Delivery is at-least-once: a message may arrive more than once, and no
// ordering is promised across topics. Every consumer in fleetcmd is written
// to tolerate that. Handlers for one Bus are invoked from a single callback
// context, one message at a time, so a handler must not block for long.
// In particular it must not Publish on the same Bus: an MQTT client cannot
// complete a QoS 1 publish until the running callback returns.
package bus

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed Bus.
	ErrClosed = errors.New("bus: closed")
	// ErrNotConnected is returned by Publish before Connect succeeds.
	ErrNotConnected = errors.New("bus: not connected")
)

// Message is one delivery from a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler consumes messages for one subscription.
type Handler func(Message)

// Bus is a topic addressed publish/subscribe channel.
type Bus interface {
	// Connect establishes the session. Subscriptions registered before
	// or after Connect are active once it returns.
	Connect(ctx context.Context) error
	// Publish sends payload on topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers h for topic. A topic has at most one handler;
	// subscribing again replaces it.
	Subscribe(topic string, h Handler) error
	// Close tears down the session and drops all subscriptions.
	Close() error
}
