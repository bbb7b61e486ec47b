package bus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dreamware/fleetcmd/internal/logging"
)

// MQTTOptions configures an MQTT backed Bus.
type MQTTOptions struct {
	Host           string
	ClientID       string
	Port           int
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	// QoS is the MQTT quality of service for publishes and subscriptions.
	// 1 (at least once) matches the delivery model the protocol assumes.
	QoS byte
}

// MQTT is a Bus backed by an MQTT broker. Subscriptions are remembered and
// re-issued whenever the client (re)connects.
type MQTT struct {
	client   mqtt.Client
	log      *logging.Logger
	handlers map[string]Handler
	opts     MQTTOptions
	mu       sync.Mutex
	closed   bool
}

var _ Bus = (*MQTT)(nil)

// NewMQTT builds an MQTT bus. Nothing is dialed until Connect.
func NewMQTT(opts MQTTOptions, log *logging.Logger) *MQTT {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.QoS > 2 {
		opts.QoS = 1
	}
	m := &MQTT{
		opts:     opts,
		log:      log.WithComponent("bus"),
		handlers: make(map[string]Handler),
	}

	broker := "tcp://" + net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	co := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.log.Warn("connection lost", "broker", broker, "error", err)
		})
	m.client = mqtt.NewClient(co)
	return m
}

func (m *MQTT) Connect(ctx context.Context) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	m.log.Info("connecting to broker", "host", m.opts.Host, "port", m.opts.Port, "client_id", m.opts.ClientID)
	if err := wait(ctx, m.client.Connect()); err != nil {
		return fmt.Errorf("connect %s:%d: %w", m.opts.Host, m.opts.Port, err)
	}
	return nil
}

// onConnect runs on every (re)connect and restores subscriptions.
func (m *MQTT) onConnect(c mqtt.Client) {
	m.log.Info("connected to broker", "host", m.opts.Host, "port", m.opts.Port)

	m.mu.Lock()
	topics := make(map[string]Handler, len(m.handlers))
	for topic, h := range m.handlers {
		topics[topic] = h
	}
	m.mu.Unlock()

	for topic, h := range topics {
		m.subscribe(c, topic, h)
	}
}

func (m *MQTT) subscribe(c mqtt.Client, topic string, h Handler) {
	tok := c.Subscribe(topic, m.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		h(Message{Topic: msg.Topic(), Payload: msg.Payload()})
	})
	// Subscribe may be called from the paho callback goroutine, so the
	// token is awaited off it.
	go func() {
		if err := wait(context.Background(), tok); err != nil {
			m.log.Error("subscribe failed", "topic", topic, "error", err)
			return
		}
		m.log.Debug("subscribed", "topic", topic)
	}()
}

func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := wait(ctx, m.client.Publish(topic, m.opts.QoS, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.handlers[topic] = h
	m.mu.Unlock()

	if m.client.IsConnectionOpen() {
		m.subscribe(m.client, topic, h)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.handlers = make(map[string]Handler)
	m.mu.Unlock()

	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.log.Info("disconnected from broker")
	return nil
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
