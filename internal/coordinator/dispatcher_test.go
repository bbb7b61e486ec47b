package coordinator

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/logging"
)

const commandTopic = "fleet/command"

// commandLog records every command published on the command topic.
type commandLog struct {
	mu   sync.Mutex
	cmds []cluster.Command
}

func (l *commandLog) handler(c codec.Codec) bus.Handler {
	return func(m bus.Message) {
		cmd, err := c.DecodeCommand(m.Payload)
		if err != nil {
			return
		}
		l.mu.Lock()
		l.cmds = append(l.cmds, cmd)
		l.mu.Unlock()
	}
}

func (l *commandLog) all() []cluster.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]cluster.Command(nil), l.cmds...)
}

func (l *commandLog) targets() []string {
	var out []string
	for _, c := range l.all() {
		out = append(out, c.Target)
	}
	return out
}

func (l *commandLog) textsFor(id string) []string {
	var out []string
	for _, c := range l.all() {
		if c.Target == id {
			out = append(out, c.Text)
		}
	}
	return out
}

type dispatchFixture struct {
	broker *bus.MemoryBroker
	reg    *Registry
	disp   *Dispatcher
	seen   *commandLog
}

func newDispatchFixture(t *testing.T, workers ...string) *dispatchFixture {
	t.Helper()
	c := codec.Delimited{}
	broker := bus.NewMemoryBroker()
	t.Cleanup(broker.Close)

	pub := broker.Client()
	require.NoError(t, pub.Connect(context.Background()))
	watcher := broker.Client()
	require.NoError(t, watcher.Connect(context.Background()))

	seen := &commandLog{}
	require.NoError(t, watcher.Subscribe(commandTopic, seen.handler(c)))

	reg := NewRegistry(0, newAckRecorder().ack, logging.NewNop())
	for _, w := range workers {
		reg.Observe(context.Background(), w)
	}
	disp := NewDispatcher(pub, c, reg, DispatcherOptions{Topic: commandTopic}, logging.NewNop())
	return &dispatchFixture{broker: broker, reg: reg, disp: disp, seen: seen}
}

func TestDispatcherBroadcastSnapshot(t *testing.T) {
	f := newDispatchFixture(t, "w1", "w2")

	sent, err := f.disp.Send(context.Background(), "ALL", "uptime")
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2"}, sent)

	f.reg.Observe(context.Background(), "w3")
	f.broker.Flush()

	assert.ElementsMatch(t, []string{"w1", "w2"}, f.seen.targets())
	assert.Empty(t, f.seen.textsFor("w3"))
}

func TestDispatcherDirectTarget(t *testing.T) {
	f := newDispatchFixture(t, "w1")

	sent, err := f.disp.Send(context.Background(), "w9", "hostname | tr a-z A-Z")
	require.NoError(t, err)
	assert.Equal(t, []string{"w9"}, sent)

	f.broker.Flush()
	assert.Equal(t, []string{"hostname | tr a-z A-Z"}, f.seen.textsFor("w9"))
}

func TestDispatcherSendErrors(t *testing.T) {
	f := newDispatchFixture(t)

	_, err := f.disp.Send(context.Background(), "all", "ls")
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = f.disp.Send(context.Background(), " ", "ls")
	assert.ErrorIs(t, err, ErrNoTarget)
	_, err = f.disp.Send(context.Background(), "w1", "")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestDispatcherRunPipelines(t *testing.T) {
	f := newDispatchFixture(t, "w1", "w2")

	err := f.disp.RunPipelines(context.Background(), []cluster.Pipeline{
		{Name: "inventory", Commands: []string{"uname -a", "df -h", "free -m"}},
		{Name: "cleanup", Commands: []string{"rm -rf /tmp/job"}},
	})
	require.NoError(t, err)
	f.broker.Flush()

	want := []string{"uname -a", "df -h", "free -m", "rm -rf /tmp/job"}
	assert.Equal(t, want, f.seen.textsFor("w1"))
	assert.Equal(t, want, f.seen.textsFor("w2"))
	assert.Len(t, f.seen.all(), 8)
}

func TestDispatcherRunPipelinesCancelled(t *testing.T) {
	f := newDispatchFixture(t, "w1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.disp.RunPipelines(ctx, []cluster.Pipeline{{Name: "p", Commands: []string{"ls"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcherRunPipelinesWithoutWorkers(t *testing.T) {
	f := newDispatchFixture(t)
	err := f.disp.RunPipelines(context.Background(), []cluster.Pipeline{{Name: "p", Commands: []string{"ls"}}})
	assert.ErrorIs(t, err, ErrNoWorkers)
}

func TestDispatcherRunRealtime(t *testing.T) {
	f := newDispatchFixture(t, "w1", "w2")

	in := strings.NewReader("uptime\n\n   \nwhoami\nExit\nnever sent\n")
	var out bytes.Buffer
	require.NoError(t, f.disp.RunRealtime(context.Background(), in, &out))
	f.broker.Flush()

	assert.Equal(t, []string{"uptime", "whoami"}, f.seen.textsFor("w1"))
	assert.Equal(t, []string{"uptime", "whoami"}, f.seen.textsFor("w2"))
	assert.Contains(t, out.String(), "command> ")
}

func TestDispatcherRunRealtimeEOF(t *testing.T) {
	f := newDispatchFixture(t, "w1")
	require.NoError(t, f.disp.RunRealtime(context.Background(), strings.NewReader("ls"), &bytes.Buffer{}))
	f.broker.Flush()
	assert.Equal(t, []string{"ls"}, f.seen.textsFor("w1"))
}

func TestDispatcherLoaderMessages(t *testing.T) {
	f := newDispatchFixture(t, "w1", "w2")
	c := codec.Delimited{}

	payload, err := c.EncodeCommand(cluster.Command{Target: "all", Text: "date"})
	require.NoError(t, err)
	f.disp.HandleLoaderRequest(context.Background(), bus.Message{Payload: payload})

	payload, err = c.EncodeCommand(cluster.Command{Target: "w2", Text: "id"})
	require.NoError(t, err)
	f.disp.HandleLoaderRequest(context.Background(), bus.Message{Payload: payload})

	f.disp.HandleLoaderRequest(context.Background(), bus.Message{Payload: []byte("no separator")})
	f.broker.Flush()

	assert.Equal(t, []string{"date"}, f.seen.textsFor("w1"))
	assert.Equal(t, []string{"date", "id"}, f.seen.textsFor("w2"))
}
