package integration

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/config"
	"github.com/dreamware/fleetcmd/internal/coordinator"
	"github.com/dreamware/fleetcmd/internal/feedback"
	"github.com/dreamware/fleetcmd/internal/logging"
	"github.com/dreamware/fleetcmd/internal/storage"
	"github.com/dreamware/fleetcmd/internal/worker"
)

// TestFleet is one coordinator and its workers sharing an in-memory broker.
type TestFleet struct {
	t       *testing.T
	cfg     *config.Config
	codec   codec.Codec
	broker  *bus.MemoryBroker
	coord   *coordinator.Coordinator
	history *storage.MemoryStore
	sink    *feedback.FileSink
	workers map[string]*worker.Worker
	stdin   *io.PipeWriter
	runErr  chan error
}

func NewTestFleet(t *testing.T, format codec.Format) *TestFleet {
	t.Helper()
	c, err := codec.New(format)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Wire.Format = string(format)
	cfg.Coordinator.RegistrationTimeout = 150 * time.Millisecond
	cfg.Coordinator.PollInterval = 10 * time.Millisecond
	cfg.Coordinator.CommandDelay = 0
	cfg.Coordinator.RealtimeMode = true
	cfg.Coordinator.AcceptLoader = true
	cfg.Pipelines = []cluster.Pipeline{{Name: "inventory", Commands: []string{"uname", "hostname", "uptime"}}}

	broker := bus.NewMemoryBroker()
	// Registrations and acks are delivered twice to exercise idempotency.
	broker.Duplicate = func(m bus.Message) bool {
		return m.Topic == cfg.Topics.Registration || m.Topic == cfg.Topics.Ack
	}
	t.Cleanup(broker.Close)

	sink, err := feedback.OpenFile(filepath.Join(t.TempDir(), "feedback.log"))
	require.NoError(t, err)

	history := storage.NewMemoryStore(0)
	col := feedback.NewCollector(c, logging.NewNop(), feedback.WithSink(sink))
	co := coordinator.New(cfg, broker.Client(), c, col, logging.NewNop(), coordinator.WithHistory(history))
	require.NoError(t, co.Start(context.Background()))

	return &TestFleet{
		t:       t,
		cfg:     cfg,
		codec:   c,
		broker:  broker,
		coord:   co,
		history: history,
		sink:    sink,
		workers: make(map[string]*worker.Worker),
	}
}

// StartWorker launches a worker whose commands take delay to run.
func (f *TestFleet) StartWorker(id string, delay time.Duration) {
	f.t.Helper()
	runner := worker.RunnerFunc(func(ctx context.Context, cmd string) (worker.Output, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return worker.Output{ExitCode: -1}, ctx.Err()
		}
		return worker.Output{Stdout: fmt.Sprintf("%s ran %s\n", id, cmd)}, nil
	})
	w := worker.New(worker.Options{
		ID:                   id,
		RegistrationTopic:    f.cfg.Topics.Registration,
		AckTopic:             f.cfg.Topics.Ack,
		CommandTopic:         f.cfg.Topics.Command,
		ResponseTopic:        f.cfg.Topics.Response,
		RegistrationInterval: 20 * time.Millisecond,
		PollTimeout:          10 * time.Millisecond,
	}, f.broker.Client(), f.codec, runner, logging.NewNop())
	require.NoError(f.t, w.Start(context.Background()))
	f.t.Cleanup(w.Stop)
	f.workers[id] = w
}

// Run starts the coordinator session with a pipe for operator input.
func (f *TestFleet) Run() {
	r, w := io.Pipe()
	f.stdin = w
	f.runErr = make(chan error, 1)
	go func() {
		f.runErr <- f.coord.Run(context.Background(), r, io.Discard)
	}()
}

func (f *TestFleet) Type(line string) {
	f.t.Helper()
	_, err := io.WriteString(f.stdin, line+"\n")
	require.NoError(f.t, err)
}

func (f *TestFleet) WaitResults(n int) {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return f.history.Stats().Total >= n }, 10*time.Second, 10*time.Millisecond,
		"waiting for %d results", n)
}

// commandsFor lists the commands id ran, oldest first.
func (f *TestFleet) commandsFor(id string) []string {
	var out []string
	for _, r := range f.history.Latest(id, 0) {
		out = append([]string{r.Command}, out...)
	}
	return out
}

func TestFleetEndToEnd(t *testing.T) {
	for _, format := range []codec.Format{codec.FormatDelimited, codec.FormatStructured} {
		t.Run(string(format), func(t *testing.T) {
			f := NewTestFleet(t, format)
			f.StartWorker("w1", 15*time.Millisecond)
			f.StartWorker("w2", time.Millisecond)

			for _, w := range f.workers {
				select {
				case <-w.Registrar().Acknowledged():
				case <-time.After(5 * time.Second):
					t.Fatalf("%s never acknowledged", w.ID())
				}
			}
			f.Run()

			pipeline := f.cfg.Pipelines[0].Commands
			f.WaitResults(2 * len(pipeline))
			assert.Equal(t, pipeline, f.commandsFor("w1"))
			assert.Equal(t, pipeline, f.commandsFor("w2"))

			// w3 joins after discovery: it misses the pipeline but is part
			// of the snapshot for the next broadcast.
			f.StartWorker("w3", 0)
			require.Eventually(t, func() bool { return f.coord.Registry().Contains("w3") }, 5*time.Second, 10*time.Millisecond)
			select {
			case <-f.workers["w3"].Registrar().Acknowledged():
			case <-time.After(5 * time.Second):
				t.Fatal("w3 never acknowledged")
			}

			f.Type("df -h")
			f.WaitResults(2*len(pipeline) + 3)
			assert.Equal(t, []string{"df -h"}, f.commandsFor("w3"))
			assert.Equal(t, append(append([]string{}, pipeline...), "df -h"), f.commandsFor("w1"))

			// Loader requests take the same path as operator commands.
			payload, err := f.codec.EncodeCommand(cluster.Command{Target: "w2", Text: "whoami"})
			require.NoError(t, err)
			loader := f.broker.Client()
			require.NoError(t, loader.Connect(context.Background()))
			require.NoError(t, loader.Publish(context.Background(), f.cfg.Topics.CommandLoader, payload))
			f.WaitResults(2*len(pipeline) + 4)
			assert.Equal(t, "whoami", f.history.Latest("w2", 1)[0].Command)

			f.Type("exit")
			select {
			case err := <-f.runErr:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("coordinator did not leave realtime mode")
			}

			assert.Equal(t, []string{"w1", "w2", "w3"}, f.coord.Registry().Snapshot())
			for _, r := range f.coord.Registry().Registrations() {
				assert.True(t, r.Acknowledged, r.ID)
			}

			// The feedback log holds exactly what was collected.
			f.broker.Flush()
			require.NoError(t, f.sink.Close())
			logged, err := feedback.ReadFile(f.sink.Path(), f.codec, logging.NewNop())
			require.NoError(t, err)
			collected := f.history.Latest("", 0)
			require.Len(t, logged, len(collected))

			seen := map[string]int{}
			for _, r := range logged {
				seen[r.ClientID+"/"+r.Command]++
				assert.Equal(t, cluster.StatusSucceeded, r.Status)
				assert.Equal(t, cluster.ErrorNone, r.Error)
				assert.False(t, r.EndTime.Before(r.StartTime))
			}
			for _, r := range collected {
				assert.Equal(t, 1, seen[r.ClientID+"/"+r.Command], "%s/%s", r.ClientID, r.Command)
			}
		})
	}
}

func TestWorkerShutdownDropsQueuedCommands(t *testing.T) {
	f := NewTestFleet(t, codec.FormatDelimited)
	f.StartWorker("slow", 200*time.Millisecond)
	w := f.workers["slow"]

	<-w.Registrar().Acknowledged()
	for i := 0; i < 5; i++ {
		_, err := f.coord.Dispatcher().Send(context.Background(), "slow", fmt.Sprintf("job-%d", i))
		require.NoError(t, err)
	}
	f.broker.Flush()
	require.Eventually(t, func() bool { return w.Engine().Pending() < 5 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop in bounded time")
	}

	f.broker.Flush()
	assert.LessOrEqual(t, f.history.Stats().Total, 1)
}
