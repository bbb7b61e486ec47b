package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetcmd/internal/logging"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type ackRecorder struct {
	mu    sync.Mutex
	acks  map[string]int
	calls int
	fail  func(id string, call int) bool
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{acks: make(map[string]int)}
}

func (a *ackRecorder) ack(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail != nil && a.fail(id, a.calls) {
		return errors.New("publish failed")
	}
	a.acks[id]++
	return nil
}

func (a *ackRecorder) count(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks[id]
}

func TestRegistryIdempotentRegistration(t *testing.T) {
	acks := newAckRecorder()
	reg := NewRegistry(5*time.Second, acks.ack, logging.NewNop())
	ctx := context.Background()

	assert.True(t, reg.Observe(ctx, "w1"))
	assert.False(t, reg.Observe(ctx, "w1"))
	assert.False(t, reg.Observe(ctx, "w1"))
	assert.True(t, reg.Observe(ctx, "w2"))

	assert.Equal(t, 1, acks.count("w1"))
	assert.Equal(t, 1, acks.count("w2"))
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"w1", "w2"}, reg.Snapshot())

	regs := reg.Registrations()
	require.Len(t, regs, 2)
	assert.Equal(t, "w1", regs[0].ID)
	assert.True(t, regs[0].Acknowledged)
	assert.True(t, reg.Contains("w2"))
	assert.False(t, reg.Contains("w3"))
}

func TestRegistryRetriesFailedAck(t *testing.T) {
	acks := newAckRecorder()
	acks.fail = func(_ string, call int) bool { return call == 1 }
	reg := NewRegistry(5*time.Second, acks.ack, logging.NewNop())
	ctx := context.Background()

	assert.True(t, reg.Observe(ctx, "w1"))
	assert.Equal(t, 0, acks.count("w1"))
	assert.False(t, reg.Registrations()[0].Acknowledged)

	assert.False(t, reg.Observe(ctx, "w1"))
	assert.Equal(t, 1, acks.count("w1"))
	assert.True(t, reg.Registrations()[0].Acknowledged)

	reg.Observe(ctx, "w1")
	assert.Equal(t, 1, acks.count("w1"))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryQuiescence(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(5*time.Second, newAckRecorder().ack, logging.NewNop(), WithClock(clock.Now))
	ctx := context.Background()

	assert.False(t, reg.Ready())
	clock.Advance(time.Minute)
	assert.False(t, reg.Ready(), "an empty registry never becomes ready")

	t0 := clock.Now()
	reg.Observe(ctx, "w1")
	clock.Set(t0.Add(2 * time.Second))
	reg.Observe(ctx, "w2")
	clock.Set(t0.Add(4 * time.Second))
	reg.Observe(ctx, "w3")

	clock.Set(t0.Add(8999 * time.Millisecond))
	assert.False(t, reg.Ready())
	clock.Set(t0.Add(9 * time.Second))
	assert.False(t, reg.Ready())
	clock.Set(t0.Add(9001 * time.Millisecond))
	assert.True(t, reg.Ready())
}

func TestRegistryDuplicatesDoNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(5*time.Second, newAckRecorder().ack, logging.NewNop(), WithClock(clock.Now))
	ctx := context.Background()

	t0 := clock.Now()
	reg.Observe(ctx, "w1")
	clock.Set(t0.Add(4 * time.Second))
	reg.Observe(ctx, "w1")
	clock.Set(t0.Add(5001 * time.Millisecond))
	assert.True(t, reg.Ready())
}

func TestRegistryEmptyWindowIsReset(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(5*time.Second, newAckRecorder().ack, logging.NewNop(), WithClock(clock.Now))

	clock.Advance(time.Hour)
	assert.False(t, reg.Ready())

	reg.Observe(context.Background(), "w1")
	clock.Advance(4 * time.Second)
	assert.False(t, reg.Ready(), "the window starts at the first registration")
	clock.Advance(2 * time.Second)
	assert.True(t, reg.Ready())
}

func TestRegistryWaitReady(t *testing.T) {
	reg := NewRegistry(20*time.Millisecond, newAckRecorder().ack, logging.NewNop())
	reg.Observe(context.Background(), "w1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.WaitReady(ctx, 5*time.Millisecond))
	assert.True(t, reg.Ready())
}

func TestRegistryWaitReadyCancelled(t *testing.T) {
	reg := NewRegistry(time.Millisecond, newAckRecorder().ack, logging.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := reg.WaitReady(ctx, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryConcurrentObserve(t *testing.T) {
	acks := newAckRecorder()
	reg := NewRegistry(time.Second, acks.ack, logging.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reg.Observe(context.Background(), "w1")
				reg.Ready()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, acks.count("w1"))
}
