package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

func res(id, cmd string, end int, status cluster.Status) cluster.CommandResult {
	t := time.Unix(1700000000, 0).Add(time.Duration(end) * time.Second)
	return cluster.CommandResult{ClientID: id, Command: cmd, StartTime: t, EndTime: t, Status: status}
}

func TestMemoryStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore(0)
		assert.Empty(t, store.Clients())
		assert.Empty(t, store.Latest("", 0))
		assert.Equal(t, Stats{}, store.Stats())
		assert.Equal(t, DefaultLimit, store.limit)
	})

	t.Run("groups by worker newest first", func(t *testing.T) {
		store := NewMemoryStore(10)
		store.Append(res("w1", "a", 1, cluster.StatusSucceeded))
		store.Append(res("w2", "b", 2, cluster.StatusFailed))
		store.Append(res("w1", "c", 3, cluster.StatusError))

		assert.Equal(t, []string{"w1", "w2"}, store.Clients())

		w1 := store.Latest("w1", 0)
		require.Len(t, w1, 2)
		assert.Equal(t, "c", w1[0].Command)
		assert.Equal(t, "a", w1[1].Command)

		all := store.Latest("", 0)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].Command, all[1].Command, all[2].Command})

		recent := store.Latest("", 2)
		require.Len(t, recent, 2)
		assert.Equal(t, []string{"c", "b"}, []string{recent[0].Command, recent[1].Command})

		assert.Equal(t, Stats{Clients: 2, Retained: 3, Total: 3, Failed: 2}, store.Stats())
	})

	t.Run("limits history per worker", func(t *testing.T) {
		store := NewMemoryStore(3)
		for i := 0; i < 5; i++ {
			store.Append(res("w1", fmt.Sprintf("c%d", i), i, cluster.StatusSucceeded))
		}
		got := store.Latest("w1", 0)
		require.Len(t, got, 3)
		assert.Equal(t, "c4", got[0].Command)
		assert.Equal(t, "c2", got[2].Command)

		last := store.Latest("w1", 1)
		require.Len(t, last, 1)
		assert.Equal(t, "c4", last[0].Command)

		stats := store.Stats()
		assert.Equal(t, 3, stats.Retained)
		assert.Equal(t, 5, stats.Total)
	})

	t.Run("returned slices are copies", func(t *testing.T) {
		store := NewMemoryStore(5)
		store.Append(res("w1", "a", 1, cluster.StatusSucceeded))
		got := store.Latest("w1", 0)
		got[0].Command = "mutated"
		assert.Equal(t, "a", store.Latest("w1", 0)[0].Command)
	})

	t.Run("all workers ordered by end time", func(t *testing.T) {
		store := NewMemoryStore(5)
		store.Append(res("w1", "old", 1, cluster.StatusSucceeded))
		store.Append(res("w2", "new", 9, cluster.StatusSucceeded))
		store.Append(res("w1", "mid", 5, cluster.StatusSucceeded))

		all := store.Latest("", 0)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].Command, all[1].Command, all[2].Command})
		assert.Equal(t, "new", store.Latest("", 1)[0].Command)
	})

	t.Run("unknown worker", func(t *testing.T) {
		store := NewMemoryStore(5)
		assert.Empty(t, store.Latest("nobody", 10))
	})
}

func TestMemoryStoreConcurrency(t *testing.T) {
	store := NewMemoryStore(50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("w%d", w)
			for i := 0; i < 100; i++ {
				store.Append(res(id, "x", i, cluster.StatusSucceeded))
				store.Latest("", 5)
				store.Stats()
			}
		}(w)
	}
	wg.Wait()

	stats := store.Stats()
	assert.Equal(t, 4, stats.Clients)
	assert.Equal(t, 200, stats.Retained)
	assert.Equal(t, 400, stats.Total)
}
