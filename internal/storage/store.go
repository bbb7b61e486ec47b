package storage

import (
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

// DefaultLimit is the per-worker history size used when none is given.
const DefaultLimit = 100

// ResultStore keeps the most recent command results per worker.
type ResultStore interface {
	// Append records res under its ClientID.
	Append(res cluster.CommandResult)

	// Latest returns up to n of the newest results for clientID, newest
	// first. An empty clientID means every worker, ordered by end time,
	// latest first. n <= 0 returns everything retained.
	Latest(clientID string, n int) []cluster.CommandResult

	// Clients lists the workers with retained results.
	Clients() []string

	Stats() Stats
}

// Stats summarizes a ResultStore.
type Stats struct {
	Clients  int // Workers with at least one retained result
	Retained int // Results currently held
	Total    int // Results ever appended
	Failed   int // Appended results whose status was not succeeded
}

// MemoryStore is a ResultStore holding a bounded ring per worker.
type MemoryStore struct {
	mu     sync.RWMutex                       // Protects everything below
	data   map[string][]cluster.CommandResult // clientID -> results, oldest first
	limit  int
	total  int
	failed int
}

// NewMemoryStore creates a store retaining at most limit results per
// worker. A non-positive limit uses DefaultLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{
		data:  make(map[string][]cluster.CommandResult),
		limit: limit,
	}
}

func (m *MemoryStore) Append(res cluster.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if res.Status != cluster.StatusSucceeded {
		m.failed++
	}

	list := append(m.data[res.ClientID], res)
	if over := len(list) - m.limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	m.data[res.ClientID] = list
}

func (m *MemoryStore) Latest(clientID string, n int) []cluster.CommandResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []cluster.CommandResult
	if clientID != "" {
		out = append(out, m.data[clientID]...)
	} else {
		for _, list := range m.data {
			out = append(out, list...)
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	slices.Reverse(out)
	return out
}

func (m *MemoryStore) Clients() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	retained := 0
	for _, list := range m.data {
		retained += len(list)
	}
	return Stats{
		Clients:  len(m.data),
		Retained: retained,
		Total:    m.total,
		Failed:   m.failed,
	}
}
