// Package storage retains recent command results on the coordinator so the
// status surface can answer "what did w1 just do" without reading the
// feedback log.
//
// # Overview
//
// Results arrive from the feedback collector and are grouped by worker:
//
//	┌─────────────────────────────────────┐
//	│          feedback.Collector         │
//	└─────────────────────────────────────┘
//	                 │ Append
//	                 ▼
//	┌─────────────────────────────────────┐
//	│            ResultStore              │
//	│   w1 → [r1 r2 ... rN]  (bounded)    │
//	│   w2 → [r1 r2 ... rN]               │
//	└─────────────────────────────────────┘
//	                 │ Latest
//	                 ▼
//	┌─────────────────────────────────────┐
//	│        GET /results?client_id=      │
//	└─────────────────────────────────────┘
//
// # Retention
//
// Each worker keeps at most the configured number of results; older ones
// are discarded first. Totals in Stats count every result ever appended,
// so they keep growing after the history wraps.
//
// The store is memory only. The feedback log is the durable record.
//
// # Concurrency and Thread Safety
//
// MemoryStore guards its map with a sync.RWMutex. Reads take the shared
// lock and return copies, so callers may keep or modify what they get.
package storage
