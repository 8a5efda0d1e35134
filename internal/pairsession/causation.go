package pairsession

import (
	"container/ring"
	"sync"
)

// causationWindow is the "bounded recent-window index" §9 calls for:
// a fixed-size ring of recently-seen event IDs, used to verify that a
// new event's causation_id actually references a real, already-appended
// event rather than a dangling or cyclic reference. Unlike a full DAG
// reachability check over the whole log, this only ever looks at the
// last N event IDs — bounded memory, bounded check cost — which is
// sufficient for pair sessions since causation chains here are always
// shallow (a reply references the immediately preceding message).
type causationWindow struct {
	mu   sync.Mutex
	r    *ring.Ring
	seen map[string]bool
	size int
}

func newCausationWindow(size int) *causationWindow {
	if size <= 0 {
		size = 256
	}
	return &causationWindow{
		r:    ring.New(size),
		seen: make(map[string]bool, size),
		size: size,
	}
}

// Record adds an event ID to the window, evicting the oldest entry once
// full.
func (w *causationWindow) Record(eventID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if evicted, ok := w.r.Value.(string); ok && evicted != "" {
		delete(w.seen, evicted)
	}
	w.r.Value = eventID
	w.r = w.r.Next()
	w.seen[eventID] = true
}

// Contains reports whether eventID is within the recent window.
func (w *causationWindow) Contains(eventID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen[eventID]
}
