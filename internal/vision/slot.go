package vision

import (
	"sync"
	"time"
)

// Slot is the single-writer, multi-reader Detection holder. The producer
// goroutine is the only writer; any number of goroutines may call Latest
// concurrently. Readers and the writer share one mutex, held only long
// enough to copy the stored Detection in or out.
type Slot struct {
	mu      sync.Mutex
	current Detection
	stale   time.Duration
}

// NewSlot builds an empty Slot with the given staleness window.
func NewSlot(staleAfter time.Duration) *Slot {
	return &Slot{stale: staleAfter}
}

// Store overwrites the slot. Called only by the producer.
func (s *Slot) Store(d Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = d
}

// Latest returns a snapshot. If the stored detection is older than the
// staleness window, the returned snapshot has HasTarget forced to false —
// the stored value itself is left untouched so the age keeps accumulating
// against the real last-observed timestamp.
func (s *Slot) Latest(now time.Time) Detection {
	s.mu.Lock()
	snap := s.current
	s.mu.Unlock()

	if snap.HasTarget && now.Sub(snap.Timestamp) > s.stale {
		snap.HasTarget = false
	}
	return snap
}
