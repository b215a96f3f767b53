package snapshot

import "sync/atomic"

// Holder is the process-wide snapshot slot. Serving reads whatever value is
// current; a reload stores a whole new snapshot, so in-flight requests keep
// the one they started with.
type Holder struct {
	p atomic.Pointer[Snapshot]
}

// Current returns the active snapshot, or nil before the first load.
func (h *Holder) Current() *Snapshot {
	return h.p.Load()
}

// Swap replaces the active snapshot.
func (h *Holder) Swap(s *Snapshot) {
	h.p.Store(s)
}
