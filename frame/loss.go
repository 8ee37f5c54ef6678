package frame

import "sync"

// maxForwardGap bounds how far ahead a sequence number may jump and still
// count as loss. Larger jumps are treated as a sender restart.
const maxForwardGap = 1000

// LossStats summarizes sequence tracking across all streams.
type LossStats struct {
	Received  uint64
	Lost      uint64
	Late      uint64
	Restarted uint64
}

type streamState struct {
	last uint16
}

// LossTracker detects gaps in per-stream sequence numbers.
type LossTracker struct {
	mu      sync.Mutex
	streams map[uint32]*streamState
	stats   LossStats
}

// NewLossTracker returns an empty tracker.
func NewLossTracker() *LossTracker {
	return &LossTracker{streams: make(map[uint32]*streamState)}
}

// Observe records seq for stream ssrc and returns how many frames were
// skipped since the previous one. Duplicates and reordered frames return 0
// and are counted as late.
func (t *LossTracker) Observe(ssrc uint32, seq uint16) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Received++

	st, ok := t.streams[ssrc]
	if !ok {
		t.streams[ssrc] = &streamState{last: seq}
		return 0
	}

	delta := seq - st.last // wraps modulo 2^16
	switch {
	case delta == 0 || delta > 0x8000:
		t.stats.Late++
		return 0
	case delta > maxForwardGap:
		t.stats.Restarted++
		st.last = seq
		return 0
	default:
		st.last = seq
		lost := uint64(delta - 1)
		t.stats.Lost += lost
		return lost
	}
}

// Stats returns a snapshot of the counters.
func (t *LossTracker) Stats() LossStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Forget drops the state of stream ssrc.
func (t *LossTracker) Forget(ssrc uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, ssrc)
}
