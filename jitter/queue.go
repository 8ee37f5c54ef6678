// Package jitter implements the inbound frame queue that decouples the link's
// receive path from audio playback.
//
// The receive handler pushes frames as datagrams arrive; the relay loop pops
// at most one frame per iteration. The queue is bounded: when a burst
// arrives faster than playback drains it, the oldest frames are discarded so
// latency stays bounded instead of growing without limit.
package jitter

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifiphone/frame"
)

// DefaultCapacity holds about half a second of audio at the default stream
// configuration (248-byte frames at 32 000 bytes/s).
const DefaultCapacity = 64

// Stats counts queue traffic since creation or the last Reset.
type Stats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
}

// Queue is a bounded FIFO of frames with drop-oldest overflow. It is safe
// for one producer and one consumer running concurrently (and for any
// number of either).
type Queue struct {
	mu    sync.Mutex
	buf   []frame.Frame
	head  int
	n     int
	stats Stats
}

// New creates a queue holding at most capacity frames. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	logrus.WithFields(logrus.Fields{
		"function": "jitter.New",
		"capacity": capacity,
	}).Debug("Creating jitter queue")

	return &Queue{buf: make([]frame.Frame, capacity)}
}

// Push appends f. When the queue is full the oldest frame is evicted first
// and Push reports true.
func (q *Queue) Push(f frame.Frame) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == len(q.buf) {
		q.buf[q.head] = frame.Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.stats.Dropped++
		dropped = true
	}

	q.buf[(q.head+q.n)%len(q.buf)] = f
	q.n++
	q.stats.Pushed++
	return dropped
}

// Pop removes and returns the oldest frame. ok is false when the queue is
// empty.
func (q *Queue) Pop() (f frame.Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return frame.Frame{}, false
	}

	f = q.buf[q.head]
	q.buf[q.head] = frame.Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	q.stats.Popped++
	return f, true
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Reset discards all queued frames and zeroes the counters.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	clear(q.buf)
	q.head = 0
	q.n = 0
	q.stats = Stats{}
}

// Flush discards all queued frames, counting them as dropped, and returns
// how many were discarded.
func (q *Queue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.n
	clear(q.buf)
	q.head = 0
	q.n = 0
	q.stats.Dropped += uint64(n)
	return n
}
