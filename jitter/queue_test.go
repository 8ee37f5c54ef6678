package jitter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wifiphone/frame"
)

func mark(i int) frame.Frame {
	return frame.New([]byte{byte(i >> 8), byte(i)})
}

func id(f frame.Frame) int {
	p := f.Payload()
	return int(p[0])<<8 | int(p[1])
}

func TestQueueFIFO(t *testing.T) {
	q := New(4)
	assert.Equal(t, 4, q.Cap())

	_, ok := q.Pop()
	assert.False(t, ok, "empty queue")

	for i := 0; i < 3; i++ {
		assert.False(t, q.Push(mark(i)))
	}
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		f, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, id(f))
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueDropsOldest(t *testing.T) {
	q := New(3)

	for i := 0; i < 3; i++ {
		assert.False(t, q.Push(mark(i)))
	}
	assert.True(t, q.Push(mark(3)))
	assert.True(t, q.Push(mark(4)))
	assert.Equal(t, 3, q.Len())

	var got []int
	for {
		f, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, id(f))
	}
	assert.Equal(t, []int{2, 3, 4}, got)

	stats := q.Stats()
	assert.Equal(t, Stats{Pushed: 5, Popped: 3, Dropped: 2}, stats)
}

func TestQueueReset(t *testing.T) {
	q := New(2)
	q.Push(mark(1))
	q.Push(mark(2))
	q.Push(mark(3))

	q.Reset()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, Stats{}, q.Stats())

	q.Push(mark(7))
	f, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 7, id(f))
}

func TestQueueDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
}

// TestQueueConcurrentOrder verifies that under a concurrent producer and
// consumer the consumed frames are a strictly increasing subsequence of the
// produced ones and every frame is accounted for.
func TestQueueConcurrentOrder(t *testing.T) {
	const total = 20000
	q := New(16)

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < total; i++ {
			q.Push(mark(i % 65536))
		}
	}()

	var consumed []int
	drain := func() {
		for {
			f, ok := q.Pop()
			if !ok {
				return
			}
			consumed = append(consumed, id(f))
		}
	}

loop:
	for {
		select {
		case <-done:
			break loop
		default:
			drain()
		}
	}
	wg.Wait()
	drain()

	for i := 1; i < len(consumed); i++ {
		require.Greater(t, consumed[i], consumed[i-1], "order violated at %d", i)
	}

	stats := q.Stats()
	assert.Equal(t, uint64(total), stats.Pushed)
	assert.Equal(t, uint64(len(consumed)), stats.Popped)
	assert.Equal(t, stats.Pushed, stats.Popped+stats.Dropped)
}
