package miniaudio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPipeOverwriteDropsOldest verifies the capture ring keeps the newest bytes.
func TestPipeOverwriteDropsOldest(t *testing.T) {
	p := newPipe(4)
	p.overwrite([]byte{1, 2, 3})
	p.overwrite([]byte{4, 5, 6})

	out := make([]byte, 4)
	n := p.read(out)
	require.Equal(t, 4, n)
	assert.Equal(t, []byte{3, 4, 5, 6}, out)
	assert.Equal(t, uint64(2), p.dropped())
}

// TestPipeOverwriteLargerThanRing keeps only the tail of an oversized write.
func TestPipeOverwriteLargerThanRing(t *testing.T) {
	p := newPipe(3)
	p.overwrite([]byte{1, 2, 3, 4, 5})

	out := make([]byte, 3)
	require.Equal(t, 3, p.read(out))
	assert.Equal(t, []byte{3, 4, 5}, out)
	assert.Equal(t, uint64(2), p.dropped())
}

// TestPipeReadFullWaitsForCallback verifies the blocking side wakes on new data.
func TestPipeReadFullWaitsForCallback(t *testing.T) {
	p := newPipe(16)

	go func() {
		for i := byte(0); i < 4; i++ {
			time.Sleep(2 * time.Millisecond)
			p.overwrite([]byte{i, i})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := make([]byte, 8)
	n, err := p.readFull(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{0, 0, 1, 1, 2, 2, 3, 3}, out)
}

// TestPipeWriteFullHonoursContext verifies a full playback ring times out.
func TestPipeWriteFullHonoursContext(t *testing.T) {
	p := newPipe(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	n, err := p.writeFull(ctx, make([]byte, 6))
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// draining frees space for a retry
	drain := make([]byte, 4)
	assert.Equal(t, 4, p.read(drain))
	n, err = p.writeFull(context.Background(), []byte{9, 9})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
