package miniaudio

import (
	"context"
	"sync"
)

// pipe is a byte ring shared between a miniaudio callback and a blocking
// caller. The callback side never blocks; the caller side waits on the
// readable/writable signals or its context.
type pipe struct {
	mu   sync.Mutex
	buf  []byte
	r    int // read position
	n    int // bytes stored
	lost uint64

	readable chan struct{}
	writable chan struct{}
}

func newPipe(size int) *pipe {
	return &pipe{
		buf:      make([]byte, size),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

// overwrite appends p, evicting the oldest bytes when the ring is full.
// Used by the capture callback: stale audio is dropped, fresh audio kept.
func (p *pipe) overwrite(data []byte) {
	p.mu.Lock()
	if len(data) > len(p.buf) {
		p.lost += uint64(len(data) - len(p.buf))
		data = data[len(data)-len(p.buf):]
	}
	if over := p.n + len(data) - len(p.buf); over > 0 {
		p.r = (p.r + over) % len(p.buf)
		p.n -= over
		p.lost += uint64(over)
	}
	p.put(data)
	p.mu.Unlock()
	signal(p.readable)
}

// write stores as much of data as fits and returns the count.
func (p *pipe) write(data []byte) int {
	p.mu.Lock()
	space := len(p.buf) - p.n
	if len(data) > space {
		data = data[:space]
	}
	p.put(data)
	p.mu.Unlock()
	if len(data) > 0 {
		signal(p.readable)
	}
	return len(data)
}

// read moves up to len(dst) bytes out of the ring.
func (p *pipe) read(dst []byte) int {
	p.mu.Lock()
	n := len(dst)
	if n > p.n {
		n = p.n
	}
	for i := 0; i < n; i++ {
		dst[i] = p.buf[(p.r+i)%len(p.buf)]
	}
	p.r = (p.r + n) % len(p.buf)
	p.n -= n
	p.mu.Unlock()
	if n > 0 {
		signal(p.writable)
	}
	return n
}

// readFull blocks until dst is full or ctx is done.
func (p *pipe) readFull(ctx context.Context, dst []byte) (int, error) {
	got := 0
	for {
		got += p.read(dst[got:])
		if got == len(dst) {
			return got, nil
		}
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-p.readable:
		}
	}
}

// writeFull blocks until all of data is stored or ctx is done.
func (p *pipe) writeFull(ctx context.Context, data []byte) (int, error) {
	put := 0
	for {
		put += p.write(data[put:])
		if put == len(data) {
			return put, nil
		}
		select {
		case <-ctx.Done():
			return put, ctx.Err()
		case <-p.writable:
		}
	}
}

// dropped returns the number of bytes evicted by overwrite.
func (p *pipe) dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lost
}

// put copies data after the stored bytes. Caller holds mu and guarantees space.
func (p *pipe) put(data []byte) {
	w := (p.r + p.n) % len(p.buf)
	for i, b := range data {
		p.buf[(w+i)%len(p.buf)] = b
	}
	p.n += len(data)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
