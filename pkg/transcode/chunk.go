package transcode

import (
	"context"
	"sync/atomic"
)

// State is a chunk's position in the transcode lifecycle.
type State int32

const (
	Unstarted State = iota
	Segmented
	Decoded
	Encoded
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Segmented:
		return "segmented"
	case Decoded:
		return "decoded"
	case Encoded:
		return "encoded"
	default:
		return "unknown"
	}
}

// Chunk is one byte range [Start, Start+Size) of the source file.
type Chunk struct {
	Index int
	Start int64
	Size  int64

	// lock is held for the whole activation. A one slot channel rather than a
	// mutex so waiters can give up on context cancellation.
	lock  chan struct{}
	state atomic.Int32

	// Guarded by lock.
	segment      string
	pcm          string
	artifact     string
	artifactSize int64
	err          error
}

func newChunk(index int, start, size int64) *Chunk {
	return &Chunk{
		Index: index,
		Start: start,
		Size:  size,
		lock:  make(chan struct{}, 1),
	}
}

// End returns the first offset past the chunk.
func (c *Chunk) End() int64 {
	return c.Start + c.Size
}

// Contains reports whether pos falls inside the chunk.
func (c *Chunk) Contains(pos int64) bool {
	return pos >= c.Start && pos < c.End()
}

// State returns the current lifecycle state.
func (c *Chunk) State() State {
	return State(c.state.Load())
}

func (c *Chunk) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Chunk) acquire(ctx context.Context) error {
	select {
	case c.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chunk) tryAcquire() bool {
	select {
	case c.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Chunk) release() {
	<-c.lock
}

// ChunkInfo is a point in time view of a chunk.
type ChunkInfo struct {
	Index int
	Start int64
	Size  int64
	State State
}
