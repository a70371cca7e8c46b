// Package transcode materializes a source file in another format lazily,
// one fixed-size chunk at a time, sharing the work between every reader of
// the same file.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zachfi/zkit/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/shouter/pkg/codec"
)

// ErrChunkNotFound means a position fell outside every chunk. Under correct
// range math it cannot happen.
var ErrChunkNotFound = errors.New("chunk not found")

var tracer = otel.Tracer("github.com/zachfi/shouter/pkg/transcode")

// Options tune an Encoder.
type Options struct {
	// ChunkSize in source bytes. Zero makes the whole file one chunk.
	ChunkSize int64
	// Bitrate of the encoded output in kbps.
	Bitrate int
	// ScratchDir is where the per-encoder temp dir is created; "" uses os.TempDir.
	ScratchDir string
	Logger     *slog.Logger
}

// Encoder owns every chunk of one source file for one target format.
type Encoder struct {
	path    string
	src     codec.Adapter
	dst     codec.Adapter
	bitrate int
	logger  *slog.Logger

	dataStart int64
	size      int64
	scratch   string
	chunks    []*Chunk

	// prefetches run under ctx and are awaited on Dispose.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New splits path into chunks covering [dataStart, size). Boundaries are
// moved onto frame boundaries when the source adapter can find one before
// the next nominal boundary; the chunk count is always ceil((size-dataStart)/ChunkSize).
func New(reg *codec.Registry, path, target string, opts Options) (*Encoder, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	src := reg.ForFile(path)
	dst, err := reg.Lookup(target)
	if err != nil {
		dst = codec.Passthrough{}
	}

	dataStart, err := src.ProbeDataStart(path)
	if err != nil {
		return nil, fmt.Errorf("probe data start: %w", err)
	}
	size := info.Size()
	if dataStart > size {
		dataStart = size
	}

	scratch, err := os.MkdirTemp(opts.ScratchDir, "shouter-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Encoder{
		path:      path,
		src:       src,
		dst:       dst,
		bitrate:   opts.Bitrate,
		logger:    logger.With("path", path, "target", dst.Format()),
		dataStart: dataStart,
		size:      size,
		scratch:   scratch,
		ctx:       ctx,
		cancel:    cancel,
	}

	bounds, err := e.boundaries(opts.ChunkSize)
	if err != nil {
		cancel()
		_ = os.RemoveAll(scratch)
		return nil, err
	}
	for i := 0; i+1 < len(bounds); i++ {
		e.chunks = append(e.chunks, newChunk(i, bounds[i], bounds[i+1]-bounds[i]))
	}

	return e, nil
}

// boundaries returns the chunk edges, first and last included.
func (e *Encoder) boundaries(chunkSize int64) ([]int64, error) {
	span := e.size - e.dataStart
	if span <= 0 {
		return nil, nil
	}
	if chunkSize <= 0 || chunkSize >= span {
		return []int64{e.dataStart, e.size}, nil
	}

	n := (span + chunkSize - 1) / chunkSize
	bounds := make([]int64, 0, n+1)
	bounds = append(bounds, e.dataStart)
	for k := int64(1); k < n; k++ {
		nominal := e.dataStart + k*chunkSize
		next := nominal + chunkSize
		if next > e.size {
			next = e.size
		}

		cut, err := e.src.Cut(e.path, nominal)
		if err != nil {
			return nil, fmt.Errorf("cut at %d: %w", nominal, err)
		}
		if cut >= next {
			cut = nominal
		}
		bounds = append(bounds, cut)
	}
	return append(bounds, e.size), nil
}

// Path is the source file.
func (e *Encoder) Path() string { return e.path }

// DataStart is the first source byte covered by a chunk.
func (e *Encoder) DataStart() int64 { return e.dataStart }

// Size is the source file size.
func (e *Encoder) Size() int64 { return e.size }

// Chunks returns a snapshot of every chunk.
func (e *Encoder) Chunks() []ChunkInfo {
	out := make([]ChunkInfo, len(e.chunks))
	for i, c := range e.chunks {
		out[i] = ChunkInfo{Index: c.Index, Start: c.Start, Size: c.Size, State: c.State()}
	}
	return out
}

// locate finds the chunk containing pos.
func (e *Encoder) locate(pos int64) (int, error) {
	lo, hi := 0, len(e.chunks)
	for lo < hi {
		mid := (lo + hi) / 2
		c := e.chunks[mid]
		switch {
		case pos < c.Start:
			hi = mid
		case pos >= c.End():
			lo = mid + 1
		default:
			return mid, nil
		}
	}
	return 0, fmt.Errorf("%w: position %d outside [%d, %d)", ErrChunkNotFound, pos, e.dataStart, e.size)
}

// ReadFrom returns encoded bytes for the source range starting at pos, at
// most size source bytes long and never crossing a chunk edge. The second
// return value is how many source bytes the result stands for; it differs
// from len(data) whenever the encoded chunk is not the same length as its
// source range.
//
// The owning chunk is activated synchronously if needed, and the next one is
// activated in the background when nobody else holds it.
func (e *Encoder) ReadFrom(ctx context.Context, size int, pos int64) ([]byte, int64, error) {
	i, err := e.locate(pos)
	if err != nil {
		return nil, 0, err
	}
	c := e.chunks[i]

	if err := e.activate(ctx, c); err != nil {
		return nil, 0, err
	}
	if i+1 < len(e.chunks) {
		e.prefetch(e.chunks[i+1])
	}

	end := pos + int64(size)
	if end > c.End() {
		end = c.End()
	}

	from := c.scale(pos - c.Start)
	to := c.scale(end - c.Start)

	data, err := readRange(c.artifact, from, to-from)
	if err != nil {
		return nil, 0, err
	}

	return data, end - pos, nil
}

// scale maps an offset within the source range to one within the artifact.
func (c *Chunk) scale(off int64) int64 {
	if c.artifactSize == c.Size || c.Size == 0 {
		return off
	}
	return off * c.artifactSize / c.Size
}

func readRange(path string, off, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

// activate drives c to Encoded exactly once. Callers arriving while another
// activation is running wait for it and reuse its result.
func (e *Encoder) activate(ctx context.Context, c *Chunk) error {
	if c.State() == Encoded {
		return nil
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	return e.run(ctx, c)
}

// prefetch activates c in the background if it is idle and unlocked.
func (e *Encoder) prefetch(c *Chunk) {
	if c.State() != Unstarted || !c.tryAcquire() {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer c.release()
		if err := e.run(e.ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("prefetch failed", "chunk", c.Index, "err", err)
		}
	}()
}

// run must be called with c's lock held.
func (e *Encoder) run(ctx context.Context, c *Chunk) (err error) {
	if c.State() == Encoded {
		return nil
	}
	if c.err != nil {
		return c.err
	}

	ctx, span := tracer.Start(ctx, "transcode.activate", trace.WithAttributes(
		attribute.String("path", e.path),
		attribute.Int("chunk", c.Index),
		attribute.String("target", e.dst.Format()),
	))
	start := time.Now()
	defer func() {
		metricActivationDuration.Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
			// Cancellation is the caller giving up, not the chunk failing.
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				c.err = err
			}
		}
		metricActivations.WithLabelValues(result).Inc()
		_ = tracing.ErrHandler(span, err, "chunk activation failed", e.logger)
	}()

	if c.State() < Segmented {
		c.segment, err = e.src.Segment(ctx, e.path, c.Start, c.Size, e.scratch)
		if err != nil {
			return fmt.Errorf("segment chunk %d: %w", c.Index, err)
		}
		c.setState(Segmented)
	}

	if c.State() < Decoded {
		c.pcm, err = e.src.Decode(ctx, c.segment, e.scratch)
		if err != nil {
			return fmt.Errorf("decode chunk %d: %w", c.Index, err)
		}
		c.setState(Decoded)
	}

	artifact, err := e.dst.Encode(ctx, c.pcm, e.bitrate, e.scratch)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", c.Index, err)
	}
	info, err := os.Stat(artifact)
	if err != nil {
		return err
	}

	c.artifact = artifact
	c.artifactSize = info.Size()
	// Intermediates are no longer needed once the artifact exists.
	for _, p := range []string{c.segment, c.pcm} {
		if p != "" && p != artifact {
			_ = os.Remove(p)
		}
	}
	c.segment, c.pcm = "", ""
	c.setState(Encoded)

	e.logger.Debug("chunk encoded", "chunk", c.Index, "start", c.Start, "size", c.Size, "encoded", c.artifactSize)
	return nil
}

// Reset returns every chunk to Unstarted and deletes its artifacts.
func (e *Encoder) Reset() {
	for _, c := range e.chunks {
		c.lock <- struct{}{}
		for _, p := range []string{c.segment, c.pcm, c.artifact} {
			if p != "" {
				_ = os.Remove(p)
			}
		}
		c.segment, c.pcm, c.artifact = "", "", ""
		c.artifactSize = 0
		c.err = nil
		c.setState(Unstarted)
		c.release()
	}
}

// Dispose stops background work and removes every artifact. Nobody may read
// from the encoder afterwards.
func (e *Encoder) Dispose() error {
	e.cancel()
	e.wg.Wait()
	e.Reset()
	return os.RemoveAll(e.scratch)
}
