// Package codec holds the per-format strategies the transcode pipeline drives:
// where audio data starts in a file, where it can be cut, and how a segment is
// decoded to PCM and encoded again.
package codec

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedFormat is returned when no adapter matches a file extension.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Adapter is the strategy for one audio format. Every artifact an adapter
// produces is written below the scratch directory it is handed; reclaiming it
// is the caller's job.
type Adapter interface {
	// Format is the canonical extension, without the dot.
	Format() string

	// ProbeDataStart returns the offset of the first audio byte, past any
	// container or tag header.
	ProbeDataStart(path string) (int64, error)

	// Cut returns the first position at or after pos where the file can be
	// split without tearing a frame. It never returns less than pos.
	Cut(path string, pos int64) (int64, error)

	// Segment copies [pos, pos+size) of src into a new file under scratch.
	Segment(ctx context.Context, src string, pos, size int64, scratch string) (string, error)

	// Decode turns a segment into PCM.
	Decode(ctx context.Context, segment, scratch string) (string, error)

	// Encode turns PCM into this adapter's format at bitrate kbps.
	Encode(ctx context.Context, pcm string, bitrate int, scratch string) (string, error)
}

// Registry maps format identifiers to adapters.
type Registry struct {
	adapters    map[string]Adapter
	passthrough Adapter
}

// NewRegistry returns a registry with the mp3 and ogg adapters plus the
// external decoder adapters for the other formats decoderPath understands.
func NewRegistry(runner Runner, decoderPath string) *Registry {
	r := &Registry{
		adapters:    make(map[string]Adapter),
		passthrough: Passthrough{},
	}

	ext := external{runner: runner, bin: decoderPath}

	r.Register(&MP3{external: ext})
	r.Register(&Ogg{external: ext})
	for _, f := range []string{"flac", "wav", "m4a", "aac", "wma"} {
		r.Register(NewExternal(f, runner, decoderPath))
	}

	return r
}

// Register adds or replaces the adapter for a.Format().
func (r *Registry) Register(a Adapter) {
	r.adapters[strings.ToLower(a.Format())] = a
}

// Lookup returns the adapter for a format or file extension.
func (r *Registry) Lookup(format string) (Adapter, error) {
	a, ok := r.adapters[normalize(format)]
	if !ok {
		return nil, ErrUnsupportedFormat
	}
	return a, nil
}

// ForFile returns the adapter matching path's extension, or the passthrough
// adapter when none does. The passthrough copy is best effort only: headered
// formats come out playable but unverified.
func (r *Registry) ForFile(path string) Adapter {
	a, err := r.Lookup(Ext(path))
	if err != nil {
		return r.passthrough
	}
	return a
}

// Known reports whether format has a registered adapter.
func (r *Registry) Known(format string) bool {
	_, ok := r.adapters[normalize(format)]
	return ok
}

// Formats lists the registered formats, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.adapters))
	for f := range r.adapters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Ext returns the lower-cased extension of path without the dot.
func Ext(path string) string {
	return normalize(filepath.Ext(path))
}

func normalize(format string) string {
	return strings.ToLower(strings.TrimPrefix(format, "."))
}
