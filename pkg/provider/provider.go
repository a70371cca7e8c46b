// Package provider gives sessions one byte-addressable view of a track,
// whether it is streamed from the raw file or through the transcode cache.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zachfi/shouter/pkg/codec"
	"github.com/zachfi/shouter/pkg/transcode"
)

// ErrFormat is returned for files that cannot be streamed in the target
// format. Sessions skip the track.
var ErrFormat = errors.New("format error")

// Policy selects when a track is re-encoded.
type Policy string

const (
	// PolicyNone streams every file as is.
	PolicyNone Policy = "none"
	// PolicyMismatched re-encodes files whose format differs from the target.
	PolicyMismatched Policy = "mismatched"
	// PolicyAll re-encodes everything.
	PolicyAll Policy = "all"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyNone, PolicyMismatched, PolicyAll:
		return p, nil
	}
	return "", fmt.Errorf("unknown reencoding policy %q", s)
}

// Options configure Open.
type Options struct {
	Policy   Policy
	Target   string
	Registry *codec.Registry
	// Cache is required unless Policy is PolicyNone.
	Cache *transcode.Cache
}

// Provider reads one track. It is not safe for concurrent use; every session
// opens its own.
type Provider struct {
	path string

	raw     *os.File
	enc     *transcode.Encoder
	release func()

	dataStart int64
	size      int64
	pos       int64
}

func formatError(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFormat, path, err)
}

// Open picks raw or transcoded access for path.
func Open(path string, opts Options) (*Provider, error) {
	ext := codec.Ext(path)
	match := ext == codec.Ext("."+opts.Target)

	reencode := opts.Policy == PolicyAll || (opts.Policy == PolicyMismatched && !match)
	if reencode {
		if opts.Cache == nil {
			return nil, errors.New("transcode cache not configured")
		}
		enc, release, err := opts.Cache.Acquire(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, err
			}
			return nil, formatError(path, err)
		}
		return &Provider{
			path:      path,
			enc:       enc,
			release:   release,
			dataStart: enc.DataStart(),
			size:      enc.Size(),
			pos:       enc.DataStart(),
		}, nil
	}

	if !match && !opts.Registry.Known(ext) {
		return nil, formatError(path, codec.ErrUnsupportedFormat)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	dataStart, err := opts.Registry.ForFile(path).ProbeDataStart(path)
	if err != nil {
		f.Close()
		return nil, formatError(path, err)
	}

	return &Provider{
		path:      path,
		raw:       f,
		dataStart: min(dataStart, info.Size()),
		size:      info.Size(),
		pos:       min(dataStart, info.Size()),
	}, nil
}

// Transcoded reports whether bytes come from the transcode cache.
func (p *Provider) Transcoded() bool {
	return p.enc != nil
}

// Path of the source file.
func (p *Provider) Path() string { return p.path }

// DataStart is the first audio byte of the source.
func (p *Provider) DataStart() int64 { return p.dataStart }

// Size of the source file.
func (p *Provider) Size() int64 { return p.size }

// Seek moves to source offset pos, clamped to the audio data.
func (p *Provider) Seek(pos int64) {
	p.pos = max(p.dataStart, min(pos, p.size))
}

// SeekFraction moves to frac of the way through the audio data.
func (p *Provider) SeekFraction(frac float64) {
	frac = max(0, min(frac, 1))
	p.Seek(p.dataStart + int64(frac*float64(p.size-p.dataStart)))
}

// Tell returns the current source offset.
func (p *Provider) Tell() int64 {
	return p.pos
}

// Read returns up to size bytes at the current position and moves past the
// source bytes they stand for. It returns io.EOF at the end of the track.
func (p *Provider) Read(ctx context.Context, size int) ([]byte, error) {
	if p.pos >= p.size {
		return nil, io.EOF
	}

	if p.enc != nil {
		data, consumed, err := p.enc.ReadFrom(ctx, size, p.pos)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, transcode.ErrChunkNotFound) {
				return nil, err
			}
			return nil, formatError(p.path, err)
		}
		p.pos += consumed
		return data, nil
	}

	buf := make([]byte, min(int64(size), p.size-p.pos))
	n, err := p.raw.ReadAt(buf, p.pos)
	p.pos += int64(n)
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		return buf[:n], err
	}
	return buf[:n], nil
}

// Close releases the file or the cache reference.
func (p *Provider) Close() error {
	if p.release != nil {
		p.release()
		p.release = nil
	}
	if p.raw != nil {
		f := p.raw
		p.raw = nil
		return f.Close()
	}
	return nil
}
