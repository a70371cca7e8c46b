package codec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDecoder is the decoder binary used when none is configured.
const DefaultDecoder = "ffmpeg"

// external drives an ffmpeg compatible binary for decode and encode.
type external struct {
	runner Runner
	bin    string
}

func (e external) command() string {
	if e.bin == "" {
		return DefaultDecoder
	}
	return e.bin
}

func (e external) decode(ctx context.Context, segment, scratch string) (string, error) {
	out := artifactName(segment, scratch, "wav")
	err := e.runner.Run(ctx, e.command(),
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", segment,
		"-f", "wav",
		out,
	)
	if err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("decode %s: %w", filepath.Base(segment), err)
	}
	return out, nil
}

func (e external) encode(ctx context.Context, pcm string, bitrate int, scratch, format string, codecArgs ...string) (string, error) {
	out := artifactName(pcm, scratch, format)
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", pcm}
	args = append(args, codecArgs...)
	if bitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", bitrate))
	}
	args = append(args, out)

	if err := e.runner.Run(ctx, e.command(), args...); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("encode %s: %w", filepath.Base(pcm), err)
	}
	return out, nil
}

// artifactName derives the next stage's file name from the previous one.
func artifactName(in, scratch, ext string) string {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	name := base + "." + ext
	if filepath.Ext(in) == "."+ext {
		name = base + ".out." + ext
	}
	return filepath.Join(scratch, name)
}

// External is the generic adapter for formats only the external decoder
// understands. Its data starts at 0 and cuts are byte exact.
type External struct {
	external
	format string
}

// NewExternal returns an adapter for format backed by the decoder binary.
func NewExternal(format string, runner Runner, decoderPath string) *External {
	return &External{
		external: external{runner: runner, bin: decoderPath},
		format:   normalize(format),
	}
}

func (a *External) Format() string { return a.format }

func (a *External) ProbeDataStart(string) (int64, error) { return 0, nil }

func (a *External) Cut(_ string, pos int64) (int64, error) { return pos, nil }

func (a *External) Segment(_ context.Context, src string, pos, size int64, scratch string) (string, error) {
	return segmentFile(src, pos, size, scratch, a.format)
}

func (a *External) Decode(ctx context.Context, segment, scratch string) (string, error) {
	return a.decode(ctx, segment, scratch)
}

// muxers maps formats whose ffmpeg muxer name differs from the extension.
var muxers = map[string]string{
	"m4a": "ipod",
	"aac": "adts",
	"wma": "asf",
}

func (a *External) Encode(ctx context.Context, pcm string, bitrate int, scratch string) (string, error) {
	muxer := a.format
	if m, ok := muxers[a.format]; ok {
		muxer = m
	}
	return a.encode(ctx, pcm, bitrate, scratch, a.format, "-f", muxer)
}
