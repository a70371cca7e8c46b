package codec

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Passthrough is the generic fallback adapter. It only segments: decode and
// encode hand back their input unchanged.
type Passthrough struct{}

func (Passthrough) Format() string { return "raw" }

func (Passthrough) ProbeDataStart(string) (int64, error) { return 0, nil }

func (Passthrough) Cut(_ string, pos int64) (int64, error) { return pos, nil }

func (p Passthrough) Segment(_ context.Context, src string, pos, size int64, scratch string) (string, error) {
	return segmentFile(src, pos, size, scratch, Ext(src))
}

func (Passthrough) Decode(_ context.Context, segment, _ string) (string, error) {
	return segment, nil
}

func (Passthrough) Encode(_ context.Context, pcm string, _ int, _ string) (string, error) {
	return pcm, nil
}

// segmentFile copies [pos, pos+size) of src into a temp file under scratch.
func segmentFile(src string, pos, size int64, scratch, ext string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	if ext == "" {
		ext = "bin"
	}
	out, err := os.CreateTemp(scratch, "seg-*."+ext)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, io.NewSectionReader(in, pos, size)); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("copy segment: %w", err)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", err
	}

	return out.Name(), nil
}
