package codec

import (
	"bytes"
	"context"
	"io"
	"os"
)

// oggScanWindow bounds how far Cut searches for the next page.
const oggScanWindow = 64 * 1024

var oggCapture = []byte("OggS")

// Ogg handles Ogg/Vorbis files. Cuts land on page boundaries.
type Ogg struct {
	external
}

func (*Ogg) Format() string { return "ogg" }

func (*Ogg) ProbeDataStart(string) (int64, error) { return 0, nil }

// Cut moves pos forward to the next "OggS" capture pattern. When none is
// found within the window pos is returned unchanged.
func (*Ogg) Cut(path string, pos int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, oggScanWindow)
	n, err := f.ReadAt(buf, pos)
	if err != nil && err != io.EOF {
		return 0, err
	}

	if i := bytes.Index(buf[:n], oggCapture); i >= 0 {
		return pos + int64(i), nil
	}
	return pos, nil
}

func (o *Ogg) Segment(_ context.Context, src string, pos, size int64, scratch string) (string, error) {
	return segmentFile(src, pos, size, scratch, "ogg")
}

func (o *Ogg) Decode(ctx context.Context, segment, scratch string) (string, error) {
	return o.decode(ctx, segment, scratch)
}

func (o *Ogg) Encode(ctx context.Context, pcm string, bitrate int, scratch string) (string, error) {
	return o.encode(ctx, pcm, bitrate, scratch, "ogg", "-c:a", "libvorbis", "-f", "ogg")
}
