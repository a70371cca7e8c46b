package codec

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// mp3ScanWindow bounds how far Cut searches for the next frame header.
const mp3ScanWindow = 8 * 1024

var errInvalidFrame = errors.New("invalid or unsupported MP3 frame")

var (
	mpeg1Bitrates = []int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2Bitrates = []int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
)

// MP3 handles MPEG audio layer III files.
type MP3 struct {
	external
}

func (*MP3) Format() string { return "mp3" }

// ProbeDataStart skips a leading ID3v2 tag. The tag size is a 28 bit
// synchsafe integer at offset 6, excluding the 10 byte tag header.
func (*MP3) ProbeDataStart(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var hdr [10]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil
		}
		return 0, err
	}

	if string(hdr[:3]) != "ID3" {
		return 0, nil
	}

	size := int64(hdr[6]&0x7f)<<21 | int64(hdr[7]&0x7f)<<14 | int64(hdr[8]&0x7f)<<7 | int64(hdr[9]&0x7f)
	start := size + 10
	if hdr[5]&0x10 != 0 {
		// footer present
		start += 10
	}

	return start, nil
}

// Cut moves pos forward to the next frame header that is followed by another
// valid header (or the end of the scan window), so chunks start on a frame.
// When no header is found within the window pos is returned unchanged.
func (*MP3) Cut(path string, pos int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, mp3ScanWindow)
	n, err := f.ReadAt(buf, pos)
	if err != nil && err != io.EOF {
		return 0, err
	}
	buf = buf[:n]

	if i := findFrame(buf); i >= 0 {
		return pos + int64(i), nil
	}
	return pos, nil
}

func (m *MP3) Segment(_ context.Context, src string, pos, size int64, scratch string) (string, error) {
	return segmentFile(src, pos, size, scratch, "mp3")
}

func (m *MP3) Decode(ctx context.Context, segment, scratch string) (string, error) {
	return m.decode(ctx, segment, scratch)
}

func (m *MP3) Encode(ctx context.Context, pcm string, bitrate int, scratch string) (string, error) {
	return m.encode(ctx, pcm, bitrate, scratch, "mp3", "-f", "mp3")
}

// findFrame returns the index of the first frame header in data whose
// successor is also a header, or which runs past the end of data.
func findFrame(data []byte) int {
	for i := 0; i+4 <= len(data); i++ {
		// Frame sync: 0xFF followed by 0xE or 0xF in the high nibble
		if data[i] != 0xFF || data[i+1]&0xE0 != 0xE0 {
			continue
		}
		n, err := frameLength(data[i : i+4])
		if err != nil {
			continue
		}
		next := i + n
		if next+4 > len(data) {
			return i
		}
		if _, err := frameLength(data[next : next+4]); err == nil {
			return i
		}
	}
	return -1
}

// frameLength returns the length in bytes of the layer III frame described by
// the four header bytes in hdr.
func frameLength(hdr []byte) (int, error) {
	if len(hdr) != 4 {
		return 0, errInvalidFrame
	}
	if hdr[0] != 0xff || hdr[1]&0xe0 != 0xe0 {
		return 0, errInvalidFrame
	}

	mpegVer := (hdr[1] >> 3) & 0x03
	layer := (hdr[1] >> 1) & 0x03
	// mpegVer 1 is reserved, layer 1 is layer III
	if mpegVer == 1 || layer != 1 {
		return 0, errInvalidFrame
	}

	bitRateIdx := (hdr[2] >> 4) & 0x0f
	if bitRateIdx == 0 || bitRateIdx == 0x0f {
		return 0, errInvalidFrame
	}
	sampleRateIdx := (hdr[2] >> 2) & 0x03
	if sampleRateIdx == 3 {
		return 0, errInvalidFrame
	}
	if hdr[3]&0x03 == 2 {
		return 0, errInvalidFrame
	}

	var (
		bitrates    []int
		sampleRates []int
		multiplier  int
	)
	switch mpegVer {
	case 3: // MPEG-1
		bitrates = mpeg1Bitrates
		sampleRates = []int{44100, 48000, 32000}
		multiplier = 144
	case 2: // MPEG-2
		bitrates = mpeg2Bitrates
		sampleRates = []int{22050, 24000, 16000}
		multiplier = 72
	default: // MPEG-2.5
		bitrates = mpeg2Bitrates
		sampleRates = []int{11025, 12000, 8000}
		multiplier = 72
	}

	padding := int((hdr[2] >> 1) & 1)
	return multiplier*bitrates[bitRateIdx]*1000/sampleRates[sampleRateIdx] + padding, nil
}

// SilenceFrameDuration is the play time of one frame from SilenceFrame.
const SilenceFrameDuration = time.Second * 1152 / 44100

// SilenceFrame returns a mono MPEG-1 layer III frame at 44.1kHz whose side
// info and main data are all zero, which decodes to silence. Unsupported
// bitrates fall back to 128 kbps.
func SilenceFrame(bitrate int) []byte {
	idx := 9 // 128 kbps
	for i, br := range mpeg1Bitrates {
		if br != 0 && br == bitrate {
			idx = i
			break
		}
	}

	frame := make([]byte, 144*mpeg1Bitrates[idx]*1000/44100)
	frame[0] = 0xFF
	frame[1] = 0xFB // MPEG-1, layer III, no CRC
	frame[2] = byte(idx << 4)
	frame[3] = 0xC4 // mono, original

	return frame
}
