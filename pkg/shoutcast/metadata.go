package shoutcast

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// MetadataBlockSize is the unit a metadata length byte counts in.
const MetadataBlockSize = 16

// MaxMetadataLen is the largest payload a single length byte can describe.
const MaxMetadataLen = 255 * MetadataBlockSize

// Charset selects how metadata text is encoded on the wire.
type Charset string

const (
	CharsetUTF8   Charset = "utf-8"
	CharsetLatin1 Charset = "latin1"
)

// emptyFrame is sent when the metadata has not changed since the last frame.
var emptyFrame = []byte{0}

// Metadata is the content of one in-band metadata frame.
type Metadata struct {
	StreamTitle string
	StreamURL   string
}

// NewMetadata parses the payload of a metadata frame, trailing NUL padding
// included.
func NewMetadata(b []byte) *Metadata {
	payload := string(bytes.TrimRight(b, "\x00"))

	return &Metadata{
		StreamTitle: metadataField(payload, "StreamTitle"),
		StreamURL:   metadataField(payload, "StreamUrl"),
	}
}

func metadataField(payload, key string) string {
	prefix := key + "='"
	i := strings.Index(payload, prefix)
	if i < 0 {
		return ""
	}
	rest := payload[i+len(prefix):]
	if j := strings.Index(rest, "';"); j >= 0 {
		return rest[:j]
	}
	return strings.TrimSuffix(rest, "'")
}

// Equals reports whether both frames carry the same text.
func (m *Metadata) Equals(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.StreamTitle == other.StreamTitle && m.StreamURL == other.StreamURL
}

// Payload renders the frame text without the length byte or padding.
func (m *Metadata) Payload() string {
	return fmt.Sprintf("StreamTitle='%s';StreamUrl='%s';", m.StreamTitle, m.StreamURL)
}

// metadataOverhead is the rendered size of a frame with empty fields.
var metadataOverhead = len((&Metadata{}).Payload())

// Encode returns a complete frame: one length byte L followed by 16*L bytes
// of NUL padded payload. Fields too long for a single frame are shortened on
// a character boundary, the title first, so the frame stays well formed.
func (m *Metadata) Encode(cs Charset) ([]byte, error) {
	title, err := encodeText(m.StreamTitle, cs)
	if err != nil {
		return nil, err
	}
	url, err := encodeText(m.StreamURL, cs)
	if err != nil {
		return nil, err
	}

	room := MaxMetadataLen - metadataOverhead
	url = clipText(url, room, cs)
	title = clipText(title, room-len(url), cs)

	payload := fmt.Appendf(nil, "StreamTitle='%s';StreamUrl='%s';", title, url)

	blocks := (len(payload) + MetadataBlockSize - 1) / MetadataBlockSize
	frame := make([]byte, 1+blocks*MetadataBlockSize)
	frame[0] = byte(blocks)
	copy(frame[1:], payload)

	return frame, nil
}

func encodeText(s string, cs Charset) ([]byte, error) {
	if cs != CharsetLatin1 {
		return []byte(s), nil
	}
	enc := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return out, nil
}

// clipText cuts b to at most n bytes without splitting a UTF-8 sequence.
// Latin-1 text is one byte per character.
func clipText(b []byte, n int, cs Charset) []byte {
	if len(b) <= n {
		return b
	}
	if n <= 0 {
		return nil
	}
	if cs != CharsetLatin1 {
		for n > 0 && !utf8.RuneStart(b[n]) {
			n--
		}
	}
	return b[:n]
}

// EmptyFrame returns the single zero length byte that tells a client the
// metadata is unchanged.
func EmptyFrame() []byte {
	return emptyFrame
}
