package shoutcast

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataEncode(t *testing.T) {
	m := &Metadata{StreamTitle: "Artist - Title"}

	frame, err := m.Encode(CharsetUTF8)
	require.NoError(t, err)

	payload := m.Payload()
	blocks := (len(payload) + 15) / 16
	require.Equal(t, byte(blocks), frame[0])
	require.Len(t, frame, 1+blocks*16)
	assert.True(t, bytes.HasPrefix(frame[1:], []byte(payload)))
	assert.Equal(t, strings.Repeat("\x00", blocks*16-len(payload)), string(frame[1+len(payload):]))

	back := NewMetadata(frame[1:])
	assert.True(t, back.Equals(m))
}

func TestMetadataEncodeExactMultiple(t *testing.T) {
	// StreamTitle='';StreamUrl=''; is 28 bytes, 4 more makes 32.
	m := &Metadata{StreamTitle: "abcd"}
	require.Len(t, m.Payload(), 32)

	frame, err := m.Encode(CharsetUTF8)
	require.NoError(t, err)
	assert.Equal(t, byte(2), frame[0])
	assert.Len(t, frame, 33)
}

func TestMetadataEncodeLatin1(t *testing.T) {
	m := &Metadata{StreamTitle: "Björk - Jóga"}

	frame, err := m.Encode(CharsetLatin1)
	require.NoError(t, err)
	assert.Contains(t, string(frame), "Bj\xf6rk - J\xf3ga")
}

func TestMetadataEncodeTruncates(t *testing.T) {
	cases := map[string]struct {
		m  Metadata
		cs Charset
	}{
		"ascii":         {m: Metadata{StreamTitle: strings.Repeat("x", 5000)}, cs: CharsetUTF8},
		"multibyte":     {m: Metadata{StreamTitle: "x" + strings.Repeat("é", 3000)}, cs: CharsetUTF8},
		"wide runes":    {m: Metadata{StreamTitle: strings.Repeat("音", 2000), StreamURL: "http://host/dl/1"}, cs: CharsetUTF8},
		"latin1":        {m: Metadata{StreamTitle: strings.Repeat("ö", 5000)}, cs: CharsetLatin1},
		"long url only": {m: Metadata{StreamTitle: "t", StreamURL: "http://host/" + strings.Repeat("u", 5000)}, cs: CharsetUTF8},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			frame, err := tc.m.Encode(tc.cs)
			require.NoError(t, err)
			require.LessOrEqual(t, len(frame), 1+MaxMetadataLen)
			require.Equal(t, 1+int(frame[0])*MetadataBlockSize, len(frame))

			payload := bytes.TrimRight(frame[1:], "\x00")
			assert.True(t, bytes.HasPrefix(payload, []byte("StreamTitle='")))
			assert.True(t, bytes.HasSuffix(payload, []byte("';")))
			if tc.cs == CharsetUTF8 {
				assert.True(t, utf8.Valid(payload))
			}

			back := NewMetadata(payload)
			if tc.cs == CharsetUTF8 {
				assert.True(t, strings.HasPrefix(tc.m.StreamTitle, back.StreamTitle))
				assert.True(t, strings.HasPrefix(tc.m.StreamURL, back.StreamURL))
			}
		})
	}
}

func TestMetadataEncodeTruncatesTitleBeforeURL(t *testing.T) {
	m := &Metadata{StreamTitle: strings.Repeat("é", 3000), StreamURL: "http://host/dl/42"}

	frame, err := m.Encode(CharsetUTF8)
	require.NoError(t, err)
	assert.Equal(t, byte(255), frame[0])

	back := NewMetadata(frame[1:])
	assert.Equal(t, m.StreamURL, back.StreamURL)
	assert.NotEmpty(t, back.StreamTitle)
	assert.True(t, utf8.ValidString(back.StreamTitle))
}

func TestWantsMetadata(t *testing.T) {
	assert.True(t, WantsMetadata("GET / HTTP/1.0\r\nIcy-MetaData: 1\r\n\r\n"))
	assert.True(t, WantsMetadata("GET / HTTP/1.0\r\nicy-metadata:1\r\n\r\n"))
	assert.False(t, WantsMetadata("GET / HTTP/1.0\r\nIcy-MetaData: 0\r\n\r\n"))
	assert.False(t, WantsMetadata("GET / HTTP/1.0\r\n\r\n"))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Notice1: "n1", Notice2: "n2", Name: "radio", Bitrate: 128, Genre: "jazz", URL: "http://x", MetaInt: 8192}

	var buf bytes.Buffer
	_, err := h.WriteTo(&buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "ICY 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(buf.String(), "icy-metaint:8192\r\n\r\n"))

	buf.WriteString("audio")
	br := bufio.NewReader(&buf)
	status, got, err := ReadHeader(br)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, h, got)

	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(rest))
}

func TestStreamStripsMetadata(t *testing.T) {
	first := &Metadata{StreamTitle: "one"}
	frame, err := first.Encode(CharsetUTF8)
	require.NoError(t, err)

	var body bytes.Buffer
	body.WriteString("abcd")
	body.Write(frame)
	body.WriteString("efgh")
	body.Write(EmptyFrame())
	body.WriteString("ij")

	var seen []string
	s := NewStream(&body, nil, Header{MetaInt: 4})
	s.MetadataCallbackFunc = func(m *Metadata) { seen = append(seen, m.StreamTitle) }

	audio, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(audio))
	assert.Equal(t, []string{"one"}, seen)
	assert.Equal(t, 2, s.Frames())
}
