package shouter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachfi/shouter/pkg/codec"
	"github.com/zachfi/shouter/pkg/playlist"
	"github.com/zachfi/shouter/pkg/provider"
	"github.com/zachfi/shouter/pkg/shoutcast"
)

// captureConn records everything written to it.
type captureConn struct {
	net.Conn
	buf bytes.Buffer
}

func (c *captureConn) Write(b []byte) (int, error) { return c.buf.Write(b) }

func testSession(cfg Config) (*Session, *captureConn) {
	conn := &captureConn{}
	c := &Controller{cfg: &cfg, charset: shoutcast.Charset(cfg.MetadataCharset)}
	return &Session{c: c, conn: conn}, conn
}

func TestParseIdleMode(t *testing.T) {
	cases := []struct {
		in      string
		want    IdleMode
		wantErr bool
	}{
		{in: "silence", want: IdleSilence},
		{in: " Genre ", want: IdleGenre},
		{in: "0", want: IdleSilence},
		{in: "1", want: IdleDirectory},
		{in: "5", want: IdleRandom},
		{in: "6", want: IdlePlaylist},
		{in: "7", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "loud", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseIdleMode(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	base := testConfig()
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"mount":        func(c *Config) { c.Mount = "stream" },
		"dl_mount":     func(c *Config) { c.EnableDL, c.DLMount = true, "download" },
		"buf_size":     func(c *Config) { c.BufSize = 0 },
		"icy_interval": func(c *Config) { c.IcyInterval = -1 },
		"max_clients":  func(c *Config) { c.MaxClients = 0 },
		"punc_factor":  func(c *Config) { c.PuncFactor = 101 },
		"inject_pct":   func(c *Config) { c.InjectPct = -5 },
		"reencoding":   func(c *Config) { c.Reencoding = "sometimes" },
		"idle_mode":    func(c *Config) { c.IdleMode = "9" },
		"mode":         func(c *Config) { c.PlaylistMode = "shuffle" },
		"charset":      func(c *Config) { c.MetadataCharset = "ebcdic" },
		"port":         func(c *Config) { c.Port = 65530 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestSkippable(t *testing.T) {
	assert.True(t, skippable(fmt.Errorf("open: %w", os.ErrNotExist)))
	assert.True(t, skippable(fmt.Errorf("%w: x.wma", provider.ErrFormat)))
	assert.False(t, skippable(context.Canceled))

	assert.True(t, idleError(playlist.ErrNotPlaying))
	assert.True(t, idleError(fmt.Errorf("cursor: %w", playlist.ErrPlaylistEmpty)))
	assert.False(t, idleError(errors.New("boom")))
}

func TestWriteAudioInterleavesMetadata(t *testing.T) {
	cfg := testConfig()
	cfg.IcyInterval = 10

	s, conn := testSession(cfg)
	s.icy = true
	s.meta = shoutcast.Metadata{StreamTitle: "A"}
	s.dirty = true

	// Writes of uneven size still cut exactly at the interval.
	for _, n := range []int{7, 7, 7, 4} {
		require.NoError(t, s.writeAudio(bytes.Repeat([]byte{'x'}, n)))
	}

	meta := shoutcast.Metadata{StreamTitle: "A"}
	full, err := meta.Encode(shoutcast.CharsetUTF8)
	require.NoError(t, err)

	var want []byte
	want = append(want, bytes.Repeat([]byte{'x'}, 10)...)
	want = append(want, full...)
	want = append(want, bytes.Repeat([]byte{'x'}, 10)...)
	want = append(want, 0)
	want = append(want, bytes.Repeat([]byte{'x'}, 5)...)

	assert.Equal(t, want, conn.buf.Bytes())
	assert.Equal(t, 5, s.counter)
	assert.Equal(t, int64(25), s.bytesSent.Load())
	assert.False(t, s.dirty)
}

func TestWriteAudioWithoutMetadata(t *testing.T) {
	cfg := testConfig()
	cfg.IcyInterval = 10

	s, conn := testSession(cfg)
	s.dirty = true

	require.NoError(t, s.writeAudio(bytes.Repeat([]byte{'x'}, 25)))
	assert.Equal(t, bytes.Repeat([]byte{'x'}, 25), conn.buf.Bytes())
	assert.True(t, s.dirty)
}

func TestStreamStopsOnInterrupt(t *testing.T) {
	cfg := testConfig()
	cfg.BufSize = 4

	s, conn := testSession(cfg)
	r := &silenceReader{frame: []byte("abc"), remaining: 1 << 20}

	s.interrupt.Store(true)
	require.NoError(t, s.stream(context.Background(), r, 0))
	assert.Zero(t, conn.buf.Len())
}

func TestSilenceReader(t *testing.T) {
	frame := codec.SilenceFrame(128)
	r := &silenceReader{frame: frame, remaining: int64(2*len(frame) + 10)}

	var got []byte
	for {
		b, err := r.Read(context.Background(), 100)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, len(b), 100)
		got = append(got, b...)
	}

	want := append(append(append([]byte{}, frame...), frame...), frame[:10]...)
	assert.Equal(t, want, got)
}

func TestPace(t *testing.T) {
	start := time.Now()
	// 2000 bytes at 160 kbps is 100ms.
	require.NoError(t, pace(context.Background(), 2000, 160))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pace(ctx, 1<<20, 8), context.Canceled)
	assert.NoError(t, pace(ctx, 100, 0))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", contentType("/music/a.MP3"))
	assert.Equal(t, "audio/ogg", contentType("b.ogg"))
	assert.Equal(t, "application/octet-stream", contentType("c.unknownext"))
}
