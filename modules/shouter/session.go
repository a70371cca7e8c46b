package shouter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zachfi/zkit/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/shouter/pkg/playlist"
	"github.com/zachfi/shouter/pkg/provider"
	"github.com/zachfi/shouter/pkg/shoutcast"
)

// defaultBitrate paces tracks whose bitrate is unknown.
const defaultBitrate = 160

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:multistatus xmlns:D="DAV:">
    <D:response>
    </D:response>
</D:multistatus>
`

var konqueror = regexp.MustCompile(`user-agent:\s?.*konqueror`)

// State is where a Session is in its lifecycle.
type State int32

const (
	AwaitingRequest State = iota
	ServingHeader
	Streaming
	Idle
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingRequest:
		return "awaiting_request"
	case ServingHeader:
		return "serving_header"
	case Streaming:
		return "streaming"
	case Idle:
		return "idle"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// socketError marks a failure talking to the listener. The session ends
// without further noise.
type socketError struct{ err error }

func (e *socketError) Error() string { return "socket: " + e.err.Error() }
func (e *socketError) Unwrap() error { return e.err }

func isSocketError(err error) bool {
	var se *socketError
	return errors.As(err, &se)
}

// idleError reports whether err means there is nothing to play right now.
func idleError(err error) bool {
	return errors.Is(err, playlist.ErrNotPlaying) ||
		errors.Is(err, playlist.ErrPlaylistEmpty) ||
		errors.Is(err, playlist.ErrIndeterminateQueue)
}

// skippable reports whether a track failed on its own and the next one may
// still play.
func skippable(err error) bool {
	return errors.Is(err, provider.ErrFormat) || errors.Is(err, os.ErrNotExist)
}

type request struct {
	method string
	mount  string
	raw    string
}

// Session serves one listener connection.
type Session struct {
	ID string

	c       *Controller
	conn    net.Conn
	remote  string
	logger  *slog.Logger
	started time.Time
	rng     *rand.Rand

	state      atomic.Int32
	interrupt  atomic.Bool
	removeOnce sync.Once
	bytesSent  atomic.Int64
	title      atomic.Pointer[string]

	icy     bool
	counter int // audio bytes since the last metadata frame
	dirty   bool
	meta    shoutcast.Metadata
}

func newSession(c *Controller, conn net.Conn) *Session {
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()

	return &Session{
		ID:      id,
		c:       c,
		conn:    conn,
		remote:  remote,
		logger:  c.logger.With("session", id, "remote", remote),
		started: time.Now(),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
}

// State returns the session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Title is the stream title currently announced to the listener.
func (s *Session) Title() string {
	if t := s.title.Load(); t != nil {
		return *t
	}
	return ""
}

func (s *Session) serve(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "shouter.session", trace.WithAttributes(
		attribute.String("session", s.ID),
		attribute.String("remote", s.remote),
	))
	defer span.End()

	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	defer func() {
		_ = s.conn.Close()
		s.setState(Closed)
	}()

	err := s.handle(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case isSocketError(err):
		s.logger.Debug("listener gone", "err", err)
		s.c.log(eventDropped, "session", s.ID, "remote", s.remote, "err", err.Error())
	default:
		_ = tracing.ErrHandler(span, err, "session failed", s.logger)
	}
}

func (s *Session) handle(ctx context.Context) error {
	s.setState(AwaitingRequest)
	req, err := s.readRequest()
	if err != nil {
		return err
	}

	s.setState(ServingHeader)
	cfg := s.c.cfg

	switch req.method {
	case "PROPFIND":
		if req.mount != cfg.Mount {
			return s.unmapped(req)
		}
		return s.write([]byte(fmt.Sprintf("HTTP/1.1 207 Multi-Status\r\nContent-Type: text/xml; charset=\"utf-8\"\r\nContent-Length: %d\r\n\r\n%s",
			len(propfindBody), propfindBody)))

	case http.MethodGet, http.MethodHead:
		if req.mount != cfg.Mount {
			if cfg.EnableDL && req.method == http.MethodGet {
				return s.download(ctx, req)
			}
			return s.unmapped(req)
		}

	default:
		return s.unmapped(req)
	}

	s.icy = shoutcast.WantsMetadata(req.raw)
	s.c.log(eventRequest, "session", s.ID, "remote", s.remote, "method", req.method, "mount", req.mount, "icy", s.icy,
		"header", strings.Join(strings.Fields(req.raw), " "))

	if req.method == http.MethodHead {
		return s.head(ctx, req)
	}

	if s.icy {
		if err := s.writeICYHeader(cfg.StreamBitrate); err != nil {
			return err
		}
	} else if err := s.write([]byte("HTTP/1.0 200 OK\r\n\r\n")); err != nil {
		return err
	}

	return s.run(ctx)
}

// readRequest reads the request line and header block.
func (s *Session) readRequest() (request, error) {
	if t := s.c.cfg.RequestTimeout; t > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(t))
		defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	}

	tp := textproto.NewReader(bufio.NewReader(s.conn))

	line, err := tp.ReadLine()
	if err != nil {
		return request{}, &socketError{err: err}
	}

	var raw strings.Builder
	raw.WriteString(line + "\r\n")
	for {
		l, err := tp.ReadLine()
		if err != nil {
			return request{}, &socketError{err: err}
		}
		if l == "" {
			break
		}
		raw.WriteString(l + "\r\n")
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		_ = s.writeStatus(http.StatusBadRequest, nil)
		return request{}, fmt.Errorf("malformed request line %q", line)
	}

	mount := fields[1]
	if u, err := url.Parse(mount); err == nil && u.Path != "" {
		mount = u.Path
	}
	if len(mount) > 1 {
		mount = strings.TrimSuffix(mount, "/")
	}

	return request{
		method: strings.ToUpper(fields[0]),
		mount:  mount,
		raw:    raw.String(),
	}, nil
}

func (s *Session) unmapped(req request) error {
	s.c.log(eventUnmapped, "session", s.ID, "remote", s.remote, "method", req.method, "mount", req.mount)
	return s.writeStatus(http.StatusNotFound, nil)
}

func (s *Session) head(ctx context.Context, req request) error {
	if s.icy {
		bitrate := s.c.cfg.StreamBitrate
		if _, cur := s.c.current(); cur != nil {
			if newest, err := cur.Newest(); err == nil {
				bitrate = s.bitrate(ctx, newest.Track)
			}
		}
		return s.writeICYHeader(bitrate)
	}

	headers := [][2]string{{"Content-Type", "audio/x-mpegurl"}}
	// Konqueror does not cope with the mpegurl type on streams.
	if konqueror.MatchString(strings.ToLower(req.raw)) {
		headers = nil
	}
	return s.writeStatus(http.StatusOK, headers)
}

func (s *Session) writeICYHeader(bitrate int) error {
	cfg := s.c.cfg
	h := shoutcast.Header{
		Notice1: cfg.Desc1,
		Notice2: cfg.Desc2,
		Name:    cfg.Name,
		Bitrate: bitrate,
		Genre:   cfg.Genre,
		URL:     cfg.URL,
		MetaInt: cfg.IcyInterval,
	}
	if _, err := h.WriteTo(s.conn); err != nil {
		return &socketError{err: err}
	}
	return nil
}

func (s *Session) writeStatus(code int, headers [][2]string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	return s.write([]byte(b.String()))
}

func (s *Session) write(b []byte) error {
	if _, err := s.conn.Write(b); err != nil {
		return &socketError{err: err}
	}
	return nil
}

// run is the streaming loop. The first track is joined at the play cursor,
// every later one starts from its beginning.
func (s *Session) run(ctx context.Context) error {
	s.setState(Streaming)

	var (
		prev  *playlist.Position
		skips int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pl, cur := s.c.current()

		var (
			t    playlist.Position
			frac float64
			err  error
		)
		switch {
		case s.interrupt.Swap(false):
			t, err = cur.Newest()
			s.logger.Debug("interrupted, moving to newest track", "track", t.Path)
		case prev == nil:
			t, frac, err = cur.PlayCursor()
			frac *= float64(s.c.cfg.PuncFactor) / 100
		default:
			t, err = cur.Advance(*prev)
		}

		if err == nil && skips > pl.Len() {
			// Every track failed in a row.
			err = playlist.ErrPlaylistEmpty
		}
		if err != nil {
			if !idleError(err) {
				return err
			}
			prev, skips = nil, 0
			if err := s.idle(ctx); err != nil {
				return err
			}
			continue
		}

		err = s.play(ctx, t.Track, frac)
		switch {
		case err == nil:
			skips = 0
		case skippable(err):
			skips++
			metricTracksSkipped.Inc()
			s.logger.Warn("skipping track", "path", t.Path, "err", err)
		default:
			return err
		}
		prev = &t

		if !s.interrupt.Load() {
			if err := s.inject(ctx); err != nil {
				return err
			}
		}
	}
}

// reader is the byte source of one track.
type reader interface {
	Read(ctx context.Context, size int) ([]byte, error)
}

// play streams one track from frac of the way in.
func (s *Session) play(ctx context.Context, t playlist.Track, frac float64) error {
	p, err := provider.Open(t.Path, provider.Options{
		Policy:   s.c.policy,
		Target:   s.c.cfg.StreamFormat,
		Registry: s.c.codecs,
		Cache:    s.c.cache,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	if frac > 0 {
		p.SeekFraction(frac)
	}

	bitrate := s.c.cfg.StreamBitrate
	if !p.Transcoded() {
		bitrate = s.bitrate(ctx, t)
	}

	s.announce(ctx, t)
	s.logger.Debug("streaming", "path", t.Path, "offset", p.Tell(), "bitrate", bitrate, "transcoded", p.Transcoded())

	return s.stream(ctx, p, bitrate)
}

// announce marks the metadata dirty so the next frame carries t's title.
func (s *Session) announce(ctx context.Context, t playlist.Track) {
	title := t.StreamTitle()
	if t.Title == "" && s.c.catalog != nil {
		if known, err := s.c.catalog.Lookup(ctx, t.Path); err == nil && known.Title != "" {
			title = known.StreamTitle()
		}
	}

	s.meta = shoutcast.Metadata{StreamTitle: title, StreamURL: s.downloadURL()}
	s.dirty = true
	s.title.Store(&title)
}

func (s *Session) downloadURL() string {
	if !s.c.cfg.EnableDL {
		return ""
	}
	return "http://" + s.conn.LocalAddr().String() + s.c.cfg.DLMount
}

// bitrate in kbps used to pace t.
func (s *Session) bitrate(ctx context.Context, t playlist.Track) int {
	if t.Bitrate > 0 {
		return t.Bitrate
	}
	if s.c.catalog != nil {
		if known, err := s.c.catalog.Lookup(ctx, t.Path); err == nil && known.Bitrate > 0 {
			return known.Bitrate
		}
	}
	s.logger.Debug("bitrate unknown, using default", "path", t.Path, "bitrate", defaultBitrate)
	return defaultBitrate
}

// stream copies r to the listener at bitrate kbps until r is drained or the
// session is interrupted. The interrupt flag is only checked between writes.
func (s *Session) stream(ctx context.Context, r reader, bitrate int) error {
	bufSize := s.c.cfg.BufSize
	for !s.interrupt.Load() {
		n := bufSize
		if till := s.c.cfg.IcyInterval - s.counter; till > 0 && till < n {
			n = till
		}

		buf, err := r.Read(ctx, n)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.writeAudio(buf); err != nil {
			return err
		}

		if err := pace(ctx, len(buf), bitrate); err != nil {
			return err
		}
	}
	return nil
}

// writeAudio writes buf with a metadata frame in front of every audio byte
// whose offset is a multiple of the interval.
func (s *Session) writeAudio(buf []byte) error {
	interval := s.c.cfg.IcyInterval
	for len(buf) > 0 {
		if s.counter >= interval {
			if s.icy {
				if err := s.writeMetadata(); err != nil {
					return err
				}
			}
			s.counter = 0
		}

		n := min(len(buf), interval-s.counter)
		if err := s.write(buf[:n]); err != nil {
			return err
		}
		s.counter += n
		s.bytesSent.Add(int64(n))
		metricBytesSent.Add(float64(n))
		buf = buf[n:]
	}
	return nil
}

func (s *Session) writeMetadata() error {
	if !s.dirty {
		metricMetadataFrames.WithLabelValues("empty").Inc()
		return s.write(shoutcast.EmptyFrame())
	}

	frame, err := s.meta.Encode(s.c.charset)
	if err != nil {
		return err
	}
	s.dirty = false
	metricMetadataFrames.WithLabelValues("full").Inc()
	return s.write(frame)
}

// pace sleeps for as long as n bytes take to play at bitrate kbps.
func pace(ctx context.Context, n, bitrate int) error {
	if bitrate <= 0 {
		return nil
	}
	d := time.Duration(float64(n*8) / float64(bitrate*1000) * float64(time.Second))
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
