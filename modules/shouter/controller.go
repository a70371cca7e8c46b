package shouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grafana/dskit/services"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/zachfi/shouter/pkg/catalog"
	"github.com/zachfi/shouter/pkg/codec"
	"github.com/zachfi/shouter/pkg/playlist"
	"github.com/zachfi/shouter/pkg/provider"
	"github.com/zachfi/shouter/pkg/shoutcast"
	"github.com/zachfi/shouter/pkg/transcode"
)

var module = "shouter"

var tracer = otel.Tracer("github.com/zachfi/shouter/modules/shouter")

const reloadDebounce = 250 * time.Millisecond

// Catalog is the track store idle policies query.
type Catalog interface {
	Upsert(ctx context.Context, tracks ...playlist.Track) error
	Random(ctx context.Context, q catalog.Query) (playlist.Track, error)
	Lookup(ctx context.Context, path string) (playlist.Track, error)
}

// Controller accepts listeners, admits at most max_clients of them and runs
// one Session per admitted connection.
type Controller struct {
	services.Service

	cfg    *Config
	logger *slog.Logger
	access *accessLog

	codecs   *codec.Registry
	cache    *transcode.Cache
	catalog  Catalog
	policy   provider.Policy
	idleMode IdleMode
	charset  shoutcast.Charset

	playlists  *playlistRegistry
	nowPlaying *playlist.NowPlaying

	mu       sync.Mutex
	pl       *playlist.Playlist
	cursor   playlist.Cursor
	sessions map[*Session]struct{}

	sem      *semaphore.Weighted
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates the controller. cat may be nil, in which case the catalog idle
// modes fall back to silence.
func New(cfg Config, logger slog.Logger, cat Catalog) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy, _ := provider.ParsePolicy(cfg.Reencoding)
	idleMode, _ := ParseIdleMode(cfg.IdleMode)

	l := logger.With("module", module)
	codecs := codec.NewRegistry(codec.ExecRunner{}, cfg.DecoderPath)

	c := &Controller{
		cfg:      &cfg,
		logger:   l,
		access:   newAccessLog(cfg.AccessLog, l),
		codecs:   codecs,
		catalog:  cat,
		policy:   policy,
		idleMode: idleMode,
		charset:  shoutcast.Charset(cfg.MetadataCharset),
		cache: transcode.NewCache(codecs, cfg.StreamFormat, transcode.Options{
			ChunkSize:  cfg.ChunkSize,
			Bitrate:    cfg.StreamBitrate,
			ScratchDir: cfg.ScratchDir,
			Logger:     l,
		}),
		nowPlaying: &playlist.NowPlaying{},
		sessions:   make(map[*Session]struct{}),
		sem:        semaphore.NewWeighted(int64(cfg.MaxClients)),
	}
	c.playlists = newPlaylistRegistry(playlist.Options{Supported: c.supported})
	c.setPlaylist(playlist.New(nil, playlist.Options{}))

	c.Service = services.NewBasicService(c.starting, c.running, c.stopping)

	return c, nil
}

// supported reports whether a track can be streamed under the configured
// policy.
func (c *Controller) supported(path string) bool {
	ext := codec.Ext(path)
	if ext == codec.Ext("."+c.cfg.StreamFormat) || c.codecs.Known(ext) {
		return true
	}
	// Anything can be pushed through the passthrough adapter.
	return c.policy != provider.PolicyNone
}

func (c *Controller) starting(ctx context.Context) error {
	if c.cfg.PlaylistFile != "" {
		if err := c.reload(ctx); err != nil {
			c.logger.Warn("initial playlist load failed, starting empty", "err", err, "playlist", c.cfg.PlaylistFile)
		}
	}

	l, err := c.bind()
	if err != nil {
		return err
	}
	c.listener = l
	c.logger.Info("listening", "addr", l.Addr().String(), "mount", c.cfg.Mount)

	return nil
}

// bind listens on port, falling back to the following ports when it is taken.
func (c *Controller) bind() (net.Listener, error) {
	var errs []error
	for i := 0; i < bindAttempts; i++ {
		port := c.cfg.Port
		if port != 0 {
			port += i
		}
		addr := net.JoinHostPort(c.cfg.ListenAddress, strconv.Itoa(port))
		l, err := net.Listen("tcp", addr)
		if err == nil {
			return l, nil
		}
		c.logger.Warn("bind failed", "addr", addr, "err", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("unable to bind any port from %d: %w", c.cfg.Port, errors.Join(errs...))
}

func (c *Controller) running(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return c.listener.Close()
	})
	g.Go(func() error {
		return c.acceptLoop(gctx)
	})
	if c.cfg.PlaylistFile != "" {
		g.Go(func() error {
			return c.watch(gctx)
		})
	}

	err := g.Wait()

	// Sessions stop on their own once gctx is done; their sockets are closed.
	c.wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Controller) stopping(_ error) error {
	c.logger.Info("stopping")

	var errs []error
	if err := c.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.access.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Controller) acceptLoop(ctx context.Context) error {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !c.verifyRequest(conn) {
			continue
		}

		s := newSession(c, conn)
		c.add(s)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.remove(s)
			s.serve(ctx)
		}()
	}
}

// verifyRequest admits conn when fewer than max_clients sessions are active.
// A rejected connection gets a capacity status and is closed before any
// request handling. The rejection is written off the accept loop so a slow
// peer cannot hold up the next client.
func (c *Controller) verifyRequest(conn net.Conn) bool {
	if c.sem.TryAcquire(1) {
		return true
	}

	metricConnections.WithLabelValues(eventRejected).Inc()
	c.log(eventRejected, "remote", conn.RemoteAddr().String(), "max_clients", c.cfg.MaxClients)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reject(conn)
	}()
	return false
}

func (c *Controller) reject(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = fmt.Fprintf(conn, "HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\n\r\n")
}

func (c *Controller) add(s *Session) {
	c.mu.Lock()
	c.sessions[s] = struct{}{}
	n := len(c.sessions)
	c.mu.Unlock()

	metricListeners.Inc()
	metricConnections.WithLabelValues(eventAccepted).Inc()
	c.log(eventAccepted, "session", s.ID, "remote", s.remote, "listeners", n)
}

// remove drops s from the active set. Only the first call for a session has
// any effect.
func (c *Controller) remove(s *Session) {
	s.removeOnce.Do(func() {
		c.mu.Lock()
		delete(c.sessions, s)
		n := len(c.sessions)
		c.mu.Unlock()

		c.sem.Release(1)
		metricListeners.Dec()
		c.log(eventClosed, "session", s.ID, "remote", s.remote, "listeners", n, "sent", s.bytesSent.Load())
	})
}

// Listeners returns how many sessions are active.
func (c *Controller) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Addr is the stream socket address. It is nil before the service started.
func (c *Controller) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// ForceUpdate interrupts every session; each moves to the newest track on its
// next loop iteration.
func (c *Controller) ForceUpdate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for s := range c.sessions {
		s.interrupt.Store(true)
	}
	c.logger.Info("forced update", "listeners", len(c.sessions))
}

// SetNowPlaying records the external player status live cursors follow.
func (c *Controller) SetNowPlaying(st playlist.Status) {
	c.nowPlaying.Set(st)
	if c.cfg.ForceUpdate {
		c.ForceUpdate()
	}
}

func (c *Controller) log(event string, args ...any) {
	c.access.log(event, args...)
}

func (c *Controller) current() (*playlist.Playlist, playlist.Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pl, c.cursor
}

func (c *Controller) setPlaylist(pl *playlist.Playlist) {
	cur := c.newCursor(pl)

	c.mu.Lock()
	c.pl, c.cursor = pl, cur
	c.mu.Unlock()
}

func (c *Controller) newCursor(pl *playlist.Playlist) playlist.Cursor {
	if c.cfg.PlaylistMode == PlaylistLive {
		return playlist.NewLiveCursor(pl, c.nowPlaying, c.cfg.Repeat, c.cfg.PreSeek)
	}

	cur, err := playlist.NewStaticCursor(pl, playlist.StaticOptions{
		Repeat:  c.cfg.Repeat,
		Shuffle: c.cfg.Shuffle,
		Seed:    uint64(time.Now().UnixNano()),
		PreSeek: c.cfg.PreSeek,
	})
	if err != nil {
		return errCursor{err: err}
	}
	return cur
}

// reload parses the playlist file again and swaps it in whole.
func (c *Controller) reload(ctx context.Context) error {
	pl, err := c.playlists.Reload(c.cfg.PlaylistFile)
	if err != nil {
		metricReloads.WithLabelValues("error").Inc()
		return err
	}
	c.setPlaylist(pl)
	metricReloads.WithLabelValues("ok").Inc()

	for _, t := range pl.Excluded() {
		c.logger.Debug("track excluded", "path", t.Path, "url", t.URL, "reason", t.Err)
	}
	c.logger.Info("playlist loaded", "playlist", pl.Source, "playable", pl.Len(), "excluded", len(pl.Excluded()))

	if c.catalog != nil {
		if err := c.catalog.Upsert(ctx, pl.Playable()...); err != nil {
			c.logger.Error("catalog update failed", "err", err)
		}
	}

	if err := c.cache.Prune(pl.Contains); err != nil {
		c.logger.Warn("transcode cache prune failed", "err", err)
	}

	if c.cfg.ForceUpdate {
		c.ForceUpdate()
	}
	return nil
}

// watch reloads the playlist whenever its file is written or replaced.
func (c *Controller) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create playlist watcher: %w", err)
	}
	defer w.Close()

	target, err := filepath.Abs(c.cfg.PlaylistFile)
	if err != nil {
		return err
	}
	// Watch the directory so editors replacing the file are noticed.
	if err := w.Add(filepath.Dir(target)); err != nil {
		c.logger.Warn("playlist changes will not be picked up", "err", err, "dir", filepath.Dir(target))
		return nil
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("playlist watcher error", "err", err)
		case <-pending:
			pending = nil
			if err := c.reload(ctx); err != nil {
				c.logger.Error("playlist reload failed", "err", err, "playlist", c.cfg.PlaylistFile)
			}
		}
	}
}

// errCursor stands in for a playlist that cannot be played at all.
type errCursor struct{ err error }

func (e errCursor) PlayCursor() (playlist.Position, float64, error) { return playlist.Position{}, 0, e.err }
func (e errCursor) Advance(playlist.Position) (playlist.Position, error) {
	return playlist.Position{}, e.err
}
func (e errCursor) Newest() (playlist.Position, error) { return playlist.Position{}, e.err }
