package shouter

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"

	"github.com/zachfi/shouter/pkg/catalog"
	"github.com/zachfi/shouter/pkg/codec"
	"github.com/zachfi/shouter/pkg/playlist"
)

// idleAttempts bounds how many picks an idle policy gets before silence.
const idleAttempts = 5

// errNoIdleTrack means the idle argument selects nothing.
var errNoIdleTrack = errors.New("idle policy found no track")

// idle runs the configured idle policy once. Picks that cannot be streamed
// are retried; a policy that finds nothing falls back to silence.
func (s *Session) idle(ctx context.Context) error {
	s.setState(Idle)
	defer s.setState(Streaming)

	mode := s.c.idleMode
	metricIdle.WithLabelValues(string(mode)).Inc()

	if mode == IdleSilence {
		return s.silence(ctx)
	}

	for attempt := 0; attempt < idleAttempts; attempt++ {
		t, err := s.idlePick(ctx, mode)
		if err != nil {
			if !errors.Is(err, errNoIdleTrack) {
				s.logger.Warn("idle policy failed", "mode", mode, "err", err)
			}
			break
		}

		err = s.play(ctx, t, 0)
		if err == nil || !skippable(err) {
			return err
		}
		s.logger.Debug("idle pick not streamable, retrying", "path", t.Path, "err", err)
	}

	return s.silence(ctx)
}

func (s *Session) idlePick(ctx context.Context, mode IdleMode) (playlist.Track, error) {
	cfg := s.c.cfg
	arg := cfg.IdleArg

	switch mode {
	case IdleDirectory:
		return s.randomFile(arg, "")

	case IdlePlaylist:
		path := arg
		if path == "" {
			path = cfg.PlaylistFile
		}
		if path == "" {
			return playlist.Track{}, errNoIdleTrack
		}
		pl, err := s.c.playlists.Get(path)
		if err != nil {
			return playlist.Track{}, err
		}
		t, err := pl.Random(s.rng)
		if errors.Is(err, playlist.ErrPlaylistEmpty) {
			return t, errNoIdleTrack
		}
		return t, err
	}

	if s.c.catalog == nil {
		return playlist.Track{}, errNoIdleTrack
	}

	var q catalog.Query
	switch mode {
	case IdleGenre:
		q.Genre = arg
	case IdleYear:
		q.Year = arg
	case IdleBitrate:
		q.Bitrate, _ = strconv.Atoi(arg)
		if q.Bitrate <= 0 {
			q.Bitrate = cfg.StreamBitrate
		}
	}

	t, err := s.c.catalog.Random(ctx, q)
	if errors.Is(err, catalog.ErrNoMatch) {
		return t, errNoIdleTrack
	}
	return t, err
}

// randomFile picks a file in dir matching filter, *.<stream_format> by
// default.
func (s *Session) randomFile(dir, filter string) (playlist.Track, error) {
	if dir == "" {
		return playlist.Track{}, errNoIdleTrack
	}
	if filter == "" {
		filter = "*." + s.c.cfg.StreamFormat
	}

	files, err := filepath.Glob(filepath.Join(dir, filter))
	if err != nil {
		return playlist.Track{}, err
	}
	if len(files) == 0 {
		return playlist.Track{}, errNoIdleTrack
	}

	return playlist.Track{
		Path:       files[s.rng.IntN(len(files))],
		QueueIndex: playlist.NoQueue,
	}, nil
}

// inject plays a random file from inject_dir between tracks, inject_pct
// percent of the time.
func (s *Session) inject(ctx context.Context) error {
	cfg := s.c.cfg
	if cfg.InjectPct <= 0 || cfg.InjectDir == "" || s.rng.IntN(100) >= cfg.InjectPct {
		return nil
	}

	t, err := s.randomFile(cfg.InjectDir, cfg.InjectFilter)
	if err != nil {
		s.logger.Debug("nothing to inject", "dir", cfg.InjectDir, "err", err)
		return nil
	}

	err = s.play(ctx, t, 0)
	if err != nil && skippable(err) {
		s.logger.Warn("injected file not streamable", "path", t.Path, "err", err)
		return nil
	}
	return err
}

// silence streams generated silent frames for silence_seconds.
func (s *Session) silence(ctx context.Context) error {
	br := s.c.cfg.StreamBitrate
	if !silenceBitrates[br] {
		br = 128
	}
	frame := codec.SilenceFrame(br)

	frames := int64(s.c.cfg.SilenceSeconds / codec.SilenceFrameDuration)
	if frames <= 0 {
		frames = 1
	}

	title := "silence"
	s.meta.StreamTitle = title
	s.meta.StreamURL = s.downloadURL()
	s.dirty = true
	s.title.Store(&title)

	return s.stream(ctx, &silenceReader{frame: frame, remaining: frames * int64(len(frame))}, br)
}

// silenceBitrates are the MPEG-1 Layer III rates SilenceFrame can build.
var silenceBitrates = map[int]bool{32: true, 40: true, 48: true, 56: true, 64: true, 80: true, 96: true,
	112: true, 128: true, 160: true, 192: true, 224: true, 256: true, 320: true}

// silenceReader repeats one frame.
type silenceReader struct {
	frame     []byte
	off       int
	remaining int64
}

func (r *silenceReader) Read(_ context.Context, size int) ([]byte, error) {
	if r.remaining <= 0 {
		return nil, io.EOF
	}

	n := int(min(int64(size), r.remaining))
	out := make([]byte, 0, n)
	for len(out) < n {
		k := min(n-len(out), len(r.frame)-r.off)
		out = append(out, r.frame[r.off:r.off+k]...)
		r.off = (r.off + k) % len(r.frame)
	}
	r.remaining -= int64(n)
	return out, nil
}
