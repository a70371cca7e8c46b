package shouter

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// download serves the newest track. dl_mount answers with a redirect to the
// track's own path, which is then sent at dl_throttle KiB/s.
func (s *Session) download(ctx context.Context, req request) error {
	_, cur := s.c.current()
	newest, err := cur.Newest()
	if err != nil {
		return s.unmapped(req)
	}
	location := (&url.URL{Path: newest.Path}).EscapedPath()

	switch req.mount {
	case s.c.cfg.DLMount:
		s.c.log(eventDownload, "session", s.ID, "remote", s.remote, "redirect", location)
		return s.writeStatus(http.StatusMultipleChoices, [][2]string{{"Location", location}})

	case filepath.Clean(newest.Path):
		return s.sendFile(ctx, newest.Path)

	default:
		return s.unmapped(req)
	}
}

func (s *Session) sendFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	ctype := contentType(path)

	s.c.log(eventDownload, "session", s.ID, "remote", s.remote, "path", path, "size", info.Size())
	err = s.writeStatus(http.StatusOK, [][2]string{
		{"Content-Length", strconv.FormatInt(info.Size(), 10)},
		{"Content-Type", ctype},
	})
	if err != nil {
		return err
	}

	bufSize := s.c.cfg.BufSize
	limit := rate.Inf
	if kib := s.c.cfg.DLThrottle; kib > 0 {
		limit = rate.Limit(kib * 1024)
	}
	limiter := rate.NewLimiter(limit, bufSize)

	buf := make([]byte, bufSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if err := limiter.WaitN(ctx, n); err != nil {
				return err
			}
			if err := s.write(buf[:n]); err != nil {
				return err
			}
			s.bytesSent.Add(int64(n))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// audioTypes covers what the system mime table commonly lacks.
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".wma":  "audio/x-ms-wma",
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
