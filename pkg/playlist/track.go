package playlist

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NoQueue marks a track without a queue priority.
const NoQueue = -1

// Track is one playlist entry.
type Track struct {
	// Index is the position in Playlist.Tracks.
	Index int

	Title   string
	Artist  string
	Album   string
	Genre   string
	Year    string
	TrackNo string

	Duration time.Duration
	// Bitrate in kbps, zero when unknown.
	Bitrate int

	URL  string
	Path string

	QueueIndex int

	// Err says why the track is excluded from rotation. It is kept for
	// diagnostics only.
	Err string
}

// Playable reports whether the track takes part in rotation.
func (t Track) Playable() bool {
	return t.Err == ""
}

// Queued reports whether the track has a queue priority.
func (t Track) Queued() bool {
	return t.QueueIndex >= 0
}

// StreamTitle is the "artist - title" text sent in metadata frames.
func (t Track) StreamTitle() string {
	switch {
	case t.Artist != "" && t.Title != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	default:
		return baseName(t.Path)
	}
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ParseLength parses "MM:SS", "H:MM:SS" or plain seconds.
func ParseLength(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty length")
	}

	var total int
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid length %q", s)
		}
		total = total*60 + n
	}

	return time.Duration(total) * time.Second, nil
}

// localPath turns a playlist URL into a filesystem path.
func localPath(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a local file: %s", u.Scheme)
	}
	return u.Path, nil
}
