// Package playlist models the tracks a mount plays and maps time, or an
// externally reported play position, onto the track that should be playing.
package playlist

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotPlaying means the external player reports nothing playing.
	ErrNotPlaying = errors.New("not playing")
	// ErrPlaylistEmpty means rotation reached its end with repeat disabled,
	// or there is nothing playable at all.
	ErrPlaylistEmpty = errors.New("playlist empty")
	// ErrIndeterminateQueue means queue priorities do not give a single order.
	ErrIndeterminateQueue = errors.New("indeterminate queue order")
)

// Options control which tracks are playable.
type Options struct {
	// Supported reports whether a file can be streamed. Nil accepts all.
	Supported func(path string) bool
}

// Playlist is an immutable, ordered set of tracks. Reloads build a new one.
type Playlist struct {
	Source string
	Loaded time.Time
	Tracks []Track

	playable []int
}

// New validates tracks and builds a playlist. Tracks that cannot be played
// stay in Tracks with Err set.
func New(tracks []Track, opts Options) *Playlist {
	p := &Playlist{
		Loaded: time.Now(),
		Tracks: make([]Track, len(tracks)),
	}

	for i, t := range tracks {
		t.Index = i
		if t.Err == "" {
			t.Err = validate(&t, opts)
		}
		p.Tracks[i] = t
		if t.Playable() {
			p.playable = append(p.playable, i)
		}
	}

	return p
}

func validate(t *Track, opts Options) string {
	if t.Path == "" {
		path, err := localPath(t.URL)
		if err != nil {
			return err.Error()
		}
		t.Path = path
	}
	if t.Path == "" {
		return "missing location"
	}
	if t.Duration <= 0 {
		return "unparsable duration"
	}
	if opts.Supported != nil && !opts.Supported(t.Path) {
		return fmt.Sprintf("unsupported extension %q", filepath.Ext(t.Path))
	}
	return ""
}

// Load reads a playlist file, choosing the parser by extension: .xml is a
// now-playing snapshot, .m3u/.m3u8 and .pls are list files.
func Load(path string, opts Options) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dir := filepath.Dir(path)

	var tracks []Track
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		tracks, err = ParseSnapshot(f)
	case ".m3u", ".m3u8":
		tracks, err = ParseM3U(f, dir)
	case ".pls":
		tracks, err = ParsePLS(f, dir)
	default:
		return nil, fmt.Errorf("unknown playlist format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	p := New(tracks, opts)
	p.Source = path
	return p, nil
}

// Len returns the number of playable tracks.
func (p *Playlist) Len() int {
	return len(p.playable)
}

// Playable returns the tracks in rotation, in playlist order.
func (p *Playlist) Playable() []Track {
	out := make([]Track, len(p.playable))
	for i, idx := range p.playable {
		out[i] = p.Tracks[idx]
	}
	return out
}

// Excluded returns the tracks left out of rotation.
func (p *Playlist) Excluded() []Track {
	var out []Track
	for _, t := range p.Tracks {
		if !t.Playable() {
			out = append(out, t)
		}
	}
	return out
}

// Track returns the track at playlist position i.
func (p *Playlist) Track(i int) (Track, bool) {
	if i < 0 || i >= len(p.Tracks) {
		return Track{}, false
	}
	return p.Tracks[i], true
}

// Last returns the last playable track.
func (p *Playlist) Last() (Track, error) {
	if len(p.playable) == 0 {
		return Track{}, ErrPlaylistEmpty
	}
	return p.Tracks[p.playable[len(p.playable)-1]], nil
}

// Contains reports whether path is a playable track.
func (p *Playlist) Contains(path string) bool {
	for _, idx := range p.playable {
		if p.Tracks[idx].Path == path {
			return true
		}
	}
	return false
}

// Random picks a playable track.
func (p *Playlist) Random(rng *rand.Rand) (Track, error) {
	if len(p.playable) == 0 {
		return Track{}, ErrPlaylistEmpty
	}
	return p.Tracks[p.playable[rng.IntN(len(p.playable))]], nil
}
