package shouter

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zachfi/shouter/pkg/playlist"
)

type registryEntry struct {
	pl      *playlist.Playlist
	modTime time.Time
	size    int64
}

// playlistRegistry caches parsed playlists by file. An entry is loaded on
// first reference and parsed again whenever its file has changed since.
type playlistRegistry struct {
	opts playlist.Options

	mu      sync.Mutex
	entries map[string]registryEntry
}

func newPlaylistRegistry(opts playlist.Options) *playlistRegistry {
	return &playlistRegistry{
		opts:    opts,
		entries: make(map[string]registryEntry),
	}
}

func (r *playlistRegistry) Get(path string) (*playlist.Playlist, error) {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[path]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.pl, nil
	}

	pl, err := playlist.Load(path, r.opts)
	if err != nil {
		return nil, err
	}
	r.entries[path] = registryEntry{pl: pl, modTime: info.ModTime(), size: info.Size()}
	return pl, nil
}

func (r *playlistRegistry) Invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, filepath.Clean(path))
}

// Reload drops any cached copy of path and parses it again.
func (r *playlistRegistry) Reload(path string) (*playlist.Playlist, error) {
	r.Invalidate(path)
	return r.Get(path)
}

func (r *playlistRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
