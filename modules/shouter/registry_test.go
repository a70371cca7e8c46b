package shouter

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachfi/shouter/pkg/playlist"
)

func TestPlaylistRegistryReloadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	r := newPlaylistRegistry(playlist.Options{})

	path := writeSnapshot(t, dir, fixtureTrack{name: "a.mp3", length: "0:10", bitrate: 8000, title: "A"})

	first, err := r.Get(path)
	require.NoError(t, err)
	require.Equal(t, 1, first.Len())

	again, err := r.Get(path)
	require.NoError(t, err)
	assert.Same(t, first, again)

	writeSnapshot(t, dir,
		fixtureTrack{name: "b.mp3", length: "0:10", bitrate: 8000, title: "B"},
		fixtureTrack{name: "c.mp3", length: "0:10", bitrate: 8000, title: "C"},
	)

	changed, err := r.Get(path)
	require.NoError(t, err)
	assert.NotSame(t, first, changed)
	assert.Equal(t, 2, changed.Len())
	assert.Equal(t, 1, r.Len())

	_, err = r.Get(filepath.Join(dir, "missing.xml"))
	assert.Error(t, err)
}

func TestIdlePlaylistSeesRewrittenSnapshot(t *testing.T) {
	dir := t.TempDir()
	idlePath := writeSnapshot(t, dir, fixtureTrack{name: "a.mp3", length: "0:10", bitrate: 8000, title: "A"})

	cfg := testConfig()
	cfg.IdleArg = idlePath

	s, _ := testSession(cfg)
	s.c.idleMode = IdlePlaylist
	s.c.playlists = newPlaylistRegistry(playlist.Options{})
	s.rng = rand.New(rand.NewPCG(1, 2))

	got, err := s.idlePick(context.Background(), IdlePlaylist)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.mp3"), got.Path)

	writeSnapshot(t, dir, fixtureTrack{name: "bb.mp3", length: "0:20", bitrate: 8000, title: "BB"})

	got, err = s.idlePick(context.Background(), IdlePlaylist)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bb.mp3"), got.Path)
}
