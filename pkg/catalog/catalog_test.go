package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachfi/shouter/pkg/playlist"
)

func open(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func fixture() []playlist.Track {
	return []playlist.Track{
		{Path: "/m/a.mp3", Title: "A", Artist: "X", Genre: "Rock", Year: "1999", Bitrate: 128, Duration: time.Minute},
		{Path: "/m/b.mp3", Title: "B", Artist: "Y", Genre: "jazz", Year: "2001", Bitrate: 192, Duration: time.Minute},
		{Path: "/m/c.ogg", Title: "C", Artist: "Z", Genre: "rock", Year: "2001", Bitrate: 160, Duration: time.Minute},
		{Path: "/m/d.mp3", Title: "D", Err: "unparsable duration"},
	}
}

func TestUpsertSkipsUnplayable(t *testing.T) {
	ctx := context.Background()
	c := open(t)

	require.NoError(t, c.Upsert(ctx, fixture()...))
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Re-upserting replaces rows.
	updated := fixture()[0]
	updated.Title = "A2"
	require.NoError(t, c.Upsert(ctx, updated))
	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := c.Lookup(ctx, "/m/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "A2", got.Title)
	assert.Equal(t, time.Minute, got.Duration)
	assert.Equal(t, playlist.NoQueue, got.QueueIndex)
}

func TestRandomQueries(t *testing.T) {
	ctx := context.Background()
	c := open(t)
	require.NoError(t, c.Upsert(ctx, fixture()...))

	for i := 0; i < 10; i++ {
		got, err := c.Random(ctx, Query{Genre: "ROCK"})
		require.NoError(t, err)
		assert.Contains(t, []string{"/m/a.mp3", "/m/c.ogg"}, got.Path)
	}

	got, err := c.Random(ctx, Query{Year: "2001", Bitrate: 192})
	require.NoError(t, err)
	assert.Equal(t, "/m/b.mp3", got.Path)

	_, err = c.Random(ctx, Query{Genre: "polka"})
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = c.Random(ctx, Query{})
	assert.NoError(t, err)
}

func TestLookupMissing(t *testing.T) {
	c := open(t)
	_, err := c.Lookup(context.Background(), "/nope.mp3")
	assert.ErrorIs(t, err, ErrNoMatch)
}
