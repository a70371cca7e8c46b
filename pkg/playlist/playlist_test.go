package playlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func tracks(secs ...int) []Track {
	out := make([]Track, len(secs))
	for i, s := range secs {
		out[i] = Track{
			Title:      string(rune('a' + i)),
			Path:       "/music/" + string(rune('a'+i)) + ".mp3",
			Duration:   time.Duration(s) * time.Second,
			QueueIndex: NoQueue,
		}
	}
	return out
}

func TestStaticCursorWalksDurations(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	pl := New(tracks(10, 20, 30), Options{})

	c, err := NewStaticCursor(pl, StaticOptions{Now: clk.now})
	require.NoError(t, err)

	clk.advance(35 * time.Second)
	tr, frac, err := c.PlayCursor()
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Index)
	assert.InDelta(t, 5.0/30.0, frac, 1e-9)

	clk.advance(5 * time.Second)
	tr, frac, err = c.PlayCursor()
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Index)
	assert.InDelta(t, 10.0/30.0, frac, 1e-9)
}

func TestStaticCursorPreSeek(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	pl := New(tracks(10, 20), Options{})

	c, err := NewStaticCursor(pl, StaticOptions{Now: clk.now, PreSeek: 12 * time.Second})
	require.NoError(t, err)

	tr, frac, err := c.PlayCursor()
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Index)
	assert.InDelta(t, 0.1, frac, 1e-9)
}

func TestStaticCursorEndWithoutRepeat(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	pl := New(tracks(10, 20), Options{})

	c, err := NewStaticCursor(pl, StaticOptions{Now: clk.now})
	require.NoError(t, err)

	clk.advance(31 * time.Second)
	_, _, err = c.PlayCursor()
	assert.ErrorIs(t, err, ErrPlaylistEmpty)

	_, err = c.Advance(Position{Track: pl.Tracks[1]})
	assert.ErrorIs(t, err, ErrPlaylistEmpty)
}

func TestStaticCursorRepeatSkipsPasses(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	pl := New(tracks(10, 20), Options{})

	c, err := NewStaticCursor(pl, StaticOptions{Now: clk.now, Repeat: true})
	require.NoError(t, err)

	// Three and a half passes later.
	clk.advance(105 * time.Second)
	tr, frac, err := c.PlayCursor()
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Index)
	assert.InDelta(t, 5.0/20.0, frac, 1e-9)
	assert.Equal(t, 3, c.pass)

	clk.advance(20 * time.Second)
	tr, _, err = c.PlayCursor()
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Index)
	assert.Equal(t, 4, c.pass)
}

func TestStaticCursorAdvance(t *testing.T) {
	pl := New(tracks(10, 20, 30), Options{})
	c, err := NewStaticCursor(pl, StaticOptions{Repeat: true})
	require.NoError(t, err)

	next, err := c.Advance(Position{Track: pl.Tracks[0]})
	require.NoError(t, err)
	assert.Equal(t, 1, next.Index)

	next, err = c.Advance(Position{Track: pl.Tracks[2]})
	require.NoError(t, err)
	assert.Equal(t, 0, next.Index)

	// Advance leaves the clock alone.
	tr, _, err := c.PlayCursor()
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Index)
}

// walk returns the track indexes a listener hears from PlayCursor onwards.
func walk(t *testing.T, c Cursor, n int) ([]int, []int) {
	t.Helper()

	pos, _, err := c.PlayCursor()
	require.NoError(t, err)

	indexes := []int{pos.Index}
	passes := []int{pos.Pass}
	for len(indexes) < n {
		pos, err = c.Advance(pos)
		require.NoError(t, err)
		indexes = append(indexes, pos.Index)
		passes = append(passes, pos.Pass)
	}
	return indexes, passes
}

func TestStaticCursorAdvanceAcrossPasses(t *testing.T) {
	t.Run("queued first pass", func(t *testing.T) {
		in := tracks(10, 10, 10, 10)
		in[1].QueueIndex = 1
		c, err := NewStaticCursor(New(in, Options{}), StaticOptions{Repeat: true})
		require.NoError(t, err)

		indexes, passes := walk(t, c, 12)
		if diff := cmp.Diff([]int{2, 3, 0, 1, 0, 1, 2, 3, 0, 1, 2, 3}, indexes); diff != "" {
			t.Errorf("play order mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2}, passes); diff != "" {
			t.Errorf("passes mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("plain", func(t *testing.T) {
		c, err := NewStaticCursor(New(tracks(10, 10, 10), Options{}), StaticOptions{Repeat: true})
		require.NoError(t, err)

		indexes, _ := walk(t, c, 9)
		if diff := cmp.Diff([]int{0, 1, 2, 0, 1, 2, 0, 1, 2}, indexes); diff != "" {
			t.Errorf("play order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("shuffle", func(t *testing.T) {
		pl := New(tracks(10, 10, 10, 10, 10), Options{})
		c, err := NewStaticCursor(pl, StaticOptions{Repeat: true, Shuffle: true, Seed: 7})
		require.NoError(t, err)

		indexes, passes := walk(t, c, 20)
		for pass := 0; pass < 4; pass++ {
			want, err := pl.Order(pass, true, 7)
			require.NoError(t, err)
			got := indexes[pass*5 : pass*5+5]
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("pass %d mismatch (-want +got):\n%s", pass, diff)
			}
			for _, p := range passes[pass*5 : pass*5+5] {
				assert.Equal(t, pass, p)
			}
		}
	})

	t.Run("listeners are independent", func(t *testing.T) {
		clk := &clock{t: time.Unix(1000, 0)}
		in := tracks(10, 10, 10, 10)
		in[1].QueueIndex = 1
		c, err := NewStaticCursor(New(in, Options{}), StaticOptions{Repeat: true, Now: clk.now})
		require.NoError(t, err)

		early, _, err := c.PlayCursor()
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			early, err = c.Advance(early)
			require.NoError(t, err)
		}
		require.Equal(t, 1, early.Index)
		require.Equal(t, 0, early.Pass)

		// The shared clock moves on to pass 1 while the early listener is
		// still at the end of pass 0.
		clk.advance(45 * time.Second)
		late, _, err := c.PlayCursor()
		require.NoError(t, err)
		assert.Equal(t, 1, late.Pass)

		next, err := c.Advance(early)
		require.NoError(t, err)
		assert.Equal(t, 0, next.Index)
		assert.Equal(t, 1, next.Pass)
	})
}

func TestStaticCursorNewestPosition(t *testing.T) {
	pl := New(tracks(10, 10, 10), Options{})
	c, err := NewStaticCursor(pl, StaticOptions{Repeat: true})
	require.NoError(t, err)

	newest, err := c.Newest()
	require.NoError(t, err)
	assert.Equal(t, 2, newest.Index)
	assert.Equal(t, 2, newest.Slot)

	next, err := c.Advance(newest)
	require.NoError(t, err)
	assert.Equal(t, 0, next.Index)
	assert.Equal(t, 1, next.Pass)
}

func TestQueueOrder(t *testing.T) {
	in := tracks(10, 10, 10, 10)
	in[1].QueueIndex = 1
	pl := New(in, Options{})

	first, err := pl.Order(0, false, 0)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{2, 3, 0, 1}, first); diff != "" {
		t.Errorf("first pass (-want +got):\n%s", diff)
	}

	second, err := pl.Order(1, false, 0)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{0, 1, 2, 3}, second); diff != "" {
		t.Errorf("second pass (-want +got):\n%s", diff)
	}
}

func TestQueueOrderByPriority(t *testing.T) {
	in := tracks(10, 10, 10, 10, 10)
	in[3].QueueIndex = 1
	in[1].QueueIndex = 2
	pl := New(in, Options{})

	order, err := pl.Order(0, false, 0)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{4, 0, 2, 3, 1}, order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestDuplicateQueueIndex(t *testing.T) {
	in := tracks(10, 10, 10)
	in[0].QueueIndex = 1
	in[2].QueueIndex = 1
	pl := New(in, Options{})

	_, err := pl.Order(0, false, 0)
	assert.ErrorIs(t, err, ErrIndeterminateQueue)

	_, err = NewStaticCursor(pl, StaticOptions{})
	assert.ErrorIs(t, err, ErrIndeterminateQueue)
}

func TestShuffleIsStablePerPass(t *testing.T) {
	pl := New(tracks(1, 2, 3, 4, 5, 6, 7, 8), Options{})

	a, err := pl.Order(3, true, 42)
	require.NoError(t, err)
	b, err := pl.Order(3, true, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, a)
}

func TestNewExcludesUnplayable(t *testing.T) {
	in := tracks(10, 0, 10, 10)
	in[2].Path = ""
	in[2].URL = "http://example.com/a.mp3"
	in[3].Path = "/music/d.xyz"

	pl := New(in, Options{Supported: func(p string) bool {
		return strings.HasSuffix(p, ".mp3")
	}})

	assert.Equal(t, 1, pl.Len())
	assert.Len(t, pl.Excluded(), 3)
	assert.True(t, pl.Contains("/music/a.mp3"))
	assert.False(t, pl.Contains("/music/b.mp3"))

	for _, tr := range pl.Excluded() {
		assert.NotEmpty(t, tr.Err)
	}
}

func TestLiveCursor(t *testing.T) {
	pl := New(tracks(100, 200, 300), Options{})
	np := &NowPlaying{}
	c := NewLiveCursor(pl, np, false, 0)

	_, _, err := c.PlayCursor()
	assert.ErrorIs(t, err, ErrNotPlaying)

	np.Set(Status{Playing: true, Index: 1, Current: 50 * time.Second, Total: 200 * time.Second})
	tr, frac, err := c.PlayCursor()
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Index)
	assert.InDelta(t, 0.25, frac, 1e-9)

	// Current beyond total clamps to the end.
	np.Set(Status{Playing: true, Index: 1, Current: 250 * time.Second, Total: 200 * time.Second})
	_, frac, err = c.PlayCursor()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, frac, 1e-9)

	np.Set(Status{Playing: true, Index: 7, Current: time.Second, Total: time.Second})
	_, _, err = c.PlayCursor()
	assert.ErrorIs(t, err, ErrNotPlaying)

	np.Set(Status{Playing: true, Index: 0})
	_, _, err = c.PlayCursor()
	assert.ErrorIs(t, err, ErrNotPlaying)

	// An unknown total is not clamped up to the current position.
	np.Set(Status{Playing: true, Index: 0, Current: 5 * time.Second})
	_, _, err = c.PlayCursor()
	assert.ErrorIs(t, err, ErrNotPlaying)

	next, err := c.Advance(Position{Track: pl.Tracks[2]})
	assert.ErrorIs(t, err, ErrPlaylistEmpty)
	assert.Zero(t, next)

	c = NewLiveCursor(pl, np, true, 0)
	next, err = c.Advance(Position{Track: pl.Tracks[2]})
	require.NoError(t, err)
	assert.Equal(t, 0, next.Index)
}

const snapshotXML = `<?xml version="1.0" encoding="UTF-8"?>
<playlist>
 <item url="file:///music/one.mp3" queue_index="0">
  <Title>One</Title>
  <Artist>Band</Artist>
  <Length>3:05</Length>
  <Genre>Rock</Genre>
  <Year>1999</Year>
  <Bitrate>192 kbps</Bitrate>
 </item>
 <item url="file:///music/two.ogg">
  <Title>Two</Title>
  <Length>bogus</Length>
 </item>
</playlist>`

func TestParseSnapshot(t *testing.T) {
	got, err := ParseSnapshot(strings.NewReader(snapshotXML))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Band - One", got[0].StreamTitle())
	assert.Equal(t, 185*time.Second, got[0].Duration)
	assert.Equal(t, 192, got[0].Bitrate)
	assert.Equal(t, 0, got[0].QueueIndex)
	assert.Equal(t, "1999", got[0].Year)

	assert.Equal(t, NoQueue, got[1].QueueIndex)
	assert.NotEmpty(t, got[1].Err)

	pl := New(got, Options{})
	assert.Equal(t, "/music/one.mp3", pl.Tracks[0].Path)
	assert.Equal(t, 1, pl.Len())
}

func TestLoadM3UAndPLS(t *testing.T) {
	dir := t.TempDir()

	m3u := "#EXTM3U\n#EXTINF:120,Artist - Song\nsong.mp3\n\n#EXTINF:60,Other\n/abs/other.mp3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.m3u"), []byte(m3u), 0o644))

	pl, err := Load(filepath.Join(dir, "list.m3u"), Options{})
	require.NoError(t, err)
	require.Len(t, pl.Tracks, 2)
	assert.Equal(t, filepath.Join(dir, "song.mp3"), pl.Tracks[0].Path)
	assert.Equal(t, "Artist", pl.Tracks[0].Artist)
	assert.Equal(t, 2*time.Minute, pl.Tracks[0].Duration)
	assert.Equal(t, "/abs/other.mp3", pl.Tracks[1].Path)

	pls := "[playlist]\nFile2=b.mp3\nTitle2=B\nLength2=30\nFile1=a.mp3\nLength1=20\nNumberOfEntries=2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.pls"), []byte(pls), 0o644))

	pl, err = Load(filepath.Join(dir, "list.pls"), Options{})
	require.NoError(t, err)
	require.Len(t, pl.Tracks, 2)
	assert.Equal(t, filepath.Join(dir, "a.mp3"), pl.Tracks[0].Path)
	assert.Equal(t, "B", pl.Tracks[1].Title)
	assert.Equal(t, 30*time.Second, pl.Tracks[1].Duration)

	_, err = Load(filepath.Join(dir, "list.txt"), Options{})
	assert.Error(t, err)
}

func TestParseLength(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"0:30":    30 * time.Second,
		"3:05":    185 * time.Second,
		"1:00:01": time.Hour + time.Second,
		"42":      42 * time.Second,
	} {
		got, err := ParseLength(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "a:b", "-1:00"} {
		_, err := ParseLength(in)
		assert.Error(t, err, in)
	}
}
