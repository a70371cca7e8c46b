package playlist

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Position is a track together with where one listener stands in the
// rotation. Listeners keep their own Position so each walks the passes at
// its own pace.
type Position struct {
	Track
	Pass int
	// Slot is the index into the pass order. A Slot that does not hold
	// Track is looked up again by track index.
	Slot int
}

// Cursor maps the current moment onto a track and a fractional offset into
// it.
type Cursor interface {
	// PlayCursor returns the position that should be playing and how far into
	// it playback is, as a fraction in [0, 1].
	PlayCursor() (Position, float64, error)
	// Advance returns the position following cur.
	Advance(cur Position) (Position, error)
	// Newest returns the most recently added track.
	Newest() (Position, error)
}

// StaticOptions configure a StaticCursor.
type StaticOptions struct {
	Repeat  bool
	Shuffle bool
	Seed    uint64
	PreSeek time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// StaticCursor plays a playlist on a wall clock: the track playing is the one
// whose cumulative duration window contains the time elapsed since start.
type StaticCursor struct {
	pl   *Playlist
	opts StaticOptions

	mu    sync.Mutex
	start time.Time
	pass  int
	order []int
	total time.Duration
}

// NewStaticCursor starts rotation now.
func NewStaticCursor(pl *Playlist, opts StaticOptions) (*StaticCursor, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	order, err := pl.Order(0, opts.Shuffle, opts.Seed)
	if err != nil {
		return nil, err
	}

	c := &StaticCursor{
		pl:    pl,
		opts:  opts,
		start: opts.Now(),
		order: order,
	}
	c.total = c.passTotal(order)
	return c, nil
}

func (c *StaticCursor) passTotal(order []int) time.Duration {
	var total time.Duration
	for _, idx := range order {
		total += c.pl.Tracks[idx].Duration
	}
	return total
}

// PlayCursor implements Cursor.
func (c *StaticCursor) PlayCursor() (Position, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	elapsed := now.Sub(c.start) + c.opts.PreSeek
	if elapsed < 0 {
		elapsed = 0
	}

	if elapsed >= c.total {
		if !c.opts.Repeat {
			return Position{}, 0, ErrPlaylistEmpty
		}

		rem := elapsed - c.total
		c.pass++

		// Every later pass holds the same tracks, so whole passes can be
		// skipped at once.
		if c.total > 0 {
			c.pass += int(rem / c.total)
			rem %= c.total
		}

		order, err := c.pl.Order(c.pass, c.opts.Shuffle, c.opts.Seed)
		if err != nil {
			return Position{}, 0, err
		}
		c.order = order
		c.total = c.passTotal(order)
		c.start = now.Add(c.opts.PreSeek - rem)
		elapsed = rem
	}

	var acc time.Duration
	for slot, idx := range c.order {
		t := c.pl.Tracks[idx]
		if elapsed < acc+t.Duration {
			return Position{Track: t, Pass: c.pass, Slot: slot}, float64(elapsed-acc) / float64(t.Duration), nil
		}
		acc += t.Duration
	}

	return Position{}, 0, ErrPlaylistEmpty
}

// orderFor returns the play order of pass. Orders are deterministic per
// pass, so only the shared pass is kept.
func (c *StaticCursor) orderFor(pass int) ([]int, error) {
	c.mu.Lock()
	if pass == c.pass {
		order := c.order
		c.mu.Unlock()
		return order, nil
	}
	c.mu.Unlock()

	return c.pl.Order(pass, c.opts.Shuffle, c.opts.Seed)
}

// Advance implements Cursor. It walks cur's own pass and does not move the
// clock.
func (c *StaticCursor) Advance(cur Position) (Position, error) {
	order, err := c.orderFor(cur.Pass)
	if err != nil {
		return Position{}, err
	}

	slot := cur.Slot
	if slot < 0 || slot >= len(order) || order[slot] != cur.Index {
		slot = slices.Index(order, cur.Index)
		if slot < 0 {
			// No longer in rotation; carry on with the next pass.
			slot = len(order) - 1
		}
	}

	if slot+1 < len(order) {
		return Position{Track: c.pl.Tracks[order[slot+1]], Pass: cur.Pass, Slot: slot + 1}, nil
	}

	if !c.opts.Repeat {
		return Position{}, ErrPlaylistEmpty
	}
	next, err := c.orderFor(cur.Pass + 1)
	if err != nil {
		return Position{}, err
	}
	return Position{Track: c.pl.Tracks[next[0]], Pass: cur.Pass + 1}, nil
}

// Newest implements Cursor. The position is the newest track's slot in the
// shared pass.
func (c *StaticCursor) Newest() (Position, error) {
	t, err := c.pl.Last()
	if err != nil {
		return Position{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Position{Track: t, Pass: c.pass, Slot: slices.Index(c.order, t.Index)}, nil
}

// Status is what an external player reports about its playback.
type Status struct {
	Playing bool
	// Index is the playing position in the playlist.
	Index   int
	Current time.Duration
	Total   time.Duration
}

// Player reports playback status.
type Player interface {
	Status() Status
}

// NowPlaying is a Player updated from outside, for example by the admin API.
type NowPlaying struct {
	mu     sync.RWMutex
	status Status
}

// Set replaces the reported status.
func (n *NowPlaying) Set(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = s
}

// Status implements Player.
func (n *NowPlaying) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// LiveCursor follows an external player.
type LiveCursor struct {
	pl      *Playlist
	player  Player
	repeat  bool
	preSeek time.Duration
}

// NewLiveCursor returns a cursor following player over pl.
func NewLiveCursor(pl *Playlist, player Player, repeat bool, preSeek time.Duration) *LiveCursor {
	return &LiveCursor{
		pl:      pl,
		player:  player,
		repeat:  repeat,
		preSeek: preSeek,
	}
}

// PlayCursor implements Cursor. A player without a known total duration is
// not playing anything a listener can join.
func (c *LiveCursor) PlayCursor() (Position, float64, error) {
	st := c.player.Status()
	if !st.Playing || st.Total <= 0 {
		return Position{}, 0, ErrNotPlaying
	}

	t, ok := c.pl.Track(st.Index)
	if !ok || !t.Playable() {
		return Position{}, 0, ErrNotPlaying
	}

	current := st.Current + c.preSeek
	if current < 0 {
		current = 0
	}
	total := max(st.Total, current)

	return c.at(t), float64(current) / float64(total), nil
}

// Advance implements Cursor. The player owns the order, so only the track
// index matters.
func (c *LiveCursor) Advance(cur Position) (Position, error) {
	playable := c.pl.playable
	if len(playable) == 0 {
		return Position{}, ErrPlaylistEmpty
	}

	i := sort.SearchInts(playable, cur.Index+1)
	if i < len(playable) {
		return Position{Track: c.pl.Tracks[playable[i]], Pass: cur.Pass, Slot: i}, nil
	}
	if !c.repeat {
		return Position{}, ErrPlaylistEmpty
	}
	return Position{Track: c.pl.Tracks[playable[0]], Pass: cur.Pass + 1}, nil
}

// Newest implements Cursor.
func (c *LiveCursor) Newest() (Position, error) {
	t, err := c.pl.Last()
	if err != nil {
		return Position{}, err
	}
	return c.at(t), nil
}

func (c *LiveCursor) at(t Track) Position {
	return Position{Track: t, Slot: sort.SearchInts(c.pl.playable, t.Index)}
}
