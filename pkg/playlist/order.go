package playlist

import (
	"math/rand/v2"
	"sort"
)

// Order returns the play order of a rotation pass as indexes into Tracks.
//
// The first pass honours queue priorities: unqueued tracks play in playlist
// order starting right after the first queued track, followed by the queued
// tracks by ascending queue index. Later passes use playlist order, shuffled
// per pass when shuffle is set.
func (p *Playlist) Order(pass int, shuffle bool, seed uint64) ([]int, error) {
	if len(p.playable) == 0 {
		return nil, ErrPlaylistEmpty
	}

	if pass == 0 {
		if order, ok, err := p.queueOrder(); err != nil || ok {
			return order, err
		}
	}

	order := append([]int(nil), p.playable...)
	if shuffle {
		rng := rand.New(rand.NewPCG(seed, uint64(pass)))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order, nil
}

func (p *Playlist) queueOrder() ([]int, bool, error) {
	var (
		queued []int
		rest   []int
		seen   = map[int]bool{}
	)
	for _, idx := range p.playable {
		t := p.Tracks[idx]
		if !t.Queued() {
			rest = append(rest, idx)
			continue
		}
		if seen[t.QueueIndex] {
			return nil, false, ErrIndeterminateQueue
		}
		seen[t.QueueIndex] = true
		queued = append(queued, idx)
	}
	if len(queued) == 0 {
		return nil, false, nil
	}

	sort.Slice(queued, func(i, j int) bool {
		return p.Tracks[queued[i]].QueueIndex < p.Tracks[queued[j]].QueueIndex
	})

	// Rotate so the unqueued tracks resume after the head of the queue.
	head := queued[0]
	split := sort.SearchInts(rest, head)
	order := make([]int, 0, len(p.playable))
	order = append(order, rest[split:]...)
	order = append(order, rest[:split]...)
	order = append(order, queued...)

	return order, true, nil
}
