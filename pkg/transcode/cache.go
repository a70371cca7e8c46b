package transcode

import (
	"errors"
	"sync"

	"github.com/zachfi/shouter/pkg/codec"
)

type cacheEntry struct {
	enc  *Encoder
	refs int
}

// Cache shares one Encoder per source file between every reader. Encoders
// survive their last reader so a following listener reuses finished chunks;
// Prune and Close reclaim them.
type Cache struct {
	reg    *codec.Registry
	target string
	opts   Options

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCache returns an empty cache producing encoders for target.
func NewCache(reg *codec.Registry, target string, opts Options) *Cache {
	return &Cache{
		reg:     reg,
		target:  target,
		opts:    opts,
		entries: make(map[string]*cacheEntry),
	}
}

// Acquire returns the shared encoder for path, creating it on first use. The
// release func must be called exactly once when the caller is done reading;
// further calls are no-ops.
func (c *Cache) Acquire(path string) (*Encoder, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[path]
	if !ok {
		enc, err := New(c.reg, path, c.target, c.opts)
		if err != nil {
			return nil, nil, err
		}
		ent = &cacheEntry{enc: enc}
		c.entries[path] = ent
		metricEncoders.Inc()
	}
	ent.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			ent.refs--
			c.mu.Unlock()
		})
	}

	return ent.enc, release, nil
}

// Prune disposes every unreferenced encoder whose path keep rejects.
func (c *Cache) Prune(keep func(path string) bool) error {
	c.mu.Lock()
	var victims []*Encoder
	for path, ent := range c.entries {
		if ent.refs > 0 || keep(path) {
			continue
		}
		victims = append(victims, ent.enc)
		delete(c.entries, path)
		metricEncoders.Dec()
	}
	c.mu.Unlock()

	var errs []error
	for _, enc := range victims {
		if err := enc.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns how many encoders the cache holds.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close disposes every encoder. Readers must be gone.
func (c *Cache) Close() error {
	return c.Prune(func(string) bool { return false })
}
