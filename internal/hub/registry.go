package hub

import (
	"errors"
	"sync"
)

// Registry shards coordination per tile key: each key gets its own actor,
// created on first touch and released again when the tile goes quiet.
// Horizontal scaling is per-key sharding, nothing is shared across tiles.
type Registry struct {
	mu    sync.Mutex
	tiles map[string]*Coordinator
	store Store
	opts  Options
}

// NewRegistry creates an empty registry
func NewRegistry(store Store, opts Options) *Registry {
	return &Registry{
		tiles: make(map[string]*Coordinator),
		store: store,
		opts:  opts,
	}
}

// get returns the live coordinator for a key, creating one when absent
func (r *Registry) get(key string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.tiles[key]; ok {
		return c
	}
	c := newCoordinator(key, r.store, r.opts, r.release)
	r.tiles[key] = c
	return c
}

// release drops a stopped coordinator; called from the actor itself
func (r *Registry) release(key string) {
	r.mu.Lock()
	delete(r.tiles, key)
	r.mu.Unlock()
}

// Join subscribes to a tile, transparently recreating the actor when it
// raced with an idle self-stop.
func (r *Registry) Join(key string, sub *Subscriber) (*Coordinator, error) {
	for {
		c := r.get(key)
		err := c.Join(sub)
		if errors.Is(err, ErrStopped) {
			// The actor stopped between lookup and join; release it
			// explicitly (its own callback may still be in flight)
			// and retry on a fresh one.
			r.mu.Lock()
			if r.tiles[key] == c {
				delete(r.tiles, key)
			}
			r.mu.Unlock()
			continue
		}
		if err != nil {
			return nil, err
		}
		sub.coord = c
		return c, nil
	}
}

// TileCount reports the number of live tile actors
func (r *Registry) TileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tiles)
}

// Shutdown stops every actor, flushing their pending batches
func (r *Registry) Shutdown() {
	r.mu.Lock()
	coords := make([]*Coordinator, 0, len(r.tiles))
	for _, c := range r.tiles {
		coords = append(coords, c)
	}
	r.mu.Unlock()

	for _, c := range coords {
		c.Stop()
	}
}
