package engine

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
)

// NoCache as a freshness forces a live read and evicts the device's cached
// snapshots afterwards, so the next read is live too.
const NoCache time.Duration = -1

type cacheKey struct {
	id    string
	width time.Duration
}

type cacheEntry struct {
	bucket int64
	snap   *device.Snapshot
}

// stateCache memoizes snapshots per device and bucket width. An entry is only
// valid inside the bucket it was fetched in.
//
// Each device carries a generation that invalidate bumps. A fetch started
// under an older generation neither stores its result nor shares its call
// with reads started after the invalidation.
type stateCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	gens    map[string]uint64
	flight  singleflight.Group
}

func newStateCache() *stateCache {
	return &stateCache{
		entries: make(map[cacheKey]cacheEntry),
		gens:    make(map[string]uint64),
	}
}

func bucketOf(now time.Time, width time.Duration) int64 {
	return now.UnixNano() / int64(width)
}

func (c *stateCache) get(id string, width time.Duration, bucket int64) (*device.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey{id, width}]
	if !ok || e.bucket != bucket {
		return nil, false
	}
	return e.snap, true
}

func (c *stateCache) generation(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id]
}

// put stores snap unless the device was invalidated since gen was taken.
func (c *stateCache) put(id string, width time.Duration, bucket int64, gen uint64, snap *device.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[id] != gen {
		return false
	}
	c.entries[cacheKey{id, width}] = cacheEntry{bucket: bucket, snap: snap}
	return true
}

// invalidate drops every cached snapshot of the device and starts a new
// generation.
func (c *stateCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[id]++
	for k := range c.entries {
		if k.id == id {
			delete(c.entries, k)
		}
	}
}

func flightKey(id string, width time.Duration, bucket int64, gen uint64) string {
	return fmt.Sprintf("%s|%d|%d|%d", id, width, bucket, gen)
}
