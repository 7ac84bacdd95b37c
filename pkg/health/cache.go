package health

import (
	"sync"
	"time"

	"github.com/cuemby/clusterctl/pkg/types"
)

// statusCache is a process-level cache of HealthStatus rows with a fixed
// TTL, guarded by a one-writer-multi-reader pattern: a stale cache is
// preferred over a stampede of concurrent reloads.
type statusCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	updatingMu sync.Mutex
	updating   map[string]bool
}

type cacheEntry struct {
	status    *types.HealthStatus
	expiresAt time.Time
}

func newStatusCache(ttl time.Duration) *statusCache {
	return &statusCache{
		ttl:      ttl,
		entries:  make(map[string]cacheEntry),
		updating: make(map[string]bool),
	}
}

func (c *statusCache) get(clusterID string) (*types.HealthStatus, bool) {
	c.mu.RLock()
	entry, ok := c.entries[clusterID]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.status, true
}

func (c *statusCache) put(clusterID string, hs *types.HealthStatus) {
	c.mu.Lock()
	c.entries[clusterID] = cacheEntry{status: hs, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *statusCache) invalidate(clusterID string) {
	c.mu.Lock()
	delete(c.entries, clusterID)
	c.mu.Unlock()
}

// beginUpdate returns true if the caller won the right to refresh
// clusterID's entry (double-checked: callers should re-check get() after a
// failed beginUpdate, since another goroutine is already refreshing it).
func (c *statusCache) beginUpdate(clusterID string) bool {
	c.updatingMu.Lock()
	defer c.updatingMu.Unlock()
	if c.updating[clusterID] {
		return false
	}
	c.updating[clusterID] = true
	return true
}

func (c *statusCache) endUpdate(clusterID string) {
	c.updatingMu.Lock()
	delete(c.updating, clusterID)
	c.updatingMu.Unlock()
}

// activeClusterCache mirrors the "active clusters list" cache: a 10s TTL
// list refreshed as a single join-fetch to avoid N+1 lookups of owner data.
type activeClusterCache struct {
	ttl time.Duration

	mu        sync.RWMutex
	clusters  []*types.Cluster
	expiresAt time.Time

	updatingMu sync.Mutex
	isUpdating bool
}

func newActiveClusterCache(ttl time.Duration) *activeClusterCache {
	return &activeClusterCache{ttl: ttl}
}

func (c *activeClusterCache) get() ([]*types.Cluster, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.clusters == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.clusters, true
}

func (c *activeClusterCache) refresh(load func() ([]*types.Cluster, error)) ([]*types.Cluster, error) {
	if clusters, ok := c.get(); ok {
		return clusters, nil
	}

	c.updatingMu.Lock()
	if c.isUpdating {
		c.updatingMu.Unlock()
		if clusters, ok := c.get(); ok {
			return clusters, nil
		}
		return load()
	}
	c.isUpdating = true
	c.updatingMu.Unlock()

	defer func() {
		c.updatingMu.Lock()
		c.isUpdating = false
		c.updatingMu.Unlock()
	}()

	if clusters, ok := c.get(); ok {
		return clusters, nil
	}

	clusters, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.clusters = clusters
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()

	return clusters, nil
}
