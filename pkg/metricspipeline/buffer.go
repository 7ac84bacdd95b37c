package metricspipeline

import (
	"sync"
	"time"

	"github.com/cuemby/clusterctl/pkg/storage"
)

// deletingSet tracks clusters mid-deletion so in-flight samples are never
// persisted for them, closing the insert-after-delete foreign-key race.
type deletingSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func newDeletingSet() *deletingSet {
	return &deletingSet{ids: make(map[string]struct{})}
}

func (s *deletingSet) add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *deletingSet) remove(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *deletingSet) contains(id string) bool {
	s.mu.RLock()
	_, ok := s.ids[id]
	s.mu.RUnlock()
	return ok
}

// validIDCache is the 30s-TTL mirror of the authoritative cluster-id set,
// refreshed as a single store scan rather than per-row existence checks.
type validIDCache struct {
	mu        sync.RWMutex
	ids       map[string]struct{}
	expiresAt time.Time
	ttl       time.Duration
}

func newValidIDCache(ttl time.Duration) *validIDCache {
	return &validIDCache{ttl: ttl, ids: make(map[string]struct{})}
}

func (c *validIDCache) contains(store storage.Store, id string) bool {
	c.mu.RLock()
	stale := time.Now().After(c.expiresAt)
	_, present := c.ids[id]
	c.mu.RUnlock()
	if !stale {
		return present
	}

	c.refresh(store)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, present = c.ids[id]
	return present
}

func (c *validIDCache) refresh(store storage.Store) {
	clusters, err := store.ListClusters()
	if err != nil {
		return
	}
	ids := make(map[string]struct{}, len(clusters))
	for _, cl := range clusters {
		ids[cl.ID] = struct{}{}
	}
	c.mu.Lock()
	c.ids = ids
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()
}

// primaryBuffer holds the most recent undrained sample per cluster,
// capped at cap distinct clusters.
type primaryBuffer struct {
	mu       sync.Mutex
	cap      int
	samples  map[string]Sample
	droppedThisDrain bool
}

func newPrimaryBuffer(cap int) *primaryBuffer {
	return &primaryBuffer{cap: cap, samples: make(map[string]Sample)}
}

// put stores a sample, overwriting any previous undrained sample for the
// same cluster. Returns false if the buffer is full and this is a new
// cluster, in which case the sample is dropped.
func (b *primaryBuffer) put(s Sample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.samples[s.ClusterID]; !exists && len(b.samples) >= b.cap {
		b.droppedThisDrain = true
		return false
	}
	b.samples[s.ClusterID] = s
	return true
}

func (b *primaryBuffer) remove(clusterID string) {
	b.mu.Lock()
	delete(b.samples, clusterID)
	b.mu.Unlock()
}

// drain empties the buffer and returns everything it held.
func (b *primaryBuffer) drain() ([]Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Sample, 0, len(b.samples))
	for _, s := range b.samples {
		out = append(out, s)
	}
	b.samples = make(map[string]Sample)
	dropped := b.droppedThisDrain
	b.droppedThisDrain = false
	return out, dropped
}

// failedRetryBuffer holds rows that failed a store write due to an
// integrity violation, to be revalidated and retried on the next drain.
type failedRetryBuffer struct {
	mu      sync.Mutex
	cap     int
	entries []Sample
}

func newFailedRetryBuffer(cap int) *failedRetryBuffer {
	return &failedRetryBuffer{cap: cap}
}

func (b *failedRetryBuffer) add(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.cap {
		return
	}
	b.entries = append(b.entries, s)
}

func (b *failedRetryBuffer) remove(clusterID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.ClusterID != clusterID {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

// drain returns and clears every entry, for a fresh retry pass.
func (b *failedRetryBuffer) drain() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// lastSavedCache tracks the most recent successful persisted-write time
// per cluster, enforcing the one-write-per-minute rate.
type lastSavedCache struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func newLastSavedCache(interval time.Duration) *lastSavedCache {
	return &lastSavedCache{interval: interval, last: make(map[string]time.Time)}
}

func (c *lastSavedCache) recentlyWritten(clusterID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[clusterID]
	return ok && time.Since(t) < c.interval
}

func (c *lastSavedCache) markWritten(clusterID string) {
	c.mu.Lock()
	c.last[clusterID] = time.Now()
	c.mu.Unlock()
}

func (c *lastSavedCache) remove(clusterID string) {
	c.mu.Lock()
	delete(c.last, clusterID)
	c.mu.Unlock()
}

// lastSentCache backs the change gate: the last sample actually delivered
// downstream per cluster.
type lastSentCache struct {
	mu      sync.RWMutex
	samples map[string]Sample
}

func newLastSentCache() *lastSentCache {
	return &lastSentCache{samples: make(map[string]Sample)}
}

func (c *lastSentCache) get(clusterID string) (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.samples[clusterID]
	return s, ok
}

func (c *lastSentCache) put(s Sample) {
	c.mu.Lock()
	c.samples[s.ClusterID] = s
	c.mu.Unlock()
}

func (c *lastSentCache) remove(clusterID string) {
	c.mu.Lock()
	delete(c.samples, clusterID)
	c.mu.Unlock()
}

// snapshot returns a copy of every last-sent sample, used to build the
// system-aggregate stats broadcast.
func (c *lastSentCache) snapshot() map[string]Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Sample, len(c.samples))
	for k, v := range c.samples {
		out[k] = v
	}
	return out
}

// lastCollectedCache enforces the 200ms per-cluster sampling throttle.
type lastCollectedCache struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newLastCollectedCache() *lastCollectedCache {
	return &lastCollectedCache{last: make(map[string]time.Time)}
}

func (c *lastCollectedCache) tryMark(clusterID string, minInterval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.last[clusterID]; ok && time.Since(t) < minInterval {
		return false
	}
	c.last[clusterID] = time.Now()
	return true
}

func (c *lastCollectedCache) remove(clusterID string) {
	c.mu.Lock()
	delete(c.last, clusterID)
	c.mu.Unlock()
}
