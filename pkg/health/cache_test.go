package health

import (
	"testing"
	"time"

	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestStatusCacheTTLExpiry(t *testing.T) {
	c := newStatusCache(30 * time.Millisecond)
	hs := &types.HealthStatus{ClusterID: "c1", State: types.HealthHealthy}
	c.put("c1", hs)

	got, ok := c.get("c1")
	assert.True(t, ok)
	assert.Equal(t, hs, got)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.get("c1")
	assert.False(t, ok)
}

func TestStatusCacheInvalidate(t *testing.T) {
	c := newStatusCache(time.Minute)
	c.put("c1", &types.HealthStatus{ClusterID: "c1"})
	c.invalidate("c1")
	_, ok := c.get("c1")
	assert.False(t, ok)
}

func TestStatusCacheBeginUpdateSingleWriter(t *testing.T) {
	c := newStatusCache(time.Minute)
	assert.True(t, c.beginUpdate("c1"))
	assert.False(t, c.beginUpdate("c1"))
	c.endUpdate("c1")
	assert.True(t, c.beginUpdate("c1"))
}

func TestActiveClusterCacheRefreshLoadsOnMiss(t *testing.T) {
	c := newActiveClusterCache(time.Minute)
	calls := 0
	load := func() ([]*types.Cluster, error) {
		calls++
		return []*types.Cluster{{ID: "c1"}}, nil
	}

	clusters, err := c.refresh(load)
	assert.NoError(t, err)
	assert.Len(t, clusters, 1)
	assert.Equal(t, 1, calls)

	// second call within TTL should not reload
	_, err = c.refresh(load)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestActiveClusterCacheExpires(t *testing.T) {
	c := newActiveClusterCache(20 * time.Millisecond)
	calls := 0
	load := func() ([]*types.Cluster, error) {
		calls++
		return []*types.Cluster{{ID: "c1"}}, nil
	}

	_, _ = c.refresh(load)
	time.Sleep(30 * time.Millisecond)
	_, _ = c.refresh(load)
	assert.Equal(t, 2, calls)
}
