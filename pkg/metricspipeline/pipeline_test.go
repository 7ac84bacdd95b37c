package metricspipeline

import (
	"testing"
	"time"

	"github.com/cuemby/clusterctl/pkg/clerr"
	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/cuemby/clusterctl/pkg/storage"
	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	published []publishedMessage
}

type publishedMessage struct {
	topic   string
	payload interface{}
}

func (b *recordingBus) Publish(topic string, payload interface{}) {
	b.published = append(b.published, publishedMessage{topic: topic, payload: payload})
}

type fakeActiveSource struct {
	clusters []*types.Cluster
}

func (f *fakeActiveSource) ActiveClusters() ([]*types.Cluster, error) {
	return f.clusters, nil
}

type fakePipelineStore struct {
	fakeBufferStore
	appended    []*types.HealthMetric
	failOnce    map[string]bool
	integrityOn map[string]bool
}

func (f *fakePipelineStore) AppendHealthMetric(m *types.HealthMetric) error {
	if f.integrityOn != nil && f.integrityOn[m.ClusterID] {
		return clerr.IntegrityViolation
	}
	if f.failOnce != nil && f.failOnce[m.ClusterID] {
		delete(f.failOnce, m.ClusterID)
		return assert.AnError
	}
	f.appended = append(f.appended, m)
	return nil
}

func newTestPipeline(store storage.Store, bus Bus) *Pipeline {
	cfg := config.MetricsConfig{
		SamplePeriod:            100 * time.Millisecond,
		PerClusterMinInterval:   200 * time.Millisecond,
		BusMinInterval:          50 * time.Millisecond,
		BatchDrainInterval:      10 * time.Second,
		PerClusterWriteInterval: 60 * time.Second,
		PrimaryBufferCap:        1000,
		FailedRetryBufferCap:    100,
		ValidClusterCacheTTL:    30 * time.Second,
	}
	return New(store, nil, &fakeActiveSource{}, bus, cfg)
}

func TestDeliverSkipsBufferingForDeletingCluster(t *testing.T) {
	store := &fakePipelineStore{fakeBufferStore: fakeBufferStore{clusters: []*types.Cluster{{ID: "c1"}}}}
	bus := &recordingBus{}
	p := newTestPipeline(store, bus)

	p.MarkDeleting("c1")
	p.deliver(Sample{ClusterID: "c1", CPUPercentOfLimit: 10})

	samples, _ := p.primary.drain()
	assert.Empty(t, samples)
}

func TestDeliverBuffersAndBroadcasts(t *testing.T) {
	store := &fakePipelineStore{fakeBufferStore: fakeBufferStore{clusters: []*types.Cluster{{ID: "c1"}}}}
	bus := &recordingBus{}
	p := newTestPipeline(store, bus)

	p.deliver(Sample{ClusterID: "c1", ContainerStatus: "running", CPUPercentOfLimit: 10})

	samples, _ := p.primary.drain()
	require.Len(t, samples, 1)
	assert.Equal(t, "c1", samples[0].ClusterID)
	assert.NotEmpty(t, bus.published)
}

func TestBroadcastThrottleDropsSecondCallWithinWindow(t *testing.T) {
	store := &fakePipelineStore{fakeBufferStore: fakeBufferStore{clusters: []*types.Cluster{{ID: "c1"}}}}
	bus := &recordingBus{}
	p := newTestPipeline(store, bus)

	p.broadcast(false)
	countAfterFirst := len(bus.published)
	p.broadcast(false)
	assert.Equal(t, countAfterFirst, len(bus.published))

	p.broadcast(true)
	assert.Greater(t, len(bus.published), countAfterFirst)
}

func TestDrainSkipsDeletingAndUnknownClusters(t *testing.T) {
	store := &fakePipelineStore{fakeBufferStore: fakeBufferStore{clusters: []*types.Cluster{{ID: "c1"}}}}
	bus := &recordingBus{}
	p := newTestPipeline(store, bus)

	p.deleting.add("deleting-cluster")
	p.primary.put(Sample{ClusterID: "deleting-cluster"})
	p.primary.put(Sample{ClusterID: "unknown-cluster"})
	p.primary.put(Sample{ClusterID: "c1"})

	p.drain()

	require.Len(t, store.appended, 1)
	assert.Equal(t, "c1", store.appended[0].ClusterID)
}

func TestDrainRespectsPerClusterWriteRate(t *testing.T) {
	store := &fakePipelineStore{fakeBufferStore: fakeBufferStore{clusters: []*types.Cluster{{ID: "c1"}}}}
	bus := &recordingBus{}
	p := newTestPipeline(store, bus)

	p.lastSaved.markWritten("c1")
	p.primary.put(Sample{ClusterID: "c1"})

	p.drain()

	assert.Empty(t, store.appended)
}

func TestDrainMovesIntegrityFailureToFailedRetryBuffer(t *testing.T) {
	store := &fakePipelineStore{
		fakeBufferStore: fakeBufferStore{clusters: []*types.Cluster{{ID: "c1"}}},
		integrityOn:     map[string]bool{"c1": true},
	}
	bus := &recordingBus{}
	p := newTestPipeline(store, bus)

	p.primary.put(Sample{ClusterID: "c1"})
	p.drain()

	entries := p.failedRetry.drain()
	require.Len(t, entries, 1)
	assert.Equal(t, "c1", entries[0].ClusterID)
}

func TestDrainRetriesOnlyUnwrittenRemainderAfterPartialBatchFailure(t *testing.T) {
	store := &fakePipelineStore{
		fakeBufferStore: fakeBufferStore{clusters: []*types.Cluster{{ID: "c1"}, {ID: "c2"}}},
		failOnce:        map[string]bool{"c2": true},
	}
	bus := &recordingBus{}
	p := newTestPipeline(store, bus)

	p.primary.put(Sample{ClusterID: "c1"})
	p.primary.put(Sample{ClusterID: "c2"})
	p.drain()

	require.Len(t, store.appended, 2)
	var c1Count int
	for _, m := range store.appended {
		if m.ClusterID == "c1" {
			c1Count++
		}
	}
	assert.Equal(t, 1, c1Count, "c1 was already durably written by writeBatch and must not be re-appended by writePerRow")
}

func TestMarkDeletingScrubsEveryCache(t *testing.T) {
	store := &fakePipelineStore{fakeBufferStore: fakeBufferStore{clusters: []*types.Cluster{{ID: "c1"}}}}
	bus := &recordingBus{}
	p := newTestPipeline(store, bus)

	p.lastCollect.tryMark("c1", time.Minute)
	p.lastSent.put(Sample{ClusterID: "c1"})
	p.lastSaved.markWritten("c1")
	p.primary.put(Sample{ClusterID: "c1"})

	p.MarkDeleting("c1")

	assert.True(t, p.deleting.contains("c1"))
	_, sentOK := p.lastSent.get("c1")
	assert.False(t, sentOK)
	assert.False(t, p.lastSaved.recentlyWritten("c1"))
	samples, _ := p.primary.drain()
	assert.Empty(t, samples)

	p.UnmarkDeleting("c1")
	assert.False(t, p.deleting.contains("c1"))
}
