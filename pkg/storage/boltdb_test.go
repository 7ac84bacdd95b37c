package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/clusterctl/pkg/clerr"
	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCluster(id, name string) *types.Cluster {
	return &types.Cluster{
		ID:     id,
		Name:   name,
		Status: types.ClusterCreated,
		Port:   9001,
	}
}

func TestCreateAndGetCluster(t *testing.T) {
	s := newTestStore(t)
	c := testCluster("c1", "shop-php_web-20260101-0101-abcd1234")

	require.NoError(t, s.CreateCluster(c))

	got, err := s.GetCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.Port, got.Port)
}

func TestGetClusterNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCluster("missing")
	assert.ErrorIs(t, err, clerr.NotFound)
}

func TestGetClusterByName(t *testing.T) {
	s := newTestStore(t)
	c := testCluster("c1", "shop-php_web-20260101-0101-abcd1234")
	require.NoError(t, s.CreateCluster(c))

	got, err := s.GetClusterByName(c.Name)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	exists, err := s.ClusterNameExists(c.Name)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.ClusterNameExists("nonexistent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateClusterRequiresExisting(t *testing.T) {
	s := newTestStore(t)
	c := testCluster("c1", "shop-1")
	err := s.UpdateCluster(c)
	assert.ErrorIs(t, err, clerr.NotFound)

	require.NoError(t, s.CreateCluster(c))
	c.Status = types.ClusterRunning
	require.NoError(t, s.UpdateCluster(c))

	got, err := s.GetCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, types.ClusterRunning, got.Status)
}

func TestDeleteClusterCascades(t *testing.T) {
	s := newTestStore(t)
	c := testCluster("c1", "shop-1")
	require.NoError(t, s.CreateCluster(c))
	require.NoError(t, s.UpsertHealthStatus(&types.HealthStatus{ClusterID: "c1", State: types.HealthHealthy}))
	require.NoError(t, s.AppendHealthMetric(&types.HealthMetric{ClusterID: "c1", Timestamp: time.Now()}))
	require.NoError(t, s.CreateBackup(&types.Backup{ID: "b1", ClusterID: "c1"}))

	require.NoError(t, s.DeleteCluster("c1"))

	_, err := s.GetCluster("c1")
	assert.ErrorIs(t, err, clerr.NotFound)

	_, err = s.GetHealthStatus("c1")
	assert.ErrorIs(t, err, clerr.NotFound)

	_, err = s.LatestHealthMetric("c1")
	assert.ErrorIs(t, err, clerr.NotFound)

	backups, err := s.ListBackupsForCluster("c1")
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestDeleteClusterNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteCluster("missing")
	assert.ErrorIs(t, err, clerr.NotFound)
}

func TestAppendHealthMetricRequiresExistingCluster(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendHealthMetric(&types.HealthMetric{ClusterID: "ghost", Timestamp: time.Now()})
	assert.ErrorIs(t, err, clerr.IntegrityViolation)
}

func TestMultipleMetricsPerClusterCoexist(t *testing.T) {
	s := newTestStore(t)
	c := testCluster("c1", "shop-1")
	require.NoError(t, s.CreateCluster(c))

	base := time.Now()
	for i := 0; i < 5; i++ {
		m := &types.HealthMetric{
			ClusterID:         "c1",
			Timestamp:         base.Add(time.Duration(i) * time.Second),
			CPUPercentOfLimit: float64(i),
		}
		require.NoError(t, s.AppendHealthMetric(m))
	}

	latest, err := s.LatestHealthMetric("c1")
	require.NoError(t, err)
	assert.Equal(t, float64(4), latest.CPUPercentOfLimit)
}

func TestListClusters(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCluster(testCluster("c1", "shop-1")))
	require.NoError(t, s.CreateCluster(testCluster("c2", "shop-2")))

	clusters, err := s.ListClusters()
	require.NoError(t, err)
	assert.Len(t, clusters, 2)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir())
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateCluster(testCluster("c1", "shop-1")))
	require.NoError(t, s.Close())

	s2, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, "shop-1", got.Name)
}
