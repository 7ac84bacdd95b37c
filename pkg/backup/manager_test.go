package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/storage"
	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRestarter struct {
	stopCalls  []string
	startCalls []string
	stopFatal  bool
	startFatal bool
}

func (f *fakeRestarter) Stop(ctx context.Context, idOrName string) driver.Outcome {
	f.stopCalls = append(f.stopCalls, idOrName)
	if f.stopFatal {
		return driver.Outcome{Fatal: true}
	}
	return driver.Outcome{Ok: true}
}

func (f *fakeRestarter) Start(ctx context.Context, idOrName string) driver.Outcome {
	f.startCalls = append(f.startCalls, idOrName)
	if f.startFatal {
		return driver.Outcome{Fatal: true}
	}
	return driver.Outcome{Ok: true}
}

func newTestManager(t *testing.T, enabled bool) (*Manager, storage.Store, *fakeRestarter) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	restarter := &fakeRestarter{}
	cfg := config.BackupConfig{
		Enabled:       enabled,
		Directory:     t.TempDir(),
		MaxConcurrent: 2,
	}
	return New(store, restarter, cfg), store, restarter
}

func seedCluster(t *testing.T, store storage.Store) *types.Cluster {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yaml"), []byte("k: v"), 0o644))

	cluster := &types.Cluster{ID: "c1", Name: "demo", RootPath: root}
	require.NoError(t, store.CreateCluster(cluster))
	return cluster
}

func TestCreateRejectsWhenDisabled(t *testing.T) {
	mgr, store, _ := newTestManager(t, false)
	cluster := seedCluster(t, store)

	_, err := mgr.Create(context.Background(), cluster, CreateRequest{Type: types.BackupFull})
	assert.Error(t, err)
}

func TestCreatePersistsCompletedBackup(t *testing.T) {
	mgr, store, _ := newTestManager(t, true)
	cluster := seedCluster(t, store)

	bk, err := mgr.Create(context.Background(), cluster, CreateRequest{Type: types.BackupFull, Description: "nightly"})
	require.NoError(t, err)
	assert.Equal(t, types.BackupCompleted, bk.Status)
	assert.NotEmpty(t, bk.Path)
	assert.NotEmpty(t, bk.SHA256)

	fromStore, err := mgr.ListForCluster(cluster.ID)
	require.NoError(t, err)
	require.Len(t, fromStore, 1)
	assert.Equal(t, bk.ID, fromStore[0].ID)
}

func TestRestoreStopsExtractsAndStarts(t *testing.T) {
	mgr, store, restarter := newTestManager(t, true)
	cluster := seedCluster(t, store)

	bk, err := mgr.Create(context.Background(), cluster, CreateRequest{Type: types.BackupFull})
	require.NoError(t, err)

	require.NoError(t, mgr.Restore(context.Background(), cluster, bk.ID))
	assert.Len(t, restarter.stopCalls, 1)
	assert.Len(t, restarter.startCalls, 1)
}

func TestRestoreRejectsBackupFromAnotherCluster(t *testing.T) {
	mgr, store, _ := newTestManager(t, true)
	cluster := seedCluster(t, store)
	other := &types.Cluster{ID: "c2", Name: "other", RootPath: t.TempDir()}
	require.NoError(t, store.CreateCluster(other))

	bk, err := mgr.Create(context.Background(), cluster, CreateRequest{Type: types.BackupFull})
	require.NoError(t, err)

	err = mgr.Restore(context.Background(), other, bk.ID)
	assert.Error(t, err)
}

func TestRestoreRejectsIncompleteBackup(t *testing.T) {
	mgr, store, _ := newTestManager(t, true)
	cluster := seedCluster(t, store)

	bk := &types.Backup{ID: "b1", ClusterID: cluster.ID, Status: types.BackupInProgress}
	require.NoError(t, store.CreateBackup(bk))

	err := mgr.Restore(context.Background(), cluster, bk.ID)
	assert.Error(t, err)
}
