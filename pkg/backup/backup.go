// Package backup is the external backup collaborator: it archives a
// cluster's filesystem root into a checksummed tarball and restores from
// one. It is gated behind Config.Backup.Enabled and never sits on the
// request hot path.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/clusterctl/pkg/clerr"
	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/cuemby/clusterctl/pkg/storage"
	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/google/uuid"
)

// Restarter is the subset of the container driver a restore needs.
type Restarter interface {
	Stop(ctx context.Context, idOrName string) driver.Outcome
	Start(ctx context.Context, idOrName string) driver.Outcome
}

// CreateRequest describes one backup job.
type CreateRequest struct {
	ClusterID   string
	Type        types.BackupType
	Description string
}

// Manager runs backup and restore jobs through a bounded worker pool,
// sized by Config.Backup.MaxConcurrent.
type Manager struct {
	store storage.Store
	drv   Restarter
	cfg   config.BackupConfig

	sem chan struct{}
}

// New constructs a Manager. It is safe to construct even when backups
// are disabled; callers are expected to check Enabled before calling
// Create.
func New(store storage.Store, drv Restarter, cfg config.BackupConfig) *Manager {
	concurrency := cfg.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Manager{
		store: store,
		drv:   drv,
		cfg:   cfg,
		sem:   make(chan struct{}, concurrency),
	}
}

// Enabled reports whether the backup subsystem is turned on.
func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

// Create archives a cluster's root path into the configured backup
// directory. It blocks until a worker-pool slot is free, then runs the
// archive synchronously; callers wanting async behavior should invoke it
// from their own goroutine.
func (m *Manager) Create(ctx context.Context, cluster *types.Cluster, req CreateRequest) (*types.Backup, error) {
	if !m.cfg.Enabled {
		return nil, clerr.New(clerr.KindValidation, "backup subsystem is disabled")
	}

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	bk := &types.Backup{
		ID:          uuid.NewString(),
		ClusterID:   cluster.ID,
		Type:        req.Type,
		Status:      types.BackupInProgress,
		Description: req.Description,
		Retention:   m.cfg.CleanupInterval,
		CreatedAt:   time.Now(),
	}
	if err := m.store.CreateBackup(bk); err != nil {
		return nil, err
	}

	path, size, checksum, err := archiveCluster(cluster, req.Type, m.cfg.Directory, m.cfg.CompressionEnabled)
	if err != nil {
		bk.Status = types.BackupFailed
		_ = m.store.CreateBackup(bk)
		log.WithComponent("backup").Error().Err(err).Str("cluster", cluster.Name).Msg("backup archive failed")
		return bk, err
	}

	bk.Path = path
	bk.SizeBytes = size
	bk.SHA256 = checksum
	bk.Status = types.BackupCompleted
	bk.CompletedAt = time.Now()
	if bk.Retention > 0 {
		bk.ExpiresAt = bk.CompletedAt.Add(bk.Retention)
	}

	if err := m.store.CreateBackup(bk); err != nil {
		return nil, err
	}
	return bk, nil
}

// Restore stops the cluster's container, extracts the archive into the
// cluster's root path, and starts the container back up.
func (m *Manager) Restore(ctx context.Context, cluster *types.Cluster, backupID string) error {
	bk, err := m.store.GetBackup(backupID)
	if err != nil {
		return err
	}
	if bk.ClusterID != cluster.ID {
		return clerr.New(clerr.KindValidation, fmt.Sprintf("backup %s does not belong to cluster %s", backupID, cluster.ID))
	}
	if bk.Status != types.BackupCompleted {
		return clerr.New(clerr.KindValidation, fmt.Sprintf("backup %s is not in a restorable state: %s", backupID, bk.Status))
	}

	target := cluster.ContainerID
	if target == "" {
		target = cluster.Name
	}

	if out := m.drv.Stop(ctx, target); out.Fatal {
		return fmt.Errorf("stop before restore: %w", out.Err)
	}

	if err := extractArchive(bk.Path, cluster.RootPath); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	if out := m.drv.Start(ctx, target); out.Fatal {
		return fmt.Errorf("start after restore: %w", out.Err)
	}
	return nil
}

// ListForCluster returns every backup recorded for a cluster.
func (m *Manager) ListForCluster(clusterID string) ([]*types.Backup, error) {
	return m.store.ListBackupsForCluster(clusterID)
}

// RunCleanupLoop periodically scans for expired backups and deletes their
// archive files, driven by Config.Backup.CleanupInterval.
func (m *Manager) RunCleanupLoop(ctx context.Context) {
	if m.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpired()
		}
	}
}

func (m *Manager) cleanupExpired() {
	clusters, err := m.store.ListClusters()
	if err != nil {
		log.WithComponent("backup").Error().Err(err).Msg("failed to list clusters for backup cleanup")
		return
	}
	now := time.Now()
	for _, cluster := range clusters {
		backups, err := m.store.ListBackupsForCluster(cluster.ID)
		if err != nil {
			continue
		}
		for _, bk := range backups {
			if bk.ExpiresAt.IsZero() || now.Before(bk.ExpiresAt) {
				continue
			}
			if err := removeArchive(bk.Path); err != nil {
				log.WithComponent("backup").Warn().Err(err).Str("path", bk.Path).Msg("failed to remove expired backup archive")
			}
		}
	}
}
