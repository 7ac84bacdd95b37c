// Package storage is the persistent store: clusters, their health status,
// append-only health metrics, and backup records, with cascade delete on
// cluster removal.
package storage

import "github.com/cuemby/clusterctl/pkg/types"

// Store is the persistence contract every component depends on.
type Store interface {
	CreateCluster(c *types.Cluster) error
	GetCluster(id string) (*types.Cluster, error)
	GetClusterByName(name string) (*types.Cluster, error)
	UpdateCluster(c *types.Cluster) error
	DeleteCluster(id string) error
	ListClusters() ([]*types.Cluster, error)
	ClusterNameExists(name string) (bool, error)
	ReservedPorts() (map[uint16]struct{}, error)

	GetHealthStatus(clusterID string) (*types.HealthStatus, error)
	UpsertHealthStatus(hs *types.HealthStatus) error

	AppendHealthMetric(m *types.HealthMetric) error
	LatestHealthMetric(clusterID string) (*types.HealthMetric, error)

	CreateBackup(b *types.Backup) error
	GetBackup(id string) (*types.Backup, error)
	ListBackupsForCluster(clusterID string) ([]*types.Backup, error)

	Close() error
}
