package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/clusterctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketClusters     = []byte("clusters")
	bucketHealthStatus = []byte("health_status")
	bucketHealthMetrics = []byte("health_metrics")
	bucketBackups      = []byte("backups")
)

// BoltStore implements Store on top of an embedded bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "clusterctl.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketClusters, bucketHealthStatus, bucketHealthMetrics, bucketBackups}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateCluster inserts a new cluster row. Names are enforced unique by the
// caller (lifecycle controller); this layer does not re-check.
func (s *BoltStore) CreateCluster(c *types.Cluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.ID), data)
	})
}

// GetCluster looks up a cluster by id.
func (s *BoltStore) GetCluster(id string) (*types.Cluster, error) {
	var c types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		data := b.Get([]byte(id))
		if data == nil {
			return errNotFound
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClusterByName scans the clusters bucket for a matching name. Cluster
// names are globally unique, so at most one match exists.
func (s *BoltStore) GetClusterByName(name string) (*types.Cluster, error) {
	var found *types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.ForEach(func(_, v []byte) error {
			var c types.Cluster
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.Name == name {
				found = &c
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errNotFound
	}
	return found, nil
}

// ClusterNameExists reports whether a cluster with the given name exists.
func (s *BoltStore) ClusterNameExists(name string) (bool, error) {
	_, err := s.GetClusterByName(name)
	if err == errNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateCluster overwrites the stored row for c.ID. The row must already
// exist.
func (s *BoltStore) UpdateCluster(c *types.Cluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		if b.Get([]byte(c.ID)) == nil {
			return errNotFound
		}
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.ID), data)
	})
}

// DeleteCluster removes the cluster row and cascades to its health status,
// health metrics, and backup rows in the same transaction. bbolt has no
// native foreign keys, so cascade is an explicit scan-and-delete.
func (s *BoltStore) DeleteCluster(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		clusters := tx.Bucket(bucketClusters)
		if clusters.Get([]byte(id)) == nil {
			return errNotFound
		}
		if err := clusters.Delete([]byte(id)); err != nil {
			return err
		}

		health := tx.Bucket(bucketHealthStatus)
		if err := health.Delete([]byte(id)); err != nil {
			return err
		}

		metrics := tx.Bucket(bucketHealthMetrics)
		if err := deleteByClusterPrefix(metrics, id); err != nil {
			return err
		}

		backups := tx.Bucket(bucketBackups)
		return deleteByClusterField(backups, id)
	})
}

// ListClusters returns every cluster row.
func (s *BoltStore) ListClusters() ([]*types.Cluster, error) {
	var out []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.ForEach(func(_, v []byte) error {
			var c types.Cluster
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReservedPorts returns every application and FTP port currently recorded
// against a cluster row, for the port allocator to treat as occupied.
func (s *BoltStore) ReservedPorts() (map[uint16]struct{}, error) {
	reserved := make(map[uint16]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.ForEach(func(_, v []byte) error {
			var c types.Cluster
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.Port != 0 {
				reserved[c.Port] = struct{}{}
			}
			if c.FTPPort != 0 {
				reserved[c.FTPPort] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// GetHealthStatus looks up the 1:1 health status row for a cluster.
func (s *BoltStore) GetHealthStatus(clusterID string) (*types.HealthStatus, error) {
	var hs types.HealthStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealthStatus)
		data := b.Get([]byte(clusterID))
		if data == nil {
			return errNotFound
		}
		return json.Unmarshal(data, &hs)
	})
	if err != nil {
		return nil, err
	}
	return &hs, nil
}

// UpsertHealthStatus creates or overwrites the health status row for
// hs.ClusterID.
func (s *BoltStore) UpsertHealthStatus(hs *types.HealthStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealthStatus)
		data, err := json.Marshal(hs)
		if err != nil {
			return err
		}
		return b.Put([]byte(hs.ClusterID), data)
	})
}

// AppendHealthMetric inserts one metric row. cluster_id is deliberately not
// a unique key: the metrics bucket key is clusterID plus a nanosecond
// timestamp, so multiple rows per cluster coexist by construction.
func (s *BoltStore) AppendHealthMetric(m *types.HealthMetric) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		clusters := tx.Bucket(bucketClusters)
		if clusters.Get([]byte(m.ClusterID)) == nil {
			return errIntegrityViolation
		}

		b := tx.Bucket(bucketHealthMetrics)
		key := metricKey(m.ClusterID, m.Timestamp)
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// LatestHealthMetric returns the most recently appended metric row for a
// cluster, or errNotFound if none exist.
func (s *BoltStore) LatestHealthMetric(clusterID string) (*types.HealthMetric, error) {
	var latest *types.HealthMetric
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealthMetrics)
		prefix := []byte(clusterID + "\x00")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var m types.HealthMetric
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if latest == nil || m.Timestamp.After(latest.Timestamp) {
				latest = &m
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, errNotFound
	}
	return latest, nil
}

// CreateBackup inserts a new backup record.
func (s *BoltStore) CreateBackup(bk *types.Backup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		data, err := json.Marshal(bk)
		if err != nil {
			return err
		}
		return b.Put([]byte(bk.ID), data)
	})
}

// GetBackup looks up a backup by id.
func (s *BoltStore) GetBackup(id string) (*types.Backup, error) {
	var bk types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		data := b.Get([]byte(id))
		if data == nil {
			return errNotFound
		}
		return json.Unmarshal(data, &bk)
	})
	if err != nil {
		return nil, err
	}
	return &bk, nil
}

// ListBackupsForCluster returns every backup row for a cluster.
func (s *BoltStore) ListBackupsForCluster(clusterID string) ([]*types.Backup, error) {
	var out []*types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		return b.ForEach(func(_, v []byte) error {
			var bk types.Backup
			if err := json.Unmarshal(v, &bk); err != nil {
				return err
			}
			if bk.ClusterID == clusterID {
				out = append(out, &bk)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func metricKey(clusterID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s\x00%020d", clusterID, ts.UnixNano()))
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func deleteByClusterPrefix(b *bolt.Bucket, clusterID string) error {
	prefix := []byte(clusterID + "\x00")
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func deleteByClusterField(b *bolt.Bucket, clusterID string) error {
	var keys [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var bk types.Backup
		if err := json.Unmarshal(v, &bk); err != nil {
			return err
		}
		if bk.ClusterID == clusterID {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
