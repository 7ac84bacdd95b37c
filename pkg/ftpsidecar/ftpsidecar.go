// Package ftpsidecar manages the FTP companion container each cluster with
// FTP credentials owns. Sidecar lifecycle is independent of the cluster's:
// an FTP server may be available while its cluster is STOPPED.
package ftpsidecar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/clusterctl/pkg/compose"
	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/cuemby/clusterctl/pkg/portalloc"
	"github.com/cuemby/clusterctl/pkg/storage"
	"github.com/cuemby/clusterctl/pkg/types"
)

// FTPImage is the sidecar container image launched for every cluster with
// FTP credentials configured.
const FTPImage = "fauria/vsftpd"

// Manager owns every cluster's FTP sidecar lifecycle and the periodic
// reconciler that keeps them running.
type Manager struct {
	drv   *driver.Driver
	store storage.Store
	cfg   config.FTPConfig

	cacheMu    sync.Mutex
	lastCheck  map[string]time.Time
}

// New constructs a Manager.
func New(drv *driver.Driver, store storage.Store, cfg config.FTPConfig) *Manager {
	return &Manager{drv: drv, store: store, cfg: cfg, lastCheck: make(map[string]time.Time)}
}

// containerName returns the sidecar's container name, ftp_{sanitized-name}.
func containerName(cluster *types.Cluster) string {
	return fmt.Sprintf("ftp_%s", compose.Sanitize(cluster.Name))
}

// CreateOrStart starts the sidecar if not already running; if a stale
// same-name container exists it is removed first.
func (m *Manager) CreateOrStart(ctx context.Context, cluster *types.Cluster) error {
	if !cluster.HasFTP() {
		return nil
	}
	name := containerName(cluster)

	if status := m.drv.Inspect(ctx, name, "state.status"); status.Ok && status.Value == "running" {
		return nil
	}

	if res := m.drv.Remove(ctx, name, true); !res.Ok && !res.NotFound {
		log.WithComponent("ftpsidecar").Warn().Str("cluster", cluster.Name).Msg("failed to remove stale ftp sidecar")
	}
	time.Sleep(m.cfg.RemoveWaitTimeout)

	windowStart, err := portalloc.FindFreePassiveWindow(cluster.FTPPort)
	if err != nil {
		return fmt.Errorf("ftpsidecar: %w", err)
	}

	outcome := m.run(ctx, cluster, name, windowStart)
	if !outcome.Ok {
		return fmt.Errorf("ftpsidecar: failed to start sidecar for %s: %s", cluster.Name, outcome.Raw)
	}

	time.Sleep(m.cfg.CreateWaitTimeout)
	return nil
}

func (m *Manager) run(ctx context.Context, cluster *types.Cluster, name string, pasvStart uint16) driver.Outcome {
	return m.drv.RunContainer(ctx, driver.ContainerSpec{
		Name:  name,
		Image: FTPImage,
		Env: map[string]string{
			"FTP_USER":     cluster.FTPUsername,
			"FTP_PASS":     cluster.FTPPassword,
			"PASV_ADDRESS": "0.0.0.0",
			"PASV_MIN_PORT": fmt.Sprintf("%d", pasvStart),
			"PASV_MAX_PORT": fmt.Sprintf("%d", pasvStart+9),
		},
		Ports: map[uint16]uint16{
			cluster.FTPPort: 21,
		},
		PortRange: [2]uint16{pasvStart, pasvStart + 9},
		Volumes: map[string]string{
			cluster.RootPath + "/src": fmt.Sprintf("/home/vsftpd/%s", cluster.FTPUsername),
		},
	})
}

// Stop stops the sidecar, idempotently.
func (m *Manager) Stop(ctx context.Context, cluster *types.Cluster) error {
	if !cluster.HasFTP() {
		return nil
	}
	name := containerName(cluster)
	if res := m.drv.Stop(ctx, name); res.Fatal {
		return fmt.Errorf("ftpsidecar: stop failed for %s: %s", cluster.Name, res.Raw)
	}
	return nil
}

// Remove removes the sidecar, idempotently.
func (m *Manager) Remove(ctx context.Context, cluster *types.Cluster) error {
	if !cluster.HasFTP() {
		return nil
	}
	name := containerName(cluster)
	if res := m.drv.Remove(ctx, name, true); res.Fatal {
		return fmt.Errorf("ftpsidecar: remove failed for %s: %s", cluster.Name, res.Raw)
	}
	return nil
}

// EnsureRunning is a no-op for clusters without FTP configuration;
// otherwise it starts the sidecar if it is not already running.
func (m *Manager) EnsureRunning(ctx context.Context, cluster *types.Cluster) error {
	if !cluster.HasFTP() {
		return nil
	}

	if m.recentlyChecked(cluster.ID) {
		return nil
	}

	name := containerName(cluster)
	status := m.drv.Inspect(ctx, name, "state.status")
	if status.Ok && status.Value == "running" {
		m.markChecked(cluster.ID)
		return nil
	}

	if err := m.CreateOrStart(ctx, cluster); err != nil {
		if isConflict(err) {
			return m.forceRecreate(ctx, cluster, name)
		}
		return err
	}
	m.markChecked(cluster.ID)
	return nil
}

func (m *Manager) forceRecreate(ctx context.Context, cluster *types.Cluster, name string) error {
	if res := m.drv.Remove(ctx, name, true); !res.Ok && !res.NotFound {
		return fmt.Errorf("ftpsidecar: forced removal failed for %s: %s", cluster.Name, res.Raw)
	}

	deadline := time.Now().Add(5 * time.Second)
	for attempt := 0; attempt < m.cfg.PortReleaseMaxAttempts && time.Now().Before(deadline); attempt++ {
		if _, err := portalloc.FindFreePassiveWindow(cluster.FTPPort); err == nil {
			break
		}
		time.Sleep(m.cfg.PortReleaseCheckInterval)
	}

	return m.CreateOrStart(ctx, cluster)
}

func isConflict(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "port is already allocated") || strings.Contains(lower, "conflict") || strings.Contains(lower, "already in use")
}

func (m *Manager) recentlyChecked(clusterID string) bool {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	last, ok := m.lastCheck[clusterID]
	return ok && time.Since(last) < m.cfg.MonitorCacheTTL
}

func (m *Manager) markChecked(clusterID string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.lastCheck[clusterID] = time.Now()
}

// Reconcile iterates every cluster with FTP configuration and calls
// EnsureRunning. Intended to be driven by a 60s ticker from the
// composition root.
func (m *Manager) Reconcile(ctx context.Context) {
	clusters, err := m.store.ListClusters()
	if err != nil {
		log.WithComponent("ftpsidecar").Error().Err(err).Msg("failed to list clusters for ftp reconciliation")
		return
	}

	for _, cluster := range clusters {
		if !cluster.HasFTP() {
			continue
		}
		if err := m.EnsureRunning(ctx, cluster); err != nil {
			log.WithComponent("ftpsidecar").Error().Err(err).Str("cluster", cluster.Name).Msg("ftp reconciliation failed")
		}
	}
}

// Run drives Reconcile on a fixed-delay ticker (next fires only after the
// previous reconciliation completes) until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		m.Reconcile(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.MonitorInterval):
		}
	}
}
