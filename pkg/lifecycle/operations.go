package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/clusterctl/pkg/clerr"
	"github.com/cuemby/clusterctl/pkg/compose"
	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/cuemby/clusterctl/pkg/metrics"
	"github.com/cuemby/clusterctl/pkg/types"
)

// Start brings a cluster up via a compose-up-based operation, so that a
// removed or recreated container is rematerialized, then polls inspect up
// to 8 times at 1.5s intervals until running is observed.
func (c *Controller) Start(ctx context.Context, clusterID string) error {
	return c.locks.withLock(clusterID, func() error {
		cluster, err := c.store.GetCluster(clusterID)
		if err != nil {
			return err
		}

		timer := metrics.NewTimer()
		defer timer.ObserveDuration(metrics.ClusterStartDuration)

		outcome := c.startWithRemediation(ctx, cluster)
		if !outcome.Ok {
			return clerr.Wrap(clerr.KindRuntimeExternal, "start failed", outcome.Err)
		}

		name := compose.Sanitize(cluster.Name)
		if !c.pollUntil(ctx, name, "running", 8, 1500*time.Millisecond) {
			logs := c.drv.Logs(ctx, name, 100)
			return clerr.New(clerr.KindRuntimeExternal, fmt.Sprintf("start could not be verified as running: %s", logs.Value))
		}

		if id, ok := c.drv.ResolveID(ctx, name); ok {
			cluster.ContainerID = id
		}
		cluster.Status = types.ClusterRunning
		cluster.UpdatedAt = time.Now()
		return c.store.UpdateCluster(cluster)
	})
}

// Stop tries a direct stop of the resolved id/name, then a compose-level
// stop, and verifies via polling.
func (c *Controller) Stop(ctx context.Context, clusterID string) error {
	return c.locks.withLock(clusterID, func() error {
		cluster, err := c.store.GetCluster(clusterID)
		if err != nil {
			return err
		}

		timer := metrics.NewTimer()
		defer timer.ObserveDuration(metrics.ClusterStopDuration)

		name := compose.Sanitize(cluster.Name)
		target := name
		if cluster.ContainerID != "" {
			target = cluster.ContainerID
		}

		if res := c.drv.Stop(ctx, target); res.Fatal {
			log.WithComponent("lifecycle").Warn().Str("cluster", cluster.Name).Msg("direct stop failed, falling back to compose stop")
			if res := c.drv.ComposeStop(ctx, cluster.RootPath); !res.Ok {
				log.WithComponent("lifecycle").Warn().Str("cluster", cluster.Name).Msg("compose-level stop also failed")
			}
		}

		if !c.pollUntilAny(ctx, name, []string{"stopped", "exited", ""}, 5, time.Second) {
			cluster.Status = types.ClusterError
			cluster.UpdatedAt = time.Now()
			_ = c.store.UpdateCluster(cluster)
			return clerr.New(clerr.KindRuntimeExternal, "stop could not be verified")
		}

		cluster.Status = types.ClusterStopped
		cluster.UpdatedAt = time.Now()
		return c.store.UpdateCluster(cluster)
	})
}

// UpdateLimits mutates a cluster's resource limits, rewrites its compose
// file, and restarts it if it was running. Permission gating is enforced
// by the caller (admin-only, per spec); this method assumes authorization
// has already been checked.
func (c *Controller) UpdateLimits(ctx context.Context, clusterID string, limits types.ResourceLimits, composePath string) error {
	return c.locks.withLock(clusterID, func() error {
		cluster, err := c.store.GetCluster(clusterID)
		if err != nil {
			return err
		}

		wasRunning := cluster.Status == types.ClusterRunning
		cluster.Limits = limits

		raw, err := c.tmpl.ReadFile(composePath)
		if err != nil {
			return clerr.Wrap(clerr.KindRuntimeExternal, "failed to read compose file", err)
		}
		rewritten, err := compose.Synthesize(string(raw), cluster)
		if err != nil {
			return clerr.Wrap(clerr.KindValidation, "compose synthesis failed", err)
		}
		if err := c.tmpl.WriteFile(composePath, []byte(rewritten)); err != nil {
			return clerr.Wrap(clerr.KindRuntimeExternal, "failed to write compose file", err)
		}

		if !wasRunning {
			cluster.UpdatedAt = time.Now()
			return c.store.UpdateCluster(cluster)
		}

		name := compose.Sanitize(cluster.Name)
		if res := c.drv.Stop(ctx, name); res.Fatal {
			return c.partialUpdateFailure(cluster, "stop failed during limit update")
		}
		if !c.pollUntilAny(ctx, name, []string{"stopped", "exited", ""}, 5, time.Second) {
			return c.partialUpdateFailure(cluster, "stop could not be verified during limit update")
		}
		if res := c.drv.PruneUnusedNetworks(ctx); !res.Ok {
			log.WithComponent("lifecycle").Warn().Str("cluster", cluster.Name).Msg("network prune failed during limit update")
		}

		outcome := c.startWithRemediation(ctx, cluster)
		if !outcome.Ok {
			return c.partialUpdateFailure(cluster, "restart failed during limit update")
		}
		if !c.pollUntil(ctx, name, "running", 8, 1500*time.Millisecond) {
			return c.partialUpdateFailure(cluster, "restart could not be verified during limit update")
		}

		if id, ok := c.drv.ResolveID(ctx, name); ok {
			cluster.ContainerID = id
		}
		cluster.Status = types.ClusterRunning
		cluster.UpdatedAt = time.Now()
		return c.store.UpdateCluster(cluster)
	})
}

func (c *Controller) partialUpdateFailure(cluster *types.Cluster, message string) error {
	cluster.Status = types.ClusterError
	cluster.UpdatedAt = time.Now()
	if err := c.store.UpdateCluster(cluster); err != nil {
		log.WithComponent("lifecycle").Error().Err(err).Msg("failed to persist partial-update status")
	}
	return clerr.New(clerr.KindRuntimeExternal, message)
}

// Delete destroys a cluster: marks it deleting (observed by the metrics
// pipeline), removes the container and directory, and finally drops the
// cluster row together with its health/metric/backup rows.
func (c *Controller) Delete(ctx context.Context, clusterID string) error {
	return c.locks.withLock(clusterID, func() error {
		cluster, err := c.store.GetCluster(clusterID)
		if err != nil {
			return err
		}

		if c.deletion != nil {
			c.deletion.MarkDeleting(clusterID)
			defer c.deletion.UnmarkDeleting(clusterID)
		}

		name := compose.Sanitize(cluster.Name)
		target := name
		if cluster.ContainerID != "" {
			target = cluster.ContainerID
		}
		if res := c.drv.Remove(ctx, target, true); res.Fatal {
			log.WithComponent("lifecycle").Warn().Str("cluster", cluster.Name).Msg("failed to remove container during delete, continuing")
		}

		if err := c.tmpl.RemoveDir(cluster.RootPath); err != nil {
			log.WithComponent("lifecycle").Warn().Err(err).Str("cluster", cluster.Name).Msg("failed to remove cluster directory")
		}

		if err := c.store.DeleteCluster(clusterID); err != nil {
			return err
		}
		log.ForgetCluster(clusterID)
		return nil
	})
}

// pollUntil polls inspect(state.status) up to attempts times at interval,
// returning true once want is observed.
func (c *Controller) pollUntil(ctx context.Context, name, want string, attempts int, interval time.Duration) bool {
	return c.pollUntilAny(ctx, name, []string{want}, attempts, interval)
}

func (c *Controller) pollUntilAny(ctx context.Context, name string, wants []string, attempts int, interval time.Duration) bool {
	for i := 0; i < attempts; i++ {
		outcome := c.drv.Inspect(ctx, name, "state.status")
		if outcome.NotFound {
			if containsEmpty(wants) {
				return true
			}
		}
		if outcome.Ok {
			for _, w := range wants {
				if outcome.Value == w {
					return true
				}
			}
		}
		time.Sleep(interval)
	}
	return false
}

func containsEmpty(ss []string) bool {
	for _, s := range ss {
		if s == "" {
			return true
		}
	}
	return false
}
