package health

import (
	"context"
	"time"

	"github.com/cuemby/clusterctl/pkg/compose"
	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/cuemby/clusterctl/pkg/metrics"
	"github.com/cuemby/clusterctl/pkg/types"
)

// RecoveryEligible reports whether a cluster's health status qualifies for
// an automatic recovery attempt.
func RecoveryEligible(cluster *types.Cluster, hs *types.HealthStatus) bool {
	if hs.State != types.HealthFailed || !hs.MonitoringEnabled {
		return false
	}
	switch cluster.Status {
	case types.ClusterStopped, types.ClusterError, types.ClusterDeleted:
		return false
	}
	if hs.RecoveryAttempts >= hs.MaxRecoveryAttempts {
		return false
	}
	cooldown := time.Duration(hs.CooldownPeriodSeconds) * time.Second
	return time.Since(hs.LastRecoveryAttempt) >= cooldown
}

// Recover runs one recovery attempt: stop, remove, prune, start via the
// lifecycle controller, re-resolve id, and run a fresh check.
func (e *Engine) Recover(ctx context.Context, cluster *types.Cluster) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RecoveryDuration)
	metrics.RecoveryAttemptsTotal.Inc()

	hs, err := e.loadOrInitStatus(cluster.ID)
	if err != nil {
		return err
	}

	hs.State = types.HealthRecovering
	hs.LastRecoveryAttempt = time.Now()
	if err := e.store.UpsertHealthStatus(hs); err != nil {
		log.WithCluster("health", cluster.ID, cluster.Name).Warn().Err(err).Msg("failed to persist recovering status")
	}
	e.cache.invalidate(cluster.ID)

	if trail := log.RecentClusterErrors(cluster.ID); len(trail) > 1 {
		log.WithCluster("health", cluster.ID, cluster.Name).Warn().Strs("recent_errors", trail).Msg("recovering a cluster with a history of repeated failures")
	}

	name := compose.Sanitize(cluster.Name)
	target := name
	if cluster.ContainerID != "" {
		target = cluster.ContainerID
	}

	if res := e.drv.Stop(ctx, target); res.Fatal {
		log.WithCluster("health", cluster.ID, cluster.Name).Warn().Msg("recovery stop failed, continuing to remove")
	}
	time.Sleep(2 * time.Second)

	if res := e.drv.Remove(ctx, target, true); res.Fatal {
		log.WithCluster("health", cluster.ID, cluster.Name).Warn().Msg("recovery remove failed, continuing to start")
	}
	if res := e.drv.PruneUnusedNetworks(ctx); !res.Ok {
		log.WithCluster("health", cluster.ID, cluster.Name).Warn().Msg("recovery network prune failed")
	}

	if err := e.start.Start(ctx, cluster.ID); err != nil {
		return e.recordRecoveryFailure(cluster, hs, err)
	}

	time.Sleep(5 * time.Second)

	refreshed, err := e.store.GetCluster(cluster.ID)
	if err != nil {
		return err
	}

	if err := e.CheckCluster(ctx, refreshed); err != nil {
		return err
	}

	latestHS, err := e.store.GetHealthStatus(cluster.ID)
	if err != nil {
		return err
	}

	if latestHS.State == types.HealthHealthy {
		latestHS.RecoveryAttempts = 0
		latestHS.TotalRecoveries++
		return e.persistRecoveryOutcome(latestHS)
	}

	return e.recordRecoveryFailure(cluster, latestHS, nil)
}

func (e *Engine) recordRecoveryFailure(cluster *types.Cluster, hs *types.HealthStatus, cause error) error {
	hs.State = types.HealthFailed
	hs.RecoveryAttempts++
	if cause != nil {
		log.WithCluster("health", cluster.ID, cluster.Name).Error().Err(cause).Msg("recovery failed")
	} else {
		log.WithCluster("health", cluster.ID, cluster.Name).Warn().Msg("recovery attempt did not restore health")
	}
	return e.persistRecoveryOutcome(hs)
}

func (e *Engine) persistRecoveryOutcome(hs *types.HealthStatus) error {
	if err := e.store.UpsertHealthStatus(hs); err != nil {
		return err
	}
	e.cache.put(hs.ClusterID, hs)
	if hs.State == types.HealthHealthy {
		metrics.RecoverySuccessTotal.Inc()
	}
	return nil
}

// ScanAndRecover scans every FAILED, eligible cluster and attempts
// recovery. Intended to be driven by a 5-minute ticker.
func (e *Engine) ScanAndRecover(ctx context.Context) {
	clusters, err := e.activeClusters()
	if err != nil {
		log.WithComponent("health").Error().Err(err).Msg("failed to list clusters for recovery scan")
		return
	}

	for _, cluster := range clusters {
		hs, err := e.store.GetHealthStatus(cluster.ID)
		if err != nil {
			continue
		}
		if !RecoveryEligible(cluster, hs) {
			continue
		}
		if err := e.Recover(ctx, cluster); err != nil {
			log.WithCluster("health", cluster.ID, cluster.Name).Error().Err(err).Msg("scheduled recovery failed")
		}
	}
}

// RunCheckLoop drives CheckCluster for every active cluster on a
// fixed-delay ticker.
func (e *Engine) RunCheckLoop(ctx context.Context) {
	for {
		clusters, err := e.activeClusters()
		if err != nil {
			log.WithComponent("health").Error().Err(err).Msg("failed to list clusters for check cycle")
		} else {
			for _, cluster := range clusters {
				if err := e.CheckCluster(ctx, cluster); err != nil {
					log.WithCluster("health", cluster.ID, cluster.Name).Error().Err(err).Msg("check cycle failed")
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.CheckInterval):
		}
	}
}

// RunRecoveryLoop drives ScanAndRecover on the configured recovery
// interval.
func (e *Engine) RunRecoveryLoop(ctx context.Context) {
	for {
		e.ScanAndRecover(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.RecoveryInterval):
		}
	}
}
