// Package health is the Health & Recovery Engine: it runs the periodic
// check cycle, reconciles observed container state against stored user
// intent, and drives bounded-retry recovery of failed clusters.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/clusterctl/pkg/clerr"
	"github.com/cuemby/clusterctl/pkg/compose"
	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/cuemby/clusterctl/pkg/metrics"
	"github.com/cuemby/clusterctl/pkg/storage"
	"github.com/cuemby/clusterctl/pkg/types"
)

// containerObservation classifies the driver's inspect result before any
// status reconciliation happens.
type containerObservation int

const (
	containerRunning containerObservation = iota
	containerStopped
	containerAbsent
)

// Starter is the subset of the lifecycle controller the recovery process
// drives to bring a cluster back up.
type Starter interface {
	Start(ctx context.Context, clusterID string) error
}

// Engine runs check cycles and recovery for every monitored cluster.
type Engine struct {
	store storage.Store
	drv   *driver.Driver
	start Starter
	cfg   config.HealthConfig

	cache       *statusCache
	activeCache *activeClusterCache
}

// New constructs an Engine.
func New(store storage.Store, drv *driver.Driver, start Starter, cfg config.HealthConfig) *Engine {
	return &Engine{
		store:       store,
		drv:         drv,
		start:       start,
		cfg:         cfg,
		cache:       newStatusCache(5 * time.Second),
		activeCache: newActiveClusterCache(10 * time.Second),
	}
}

// ActiveClusters implements metricspipeline.ActiveClusterSource: it
// returns the non-deleted cluster list, served from a 10s TTL cache so a
// check cycle, a recovery scan, and the metrics sampler running close
// together don't each pay for a full store scan.
func (e *Engine) ActiveClusters() ([]*types.Cluster, error) {
	return e.activeClusters()
}

func (e *Engine) activeClusters() ([]*types.Cluster, error) {
	return e.activeCache.refresh(func() ([]*types.Cluster, error) {
		all, err := e.store.ListClusters()
		if err != nil {
			return nil, err
		}
		active := make([]*types.Cluster, 0, len(all))
		for _, c := range all {
			if c.Status != types.ClusterDeleted {
				active = append(active, c)
			}
		}
		return active, nil
	})
}

// InitializeMonitoring creates a HealthStatus row for a newly running
// cluster, enabling monitoring with the configured defaults.
func (e *Engine) InitializeMonitoring(clusterID string) {
	hs := &types.HealthStatus{
		ClusterID:             clusterID,
		State:                 types.HealthUnknown,
		MonitoringEnabled:     true,
		MaxRecoveryAttempts:   e.cfg.MaxRecoveryAttempts,
		RetryIntervalSeconds:  e.cfg.RetryIntervalSeconds,
		CooldownPeriodSeconds: e.cfg.CooldownPeriodSeconds,
	}
	if err := e.store.UpsertHealthStatus(hs); err != nil {
		log.WithCluster("health", clusterID, "").Error().Err(err).Msg("failed to initialize health monitoring")
		return
	}
	e.cache.invalidate(clusterID)
}

// CheckCluster runs one check cycle for a single cluster: inspect,
// classify, reconcile status with user intent, update counters, persist,
// and append a metric row.
func (e *Engine) CheckCluster(ctx context.Context, cluster *types.Cluster) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthCheckDuration)

	hs, err := e.loadOrInitStatus(cluster.ID)
	if err != nil {
		return err
	}

	name := compose.Sanitize(cluster.Name)
	obs, statusString, resolvedID, failMsg := e.observe(ctx, cluster, name)

	var sample driver.ContainerStats
	if obs == containerRunning {
		stats, outcome := e.drv.Stats(ctx, name)
		if outcome.Ok {
			sample = stats
		}
	}

	state := classifyState(obs)
	metrics.HealthChecksTotal.WithLabelValues(string(state)).Inc()

	reconcileStatus(cluster, obs, resolvedID)
	if err := e.store.UpdateCluster(cluster); err != nil {
		log.WithCluster("health", cluster.ID, cluster.Name).Warn().Err(err).Msg("failed to persist reconciled cluster status")
	}

	updateCounters(hs, state, statusString, failMsg, cluster, sample)

	if err := e.store.UpsertHealthStatus(hs); err != nil {
		log.WithCluster("health", cluster.ID, cluster.Name).Warn().Err(err).Msg("failed to persist health status")
	}
	e.cache.put(cluster.ID, hs)

	metric := buildMetric(cluster, sample, statusString)
	if err := e.store.AppendHealthMetric(metric); err != nil {
		if kind, ok := clerr.KindOf(err); ok && kind == clerr.KindIntegrityViolation {
			log.WithCluster("health", cluster.ID, cluster.Name).Debug().Msg("metric skipped: cluster no longer exists")
		} else {
			log.WithCluster("health", cluster.ID, cluster.Name).Warn().Err(err).Msg("failed to append health metric")
		}
	}

	return nil
}

func (e *Engine) loadOrInitStatus(clusterID string) (*types.HealthStatus, error) {
	if hs, ok := e.cache.get(clusterID); ok {
		return hs, nil
	}
	hs, err := e.store.GetHealthStatus(clusterID)
	if err != nil {
		if kind, ok := clerr.KindOf(err); ok && kind == clerr.KindNotFound {
			hs = &types.HealthStatus{ClusterID: clusterID, State: types.HealthUnknown, MonitoringEnabled: true}
			return hs, nil
		}
		return nil, err
	}
	e.cache.put(clusterID, hs)
	return hs, nil
}

// observe inspects container status, classifying not-found/inspect-error
// as absent, any non-running string as stopped, and "running" as running.
// The fourth return value describes why the observation fell short of
// running, for HealthStatus.LastErrorMessage; it is empty when running.
func (e *Engine) observe(ctx context.Context, cluster *types.Cluster, name string) (containerObservation, string, string, string) {
	target := name
	if cluster.ContainerID != "" {
		target = cluster.ContainerID
	}

	outcome := e.drv.Inspect(ctx, target, "state.status")
	if outcome.NotFound {
		if id, ok := e.drv.ResolveID(ctx, name); ok {
			outcome = e.drv.Inspect(ctx, id, "state.status")
			if outcome.Ok {
				if outcome.Value == "running" {
					return containerRunning, outcome.Value, id, ""
				}
				return containerStopped, outcome.Value, id, fmt.Sprintf("container %s (resolved via fallback lookup)", outcome.Value)
			}
		}
		return containerAbsent, "", "", "container not found"
	}
	if !outcome.Ok {
		msg := outcome.Raw
		if msg == "" && outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		return containerAbsent, "", "", fmt.Sprintf("inspect failed: %s", msg)
	}
	if outcome.Value == "running" {
		return containerRunning, outcome.Value, cluster.ContainerID, ""
	}
	return containerStopped, outcome.Value, cluster.ContainerID, fmt.Sprintf("container %s", outcome.Value)
}

func classifyState(obs containerObservation) types.HealthState {
	switch obs {
	case containerRunning:
		return types.HealthHealthy
	default:
		return types.HealthFailed
	}
}

// reconcileStatus applies the critical status-reconciliation-with-user-intent
// rules: a STOPPED cluster is never flipped back to RUNNING by observation
// alone, and the container-id is re-resolved on any mismatch.
func reconcileStatus(cluster *types.Cluster, obs containerObservation, resolvedID string) {
	running := obs == containerRunning

	switch {
	case !running && cluster.Status != types.ClusterStopped:
		cluster.Status = types.ClusterStopped
	case running && cluster.Status == types.ClusterStopped:
		log.WithCluster("health", cluster.ID, cluster.Name).Info().Msg("container observed running but cluster is intentionally stopped, not flipping status")
	case running && (cluster.Status == types.ClusterCreated || cluster.Status == types.ClusterError):
		cluster.Status = types.ClusterRunning
	}

	if resolvedID != "" && resolvedID != cluster.ContainerID {
		cluster.ContainerID = resolvedID
	}
	cluster.UpdatedAt = time.Now()
}

func updateCounters(hs *types.HealthStatus, state types.HealthState, statusString, failMsg string, cluster *types.Cluster, sample driver.ContainerStats) {
	now := time.Now()
	hs.State = state
	hs.LastCheck = now
	hs.LastContainerStatus = statusString

	if state == types.HealthHealthy {
		hs.ConsecutiveFailures = 0
		hs.LastErrorMessage = ""
		hs.LastSuccess = now
		hs.LastCPUPercent = cpuPercentOfLimit(sample, cluster)
		hs.LastMemoryPercent = memoryPercent(sample, cluster)
	} else {
		hs.ConsecutiveFailures++
		hs.TotalFailures++
		hs.LastCPUPercent = 0
		hs.LastMemoryPercent = 0
		hs.LastErrorMessage = clerr.Truncate(failMsg, types.MaxErrorMessageBytes)
		log.RecordClusterError(hs.ClusterID, hs.LastErrorMessage)
	}
}

// cpuPercentOfLimit rescales the driver's host-relative CPU percent into
// percent-of-limit when the cluster has a sub-core CPU limit configured;
// the host-reported limit is never authoritative.
func cpuPercentOfLimit(sample driver.ContainerStats, cluster *types.Cluster) float64 {
	reported := sample.CPUPercentOfHost
	if reported == 0 {
		return 0
	}
	limit := cluster.Limits.CPUCores
	if limit > 0 && limit < 1.0 {
		pct := reported / limit
		if pct > 100 {
			return 100
		}
		return pct
	}
	return reported
}

// memoryPercent is always computed against the cluster's configured
// memory limit; the host-reported limit is ignored.
func memoryPercent(sample driver.ContainerStats, cluster *types.Cluster) float64 {
	limitBytes := int64(cluster.Limits.MemoryMiB) * 1024 * 1024
	if limitBytes <= 0 {
		return 0
	}
	return float64(sample.MemUsedBytes) / float64(limitBytes) * 100
}

func buildMetric(cluster *types.Cluster, sample driver.ContainerStats, statusString string) *types.HealthMetric {
	return &types.HealthMetric{
		ClusterID:         cluster.ID,
		Timestamp:         time.Now(),
		CPUPercentOfLimit: cpuPercentOfLimit(sample, cluster),
		MemoryUsedMiB:     uint64(sample.MemUsedBytes / (1024 * 1024)),
		MemoryLimitMiB:    cluster.Limits.MemoryMiB,
		MemoryPercent:     memoryPercent(sample, cluster),
		DiskReadBytes:     sample.BlkReadBytes,
		DiskWriteBytes:    sample.BlkWriteBytes,
		NetworkRxBytes:    sample.NetRxBytes,
		NetworkTxBytes:    sample.NetTxBytes,
		ContainerStatus:   statusString,
	}
}
