// Package metricspipeline is the high-frequency metrics pipeline: it
// samples per-cluster container stats at a fixed rate, change-gates and
// throttles delivery to a publish/subscribe bus, and batches writes to
// the persistent store at a coarse, rate-limited cadence.
package metricspipeline

import (
	"context"
	"sync"
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

// Bus is the publish side of the metrics/stats broker the pipeline
// delivers change-gated samples to.
type Bus interface {
	Publish(topic string, payload interface{})
}

// ActiveClusterSource supplies the set of clusters currently eligible for
// sampling; the pipeline samples only those whose stored status is
// RUNNING.
type ActiveClusterSource interface {
	ActiveClusters() ([]*types.Cluster, error)
}

const (
	topicMetrics = "/topic/metrics"
	topicStats   = "/topic/stats"
)

// Pipeline owns the sampling loop, the change gate, the delivery throttle
// and the coarse drain to storage.
type Pipeline struct {
	store  storage.Store
	drv    *driver.Driver
	active ActiveClusterSource
	bus    Bus
	cfg    config.MetricsConfig

	deleting    *deletingSet
	validIDs    *validIDCache
	lastSent    *lastSentCache
	lastSaved   *lastSavedCache
	lastCollect *lastCollectedCache
	primary     *primaryBuffer
	failedRetry *failedRetryBuffer

	throttleMu    sync.Mutex
	lastBroadcast time.Time
}

// New constructs a Pipeline.
func New(store storage.Store, drv *driver.Driver, active ActiveClusterSource, bus Bus, cfg config.MetricsConfig) *Pipeline {
	return &Pipeline{
		store:       store,
		drv:         drv,
		active:      active,
		bus:         bus,
		cfg:         cfg,
		deleting:    newDeletingSet(),
		validIDs:    newValidIDCache(cfg.ValidClusterCacheTTL),
		lastSent:    newLastSentCache(),
		lastSaved:   newLastSavedCache(cfg.PerClusterWriteInterval),
		lastCollect: newLastCollectedCache(),
		primary:     newPrimaryBuffer(cfg.PrimaryBufferCap),
		failedRetry: newFailedRetryBuffer(cfg.FailedRetryBufferCap),
	}
}

// MarkDeleting implements lifecycle.DeletionCoordinator: it flags a
// cluster so in-flight and buffered samples are dropped rather than
// persisted, and scrubs every cache entry for it.
func (p *Pipeline) MarkDeleting(clusterID string) {
	p.deleting.add(clusterID)
	p.primary.remove(clusterID)
	p.failedRetry.remove(clusterID)
	p.lastCollect.remove(clusterID)
	p.lastSent.remove(clusterID)
	p.lastSaved.remove(clusterID)
}

// UnmarkDeleting implements lifecycle.DeletionCoordinator: called only
// after the cascade delete has committed.
func (p *Pipeline) UnmarkDeleting(clusterID string) {
	p.deleting.remove(clusterID)
}

// Run drives the 100ms sampling loop and the 10s drain loop until ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.runSampleLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.runDrainLoop(ctx)
	}()
	wg.Wait()
}

func (p *Pipeline) runSampleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SamplePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scheduleSamples(ctx)
		}
	}
}

// scheduleSamples fans an independent goroutine out per running cluster
// that is due for a fresh sample under the per-cluster throttle.
func (p *Pipeline) scheduleSamples(ctx context.Context) {
	clusters, err := p.active.ActiveClusters()
	if err != nil {
		log.WithComponent("metricspipeline").Error().Err(err).Msg("failed to list active clusters for sampling")
		return
	}
	for _, cluster := range clusters {
		if cluster.Status != types.ClusterRunning {
			continue
		}
		if p.deleting.contains(cluster.ID) {
			continue
		}
		if !p.lastCollect.tryMark(cluster.ID, p.cfg.PerClusterMinInterval) {
			continue
		}
		go p.sampleOne(ctx, cluster)
	}
}

func (p *Pipeline) sampleOne(ctx context.Context, cluster *types.Cluster) {
	metrics.SamplesCollectedTotal.Inc()

	name := compose.Sanitize(cluster.Name)
	target := name
	if cluster.ContainerID != "" {
		target = cluster.ContainerID
	}

	statusOutcome := p.drv.Inspect(ctx, target, "state.status")
	if statusOutcome.NotFound {
		if id, ok := p.drv.ResolveID(ctx, name); ok {
			target = id
			statusOutcome = p.drv.Inspect(ctx, target, "state.status")
		}
	}
	if !statusOutcome.Ok {
		p.deliver(zeroSample(cluster.ID, ""))
		return
	}
	if statusOutcome.Value != "running" {
		p.deliver(zeroSample(cluster.ID, statusOutcome.Value))
		return
	}

	stats, outcome := p.drv.Stats(ctx, target)
	if !outcome.Ok {
		p.deliver(zeroSample(cluster.ID, statusOutcome.Value))
		return
	}

	restartCount := 0
	if out := p.drv.Inspect(ctx, target, "restart-count"); out.Ok {
		restartCount = parseIntOrZero(out.Value)
	}
	var startedAt time.Time
	if out := p.drv.Inspect(ctx, target, "state.started-at"); out.Ok {
		startedAt = parseStartedAt(out.Value)
	}
	var exitCode *int
	if out := p.drv.Inspect(ctx, target, "state.exit-code"); out.Ok {
		if v := parseIntOrZero(out.Value); v != 0 {
			exitCode = &v
		}
	}

	sample := buildSample(cluster, stats, statusOutcome.Value, restartCount, startedAt, exitCode)
	p.deliver(sample)
}

// deliver runs the change gate and, if it passes, the delivery throttle,
// then hands the sample to the bus and the primary write buffer.
func (p *Pipeline) deliver(sample Sample) {
	prev, ok := p.lastSent.get(sample.ClusterID)
	var prevPtr *Sample
	if ok {
		prevPtr = &prev
	}
	if !changed(prevPtr, sample) {
		return
	}

	p.lastSent.put(sample)
	metrics.SamplesDeliveredTotal.Inc()

	if !p.deleting.contains(sample.ClusterID) {
		p.primary.put(sample)
	}

	p.broadcast(false)
}

// broadcast enforces the 50ms global delivery throttle; force bypasses it.
func (p *Pipeline) broadcast(force bool) {
	p.throttleMu.Lock()
	if !force && time.Since(p.lastBroadcast) < p.cfg.BusMinInterval {
		p.throttleMu.Unlock()
		return
	}
	p.lastBroadcast = time.Now()
	p.throttleMu.Unlock()

	snapshot := p.lastSent.snapshot()
	p.bus.Publish(topicMetrics, snapshot)
	p.bus.Publish(topicStats, aggregateStats(snapshot))
	metrics.BusBroadcastsTotal.Inc()
}

// aggregateStats derives a system-wide summary from the last-sent cache,
// used for the coarse /topic/stats feed.
func aggregateStats(samples map[string]Sample) SystemStats {
	var s SystemStats
	s.ClusterCount = len(samples)
	for _, sample := range samples {
		s.TotalCPUPercent += sample.CPUPercentOfLimit
		s.TotalMemoryUsedMiB += sample.MemoryUsedMiB
		s.TotalNetworkRxBytes += sample.NetworkRxBytes
		s.TotalNetworkTxBytes += sample.NetworkTxBytes
		if sample.ContainerStatus == "running" {
			s.RunningCount++
		}
	}
	return s
}

// SystemStats is the /topic/stats aggregate payload.
type SystemStats struct {
	ClusterCount        int
	RunningCount        int
	TotalCPUPercent     float64
	TotalMemoryUsedMiB  uint64
	TotalNetworkRxBytes int64
	TotalNetworkTxBytes int64
}

func (p *Pipeline) runDrainLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.BatchDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain()
		}
	}
}

// drain implements the persistent write path: deleting/validity/rate
// filters, a batch write degrading to per-row on failure, and a
// failed-retry revalidation pass.
func (p *Pipeline) drain() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DrainDuration)

	samples, dropped := p.primary.drain()
	if dropped {
		metrics.BufferFullEventsTotal.Inc()
		log.WithComponent("metricspipeline").Warn().Msg("primary buffer full, new clusters dropped this drain")
	}

	retry := p.failedRetry.drain()
	samples = append(samples, retry...)

	toWrite := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if p.deleting.contains(s.ClusterID) {
			metrics.DrainRowsSkippedTotal.WithLabelValues("deleting").Inc()
			continue
		}
		if !p.validIDs.contains(p.store, s.ClusterID) {
			metrics.DrainRowsSkippedTotal.WithLabelValues("unknown_cluster").Inc()
			continue
		}
		if p.lastSaved.recentlyWritten(s.ClusterID) {
			metrics.DrainRowsSkippedTotal.WithLabelValues("rate_limited").Inc()
			continue
		}
		toWrite = append(toWrite, s)
	}

	if len(toWrite) == 0 {
		p.checkSlowDrain(timer)
		return
	}

	written, err := p.writeBatch(toWrite)
	for _, s := range toWrite[:written] {
		p.lastSaved.markWritten(s.ClusterID)
		metrics.DrainRowsWrittenTotal.Inc()
	}
	if err != nil {
		log.WithComponent("metricspipeline").Warn().Err(err).Msg("batch drain failed, degrading to per-row writes for the unwritten remainder")
		p.writePerRow(toWrite[written:])
	}

	p.checkSlowDrain(timer)
}

func (p *Pipeline) checkSlowDrain(timer *metrics.Timer) {
	if timer.Duration() > time.Second {
		log.WithComponent("metricspipeline").Warn().Dur("elapsed", timer.Duration()).Msg("metrics drain took longer than 1s")
	}
}

// writeBatch attempts to persist every sample in order; each row is its own
// store transaction, so a failure partway through still leaves earlier rows
// durably committed. It returns the count of rows written before the error,
// letting the caller retry only the unwritten remainder instead of the
// whole batch.
func (p *Pipeline) writeBatch(samples []Sample) (int, error) {
	for i, s := range samples {
		if err := p.store.AppendHealthMetric(toHealthMetric(s)); err != nil {
			return i, err
		}
	}
	return len(samples), nil
}

// writePerRow isolates the offending row: an integrity violation is
// parked in the failed-retry buffer, anything else is logged and dropped.
func (p *Pipeline) writePerRow(samples []Sample) {
	for _, s := range samples {
		err := p.store.AppendHealthMetric(toHealthMetric(s))
		if err == nil {
			p.lastSaved.markWritten(s.ClusterID)
			metrics.DrainRowsWrittenTotal.Inc()
			continue
		}
		if kind, ok := clerr.KindOf(err); ok && kind == clerr.KindIntegrityViolation {
			p.failedRetry.add(s)
			continue
		}
		log.WithComponent("metricspipeline").Error().Err(err).Str("cluster", s.ClusterID).Msg("dropping metric row after per-row write failure")
	}
}

func toHealthMetric(s Sample) *types.HealthMetric {
	return &types.HealthMetric{
		ClusterID:              s.ClusterID,
		Timestamp:              s.CollectedAt,
		CPUPercentOfLimit:      s.CPUPercentOfLimit,
		MemoryUsedMiB:          s.MemoryUsedMiB,
		MemoryLimitMiB:         s.MemoryLimitMiB,
		MemoryPercent:          s.MemoryPercent,
		DiskReadBytes:          s.DiskReadBytes,
		DiskWriteBytes:         s.DiskWriteBytes,
		NetworkRxBytes:         s.NetworkRxBytes,
		NetworkTxBytes:         s.NetworkTxBytes,
		ContainerRestartCount:  s.ContainerRestartCount,
		ContainerUptimeSeconds: s.ContainerUptimeSeconds,
		ContainerStatus:        s.ContainerStatus,
		ContainerExitCode:      s.ContainerExitCode,
	}
}
