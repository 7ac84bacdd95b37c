package metricspipeline

import (
	"time"

	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/types"
)

// Sample is one point-in-time resource reading for a single cluster,
// already converted into the units the store and the bus expect.
type Sample struct {
	ClusterID              string
	HealthState            types.HealthState
	ContainerStatus        string
	CPUPercentOfLimit      float64
	MemoryUsedMiB          uint64
	MemoryLimitMiB         uint64
	MemoryPercent          float64
	DiskReadBytes          int64
	DiskWriteBytes         int64
	NetworkRxBytes         int64
	NetworkTxBytes         int64
	ContainerRestartCount  int
	ContainerUptimeSeconds int64
	ContainerExitCode      *int
	ResponseTimeMS         *float64
	CollectedAt            time.Time
}

// cpuPercentOfLimit converts the driver's host-relative CPU percent into
// percent-of-limit when a sub-core CPU limit is configured. A reported
// percent of exactly zero is never rescaled, avoiding a false positive
// from dividing zero by a small limit.
func cpuPercentOfLimit(reported float64, cpuCoresLimit float64) float64 {
	if reported == 0 {
		return 0
	}
	if cpuCoresLimit > 0 && cpuCoresLimit < 1.0 {
		pct := reported / cpuCoresLimit
		if pct > 100 {
			return 100
		}
		return pct
	}
	return reported
}

// memoryPercent prefers the cluster's configured memory limit over the
// host-reported limit; used is always in bytes.
func memoryPercent(usedBytes int64, configuredLimitMiB uint64, hostLimitBytes int64) float64 {
	limitBytes := int64(configuredLimitMiB) * 1024 * 1024
	if limitBytes <= 0 {
		limitBytes = hostLimitBytes
	}
	if limitBytes <= 0 {
		return 0
	}
	return float64(usedBytes) / float64(limitBytes) * 100
}

// buildSample converts a raw driver stats reading plus container metadata
// into the normalized Sample the rest of the pipeline operates on.
func buildSample(cluster *types.Cluster, stats driver.ContainerStats, containerStatus string, restartCount int, startedAt time.Time, exitCode *int) Sample {
	s := Sample{
		ClusterID:             cluster.ID,
		ContainerStatus:       containerStatus,
		CPUPercentOfLimit:     cpuPercentOfLimit(stats.CPUPercentOfHost, cluster.Limits.CPUCores),
		MemoryUsedMiB:         uint64(stats.MemUsedBytes / (1024 * 1024)),
		MemoryLimitMiB:        cluster.Limits.MemoryMiB,
		MemoryPercent:         memoryPercent(stats.MemUsedBytes, cluster.Limits.MemoryMiB, stats.MemLimitBytes),
		DiskReadBytes:         stats.BlkReadBytes,
		DiskWriteBytes:        stats.BlkWriteBytes,
		NetworkRxBytes:        stats.NetRxBytes,
		NetworkTxBytes:        stats.NetTxBytes,
		ContainerRestartCount: restartCount,
		ContainerExitCode:     exitCode,
		CollectedAt:           time.Now(),
	}
	if !startedAt.IsZero() {
		s.ContainerUptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return s
}

// zeroSample reports an absent/stopped container: zero-valued metrics with
// the observed status carried through for display.
func zeroSample(clusterID, containerStatus string) Sample {
	return Sample{
		ClusterID:       clusterID,
		ContainerStatus: containerStatus,
		CollectedAt:     time.Now(),
	}
}

// changed applies the change-gate thresholds between a previous and a
// candidate sample. A nil previous always passes (first observation).
func changed(prev *Sample, next Sample) bool {
	if prev == nil {
		return true
	}
	if prev.HealthState != next.HealthState || prev.ContainerStatus != next.ContainerStatus {
		return true
	}
	if absFloat(prev.CPUPercentOfLimit-next.CPUPercentOfLimit) >= 0.1 {
		return true
	}
	if absFloat(prev.MemoryPercent-next.MemoryPercent) >= 0.1 {
		return true
	}
	prevDisk := prev.DiskReadBytes + prev.DiskWriteBytes
	nextDisk := next.DiskReadBytes + next.DiskWriteBytes
	if absInt64(prevDisk-nextDisk) >= 1024 {
		return true
	}
	if prev.ResponseTimeMS != nil && next.ResponseTimeMS != nil {
		if absFloat(*prev.ResponseTimeMS-*next.ResponseTimeMS) >= 10 {
			return true
		}
	}
	prevIO := prev.NetworkRxBytes + prev.NetworkTxBytes
	nextIO := next.NetworkRxBytes + next.NetworkTxBytes
	if absInt64(prevIO-nextIO) >= 1024 {
		return true
	}
	if absInt64(prev.ContainerUptimeSeconds-next.ContainerUptimeSeconds) >= 1 {
		return true
	}
	return false
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
