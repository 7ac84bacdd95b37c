package health

import (
	"testing"
	"time"

	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestReconcileStatusStoppedNotFlippedByObservation(t *testing.T) {
	cluster := &types.Cluster{Status: types.ClusterStopped, ContainerID: "abc"}
	reconcileStatus(cluster, containerRunning, "abc")
	assert.Equal(t, types.ClusterStopped, cluster.Status)
}

func TestReconcileStatusNotRunningSetsStopped(t *testing.T) {
	cluster := &types.Cluster{Status: types.ClusterRunning}
	reconcileStatus(cluster, containerStopped, "")
	assert.Equal(t, types.ClusterStopped, cluster.Status)
}

func TestReconcileStatusCreatedFlipsToRunning(t *testing.T) {
	cluster := &types.Cluster{Status: types.ClusterCreated}
	reconcileStatus(cluster, containerRunning, "xyz")
	assert.Equal(t, types.ClusterRunning, cluster.Status)
	assert.Equal(t, "xyz", cluster.ContainerID)
}

func TestReconcileStatusErrorFlipsToRunning(t *testing.T) {
	cluster := &types.Cluster{Status: types.ClusterError}
	reconcileStatus(cluster, containerRunning, "xyz")
	assert.Equal(t, types.ClusterRunning, cluster.Status)
}

func TestReconcileStatusReResolvesContainerIDOnMismatch(t *testing.T) {
	cluster := &types.Cluster{Status: types.ClusterRunning, ContainerID: "old"}
	reconcileStatus(cluster, containerRunning, "new")
	assert.Equal(t, "new", cluster.ContainerID)
}

func TestClassifyState(t *testing.T) {
	assert.Equal(t, types.HealthHealthy, classifyState(containerRunning))
	assert.Equal(t, types.HealthFailed, classifyState(containerStopped))
	assert.Equal(t, types.HealthFailed, classifyState(containerAbsent))
}

func TestUpdateCountersHealthyResetsFailures(t *testing.T) {
	hs := &types.HealthStatus{ConsecutiveFailures: 3, LastErrorMessage: "boom"}
	cluster := &types.Cluster{Limits: types.ResourceLimits{CPUCores: 1, MemoryMiB: 512}}
	updateCounters(hs, types.HealthHealthy, "running", "", cluster, driver.ContainerStats{})
	assert.Equal(t, 0, hs.ConsecutiveFailures)
	assert.Empty(t, hs.LastErrorMessage)
}

func TestUpdateCountersFailedIncrementsCounters(t *testing.T) {
	hs := &types.HealthStatus{}
	cluster := &types.Cluster{Limits: types.ResourceLimits{CPUCores: 1, MemoryMiB: 512}}
	updateCounters(hs, types.HealthFailed, "exited", "container exited", cluster, driver.ContainerStats{})
	assert.Equal(t, 1, hs.ConsecutiveFailures)
	assert.Equal(t, 1, hs.TotalFailures)
	assert.Equal(t, "container exited", hs.LastErrorMessage)
}

func TestRecoveryEligibleRequiresFailedAndMonitored(t *testing.T) {
	cluster := &types.Cluster{Status: types.ClusterRunning}
	hs := &types.HealthStatus{State: types.HealthFailed, MonitoringEnabled: true, MaxRecoveryAttempts: 5}
	assert.True(t, RecoveryEligible(cluster, hs))

	hs.MonitoringEnabled = false
	assert.False(t, RecoveryEligible(cluster, hs))
}

func TestRecoveryEligibleExcludesStoppedErrorDeleted(t *testing.T) {
	hs := &types.HealthStatus{State: types.HealthFailed, MonitoringEnabled: true, MaxRecoveryAttempts: 5}
	for _, status := range []types.ClusterStatus{types.ClusterStopped, types.ClusterError, types.ClusterDeleted} {
		cluster := &types.Cluster{Status: status}
		assert.False(t, RecoveryEligible(cluster, hs))
	}
}

func TestRecoveryEligibleRespectsMaxAttempts(t *testing.T) {
	cluster := &types.Cluster{Status: types.ClusterRunning}
	hs := &types.HealthStatus{State: types.HealthFailed, MonitoringEnabled: true, MaxRecoveryAttempts: 2, RecoveryAttempts: 2}
	assert.False(t, RecoveryEligible(cluster, hs))
}

func TestRecoveryEligibleRespectsCooldown(t *testing.T) {
	cluster := &types.Cluster{Status: types.ClusterRunning}
	hs := &types.HealthStatus{
		State:                 types.HealthFailed,
		MonitoringEnabled:     true,
		MaxRecoveryAttempts:   5,
		CooldownPeriodSeconds: 300,
		LastRecoveryAttempt:   time.Now(),
	}
	assert.False(t, RecoveryEligible(cluster, hs))
}

