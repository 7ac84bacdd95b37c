// Package types holds the data model shared across every component: the
// Cluster aggregate, its 1:1 HealthStatus, append-only HealthMetric rows,
// and the Backup record produced by the external backup collaborator.
package types

import "time"

// ClusterStatus is the lifecycle status of a Cluster.
type ClusterStatus string

const (
	ClusterCreated ClusterStatus = "CREATED"
	ClusterRunning ClusterStatus = "RUNNING"
	ClusterStopped ClusterStatus = "STOPPED"
	ClusterError   ClusterStatus = "ERROR"
	ClusterDeleted ClusterStatus = "DELETED"
)

// ResourceLimits are a cluster's caller-specified quotas. Each field is
// nullable at the API boundary; process-wide defaults are applied exactly
// once, at creation, by the lifecycle controller.
type ResourceLimits struct {
	CPUCores    float64 `json:"cpu_cores"`
	MemoryMiB   uint64  `json:"memory_mib"`
	DiskGiB     uint64  `json:"disk_gib"`
	NetworkMbps uint64  `json:"network_mbps"`
}

// Cluster is one user-visible container plus its filesystem root and
// (optionally) an FTP sidecar.
type Cluster struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	RootPath    string        `json:"root_path"`
	Port        uint16        `json:"port"`
	FTPPort     uint16        `json:"ftp_port,omitempty"`
	FTPUsername string        `json:"ftp_username,omitempty"`
	FTPPassword string        `json:"ftp_password,omitempty"`
	ContainerID string        `json:"container_id,omitempty"`
	OwnerID     string        `json:"owner_id"`
	Status      ClusterStatus `json:"status"`
	Limits      ResourceLimits `json:"limits"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// HasFTP reports whether the cluster was provisioned with an FTP sidecar.
func (c *Cluster) HasFTP() bool {
	return c.FTPPort != 0 && c.FTPUsername != ""
}

// HealthState is the classification a check cycle assigns to a cluster.
type HealthState string

const (
	HealthUnknown HealthState = "UNKNOWN"
	// HealthHealthy is assigned whenever a check observes the container
	// running.
	HealthHealthy HealthState = "HEALTHY"
	// HealthUnhealthy is reserved: no application-level probe distinguishes
	// it from HealthHealthy in this revision.
	HealthUnhealthy HealthState = "UNHEALTHY"
	HealthFailed    HealthState = "FAILED"
	HealthRecovering HealthState = "RECOVERING"
)

// HealthStatus is 1:1 with a Cluster; created lazily on first check cycle.
type HealthStatus struct {
	ClusterID            string
	State                HealthState
	LastCheck            time.Time
	LastSuccess          time.Time
	LastRecoveryAttempt  time.Time
	RecoveryAttempts     int
	TotalFailures        int
	TotalRecoveries      int
	MonitoringEnabled    bool
	MaxRecoveryAttempts  int
	RetryIntervalSeconds int
	CooldownPeriodSeconds int
	ConsecutiveFailures  int
	LastContainerStatus  string
	LastCPUPercent       float64
	LastMemoryPercent    float64
	LastErrorMessage     string
}

// MaxErrorMessageBytes bounds any error message persisted to storage.
const MaxErrorMessageBytes = 500

// HealthMetric is one append-only resource sample for a cluster.
type HealthMetric struct {
	ID                  int64
	ClusterID           string
	Timestamp           time.Time
	CPUPercentOfLimit   float64
	MemoryUsedMiB       uint64
	MemoryLimitMiB      uint64
	MemoryPercent       float64
	DiskReadBytes       int64
	DiskWriteBytes      int64
	NetworkRxBytes      int64
	NetworkTxBytes      int64
	ContainerRestartCount int
	ContainerUptimeSeconds int64
	ContainerStatus     string
	ContainerExitCode   *int
}

// BackupType classifies what a backup covers.
type BackupType string

const (
	BackupFull        BackupType = "FULL"
	BackupIncremental BackupType = "INCREMENTAL"
	BackupConfigOnly  BackupType = "CONFIG_ONLY"
	BackupDataOnly    BackupType = "DATA_ONLY"
)

// BackupStatus is the lifecycle status of a Backup record.
type BackupStatus string

const (
	BackupInProgress BackupStatus = "IN_PROGRESS"
	BackupCompleted  BackupStatus = "COMPLETED"
	BackupFailed     BackupStatus = "FAILED"
	BackupCorrupted  BackupStatus = "CORRUPTED"
)

// Backup is one archived snapshot of a cluster's filesystem root.
type Backup struct {
	ID          string
	ClusterID   string
	Type        BackupType
	Status      BackupStatus
	Path        string
	SizeBytes   int64
	SHA256      string
	Description string
	Retention   time.Duration
	CreatedAt   time.Time
	CompletedAt time.Time
	ExpiresAt   time.Time
}
