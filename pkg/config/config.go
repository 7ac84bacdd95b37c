// Package config loads clusterctl's process configuration from a YAML file,
// applying the defaults named in the external-interfaces contract.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HealthConfig controls the Health & Recovery Engine.
type HealthConfig struct {
	CheckInterval        time.Duration `yaml:"check_interval"`
	CheckTimeout         time.Duration `yaml:"check_timeout"`
	MaxConcurrentChecks  int           `yaml:"max_concurrent_checks"`
	RecoveryInterval      time.Duration `yaml:"recovery_interval"`
	StatusSyncInterval    time.Duration `yaml:"status_sync_interval"`
	MaxRecoveryAttempts  int           `yaml:"max_recovery_attempts"`
	RetryIntervalSeconds int           `yaml:"retry_interval_seconds"`
	CooldownPeriodSeconds int          `yaml:"cooldown_period_seconds"`
}

// MetricsConfig controls the high-frequency metrics pipeline.
type MetricsConfig struct {
	SamplePeriod          time.Duration `yaml:"sample_period"`
	PerClusterMinInterval time.Duration `yaml:"per_cluster_min_interval"`
	BusMinInterval        time.Duration `yaml:"bus_min_interval"`
	BatchDrainInterval    time.Duration `yaml:"batch_drain_interval"`
	PerClusterWriteInterval time.Duration `yaml:"per_cluster_write_interval"`
	PrimaryBufferCap      int           `yaml:"primary_buffer_cap"`
	FailedRetryBufferCap  int           `yaml:"failed_retry_buffer_cap"`
	ValidClusterCacheTTL  time.Duration `yaml:"valid_cluster_cache_ttl"`
}

// FTPConfig controls the FTP sidecar manager.
type FTPConfig struct {
	MonitorInterval        time.Duration `yaml:"monitor_interval"`
	RemoveWaitTimeout      time.Duration `yaml:"remove_wait_timeout"`
	CreateWaitTimeout      time.Duration `yaml:"create_wait_timeout"`
	PortReleaseCheckInterval time.Duration `yaml:"port_release_check_interval"`
	PortReleaseMaxAttempts int           `yaml:"port_release_max_attempts"`
	MonitorCacheTTL        time.Duration `yaml:"monitor_cache_ttl"`
}

// BackupConfig controls the backup subsystem (gated, off the hot path).
type BackupConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Directory           string        `yaml:"directory"`
	MaxConcurrent       int           `yaml:"max_concurrent"`
	CompressionEnabled  bool          `yaml:"compression_enabled"`
	AutomaticInterval   time.Duration `yaml:"automatic_interval"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
}

// DefaultLimits holds the process-wide resource defaults applied exactly
// once, at cluster creation.
type DefaultLimits struct {
	CPUCores     float64 `yaml:"cpu_cores"`
	MemoryMiB    uint64  `yaml:"memory_mib"`
	DiskGiB      uint64  `yaml:"disk_gib"`
	NetworkMbps  uint64  `yaml:"network_mbps"`
}

// PortRange is an inclusive [Min, Max] port window drawn on by the allocator.
type PortRange struct {
	Min uint16 `yaml:"min"`
	Max uint16 `yaml:"max"`
}

// Config is the fully-resolved process configuration.
type Config struct {
	DataDir      string        `yaml:"data_dir"`
	ClustersBase string        `yaml:"clusters_base"`
	TemplatesBase string       `yaml:"templates_base"`
	ScriptsBase  string        `yaml:"scripts_base"`
	ListenAddr   string        `yaml:"listen_addr"`
	LogLevel     string        `yaml:"log_level"`
	LogJSON      bool          `yaml:"log_json"`

	ApplicationPortRange PortRange `yaml:"application_port_range"`
	FTPPortRange         PortRange `yaml:"ftp_port_range"`

	Health  HealthConfig  `yaml:"health"`
	Metrics MetricsConfig `yaml:"metrics"`
	FTP     FTPConfig     `yaml:"ftp"`
	Backup  BackupConfig  `yaml:"backup"`

	DefaultLimits DefaultLimits `yaml:"default_limits"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		DataDir:       "/var/lib/clusterctl",
		ClustersBase:  "/var/lib/clusterctl/clusters",
		TemplatesBase: "/var/lib/clusterctl/templates",
		ScriptsBase:   "/var/lib/clusterctl/scripts",
		ListenAddr:    ":9090",
		LogLevel:      "info",
		LogJSON:       false,

		ApplicationPortRange: PortRange{Min: 9000, Max: 9999},
		FTPPortRange:         PortRange{Min: 21000, Max: 21099},

		Health: HealthConfig{
			CheckInterval:         60 * time.Second,
			CheckTimeout:          10 * time.Second,
			MaxConcurrentChecks:   10,
			RecoveryInterval:      5 * time.Minute,
			StatusSyncInterval:    30 * time.Second,
			MaxRecoveryAttempts:   5,
			RetryIntervalSeconds:  30,
			CooldownPeriodSeconds: 300,
		},
		Metrics: MetricsConfig{
			SamplePeriod:            100 * time.Millisecond,
			PerClusterMinInterval:   200 * time.Millisecond,
			BusMinInterval:          50 * time.Millisecond,
			BatchDrainInterval:      10 * time.Second,
			PerClusterWriteInterval: 60 * time.Second,
			PrimaryBufferCap:        1000,
			FailedRetryBufferCap:    100,
			ValidClusterCacheTTL:    30 * time.Second,
		},
		FTP: FTPConfig{
			MonitorInterval:          60 * time.Second,
			RemoveWaitTimeout:        1 * time.Second,
			CreateWaitTimeout:        2 * time.Second,
			PortReleaseCheckInterval: 500 * time.Millisecond,
			PortReleaseMaxAttempts:   10,
			MonitorCacheTTL:          30 * time.Second,
		},
		Backup: BackupConfig{
			Enabled:            false,
			Directory:          "/var/lib/clusterctl/backups",
			MaxConcurrent:      3,
			CompressionEnabled: true,
			AutomaticInterval:  1 * time.Hour,
			CleanupInterval:    24 * time.Hour,
		},
		DefaultLimits: DefaultLimits{
			CPUCores:    1.0,
			MemoryMiB:   512,
			DiskGiB:     5,
			NetworkMbps: 100,
		},
	}
}

// Load reads a YAML file at path and merges it over Default(). A missing
// file is not an error; Default() is returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}
