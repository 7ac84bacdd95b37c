package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, cfg.Health.CheckInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Metrics.SamplePeriod)
	assert.Equal(t, 1000, cfg.Metrics.PrimaryBufferCap)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, uint16(9000), cfg.ApplicationPortRange.Min)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
log_level: debug
health:
  max_concurrent_checks: 20
metrics:
  primary_buffer_cap: 2000
backup:
  enabled: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20, cfg.Health.MaxConcurrentChecks)
	assert.Equal(t, 2000, cfg.Metrics.PrimaryBufferCap)
	assert.True(t, cfg.Backup.Enabled)
	// Untouched fields keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Health.CheckInterval)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
