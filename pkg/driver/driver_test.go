package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPortConflict(t *testing.T) {
	cases := []string{
		"Bind for 0.0.0.0:9001 failed: port is already allocated",
		"Error starting userland proxy: listen tcp4 0.0.0.0:9001: bind: address already in use",
	}
	for _, c := range cases {
		assert.Equal(t, CategoryPortConflict, Classify(c))
	}
}

func TestClassifyNetworkError(t *testing.T) {
	assert.Equal(t, CategoryNetworkError, Classify("network shop_default not found"))
	assert.Equal(t, CategoryNetworkError, Classify("all predefined address pools have been fully subnetted"))
}

func TestClassifyImageError(t *testing.T) {
	assert.Equal(t, CategoryImageError, Classify("pull access denied, image php:8.2-fpm not found"))
}

func TestClassifyResourceError(t *testing.T) {
	assert.Equal(t, CategoryResourceError, Classify("failed to set memory limit"))
}

func TestClassifyPermissionError(t *testing.T) {
	assert.Equal(t, CategoryPermissionError, Classify("permission denied while trying to connect"))
}

func TestClassifyComposeError(t *testing.T) {
	assert.Equal(t, CategoryComposeError, Classify("yaml: line 4: did not find expected key"))
}

func TestClassifyExitCodeError(t *testing.T) {
	assert.Equal(t, CategoryExitCodeError, Classify("Process exited with code: 1"))
}

func TestClassifyExitCodeZeroIsNotAnError(t *testing.T) {
	assert.Equal(t, CategoryUnknown, Classify("Process exited with code: 0"))
}

func TestClassifyUnknown(t *testing.T) {
	assert.Equal(t, CategoryUnknown, Classify("something entirely unexpected happened"))
}

func TestParseStatsLine(t *testing.T) {
	stats, err := parseStatsLine("12.34%\t100MiB / 512MiB\t1MiB / 2MiB\t0B / 10MiB")
	assert.NoError(t, err)
	assert.InDelta(t, 12.34, stats.CPUPercentOfHost, 0.001)
	assert.Equal(t, int64(100*1024*1024), stats.MemUsedBytes)
	assert.Equal(t, int64(512*1024*1024), stats.MemLimitBytes)
	assert.Equal(t, int64(0), stats.BlkReadBytes)
}

func TestParseStatsLineZeroCPU(t *testing.T) {
	stats, err := parseStatsLine("0.00%\t0B / 512MiB\t0B / 0B\t0B / 0B")
	assert.NoError(t, err)
	assert.Equal(t, float64(0), stats.CPUPercentOfHost)
}

func TestParseStatsLineMalformed(t *testing.T) {
	_, err := parseStatsLine("not-enough-fields")
	assert.Error(t, err)
}

func TestInspectFormat(t *testing.T) {
	assert.Equal(t, "{{.State.Status}}", inspectFormat("state.status"))
	assert.Equal(t, "{{.RestartCount}}", inspectFormat("restart-count"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound("Error: No such container: shop_1"))
	assert.False(t, isNotFound("something else"))
}
