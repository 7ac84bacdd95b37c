package compose

import (
	"strings"
	"testing"

	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phpWebTemplate = `version: "3.8"
services:
  web:
    image: php:8.2-fpm
    container_name: php_web
    ports:
      - "8080:80"
    volumes:
      - ./src:/var/www/html
`

func testCluster() *types.Cluster {
	return &types.Cluster{
		Name: "shop-php_web-20260101-0101-abcd1234",
		Port: 9001,
		Limits: types.ResourceLimits{
			CPUCores:  0.5,
			MemoryMiB: 512,
			DiskGiB:   5,
		},
	}
}

func TestSynthesizeRewritesPortMapping(t *testing.T) {
	out, err := Synthesize(phpWebTemplate, testCluster())
	require.NoError(t, err)
	assert.Contains(t, out, `"9001:80"`)
	assert.NotContains(t, out, `"8080:80"`)
}

func TestSynthesizeRewritesContainerName(t *testing.T) {
	out, err := Synthesize(phpWebTemplate, testCluster())
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "container_name: php_web_shop_php_web_"))
}

func TestSynthesizeInjectsLimitsAndTmpfs(t *testing.T) {
	out, err := Synthesize(phpWebTemplate, testCluster())
	require.NoError(t, err)
	assert.Contains(t, out, `mem_limit: 512m`)
	assert.Contains(t, out, `mem_reservation: 256m`)
	assert.Contains(t, out, "tmpfs:")
	assert.Contains(t, out, "restart: unless-stopped")
}

func TestSynthesizeInjectsEnvironment(t *testing.T) {
	out, err := Synthesize(phpWebTemplate, testCluster())
	require.NoError(t, err)
	assert.Contains(t, out, "CLUSTER_PORT=9001")
}

func TestSynthesizeMissingPortAnchor(t *testing.T) {
	_, err := Synthesize("container_name: php_web\n", testCluster())
	require.Error(t, err)
	var specErr *ComposeSpecError
	assert.ErrorAs(t, err, &specErr)
	assert.Equal(t, "host port mapping", specErr.Anchor)
}

func TestSynthesizeMissingNameAnchor(t *testing.T) {
	_, err := Synthesize("ports:\n  - \"8080:80\"\n", testCluster())
	require.Error(t, err)
	var specErr *ComposeSpecError
	assert.ErrorAs(t, err, &specErr)
	assert.Equal(t, "container_name", specErr.Anchor)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "shop_php_web", Sanitize("Shop-PHP.Web"))
	assert.Equal(t, "abc123", Sanitize("abc123"))
}
