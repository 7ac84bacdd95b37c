// Package compose rewrites a cluster's compose file in place. It is a pure
// textual transform with no YAML parsing: the synthesizer relies only on
// the two anchors documented in the external interfaces — a host port
// mapping line and a container_name line — and never validates structure
// beyond matching those patterns.
package compose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuemby/clusterctl/pkg/sizeparse"
	"github.com/cuemby/clusterctl/pkg/types"
)

// ComposeSpecError is returned when a required template anchor is absent.
type ComposeSpecError struct {
	Anchor string
}

func (e *ComposeSpecError) Error() string {
	return fmt.Sprintf("compose: required anchor %q not found in template", e.Anchor)
}

var (
	portMappingRe   = regexp.MustCompile(`(?m)^(\s*-\s*")?(\d+):(\d+)("\s*)?$`)
	containerNameRe = regexp.MustCompile(`(?m)^(\s*container_name:\s*)(\S+)\s*$`)
	sanitizeRe      = regexp.MustCompile(`[^a-z0-9_]+`)
)

// Sanitize lowercases name and collapses every run of non [a-z0-9_]
// characters to a single underscore, matching the naming contract used by
// both the container name and the FTP sidecar name.
func Sanitize(name string) string {
	lower := strings.ToLower(name)
	sanitized := sanitizeRe.ReplaceAllString(lower, "_")
	return strings.Trim(sanitized, "_")
}

// Synthesize rewrites compose text for cluster c and returns the mutated
// text. It never touches disk itself; callers read/write via
// pkg/template.
func Synthesize(text string, c *types.Cluster) (string, error) {
	if !portMappingRe.MatchString(text) {
		return "", &ComposeSpecError{Anchor: "host port mapping"}
	}
	if !containerNameRe.MatchString(text) {
		return "", &ComposeSpecError{Anchor: "container_name"}
	}

	out := text
	out = rewritePortMapping(out, c.Port)

	var defaultName string
	containerNameRe.FindStringSubmatchIndex(out)
	if m := containerNameRe.FindStringSubmatch(out); m != nil {
		defaultName = m[2]
	}
	newName := fmt.Sprintf("%s_%s", defaultName, Sanitize(c.Name))
	out = rewriteContainerName(out, newName)

	out = injectResourceLimits(out, c)
	out = injectTmpfs(out, c.Limits.DiskGiB)
	out = injectEnvironment(out, c)
	out = injectRestartPolicy(out)

	return out, nil
}

func rewritePortMapping(text string, port uint16) string {
	return portMappingRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := portMappingRe.FindStringSubmatch(match)
		prefix := sub[1]
		internal := sub[3]
		suffix := sub[4]
		return fmt.Sprintf("%s%d:%s%s", prefix, port, internal, suffix)
	})
}

func rewriteContainerName(text, newName string) string {
	return containerNameRe.ReplaceAllString(text, "${1}"+newName)
}

func injectResourceLimits(text string, c *types.Cluster) string {
	limitMiB := c.Limits.MemoryMiB
	reservationMiB := limitMiB / 2

	lines := []string{
		fmt.Sprintf("    cpus: \"%s\"", formatCPU(c.Limits.CPUCores)),
		fmt.Sprintf("    mem_limit: %s", sizeparse.FormatMemoryMiB(limitMiB)),
		fmt.Sprintf("    mem_reservation: %s", sizeparse.FormatMemoryMiB(reservationMiB)),
		"    cap_add:",
		"      - NET_ADMIN",
	}
	return text + "\n" + strings.Join(lines, "\n") + "\n"
}

func injectTmpfs(text string, diskGiB uint64) string {
	sizeBytes := diskGiB * 1024 * 1024 * 1024
	return text + fmt.Sprintf("    tmpfs:\n      - /tmp:size=%d\n", sizeBytes)
}

func injectEnvironment(text string, c *types.Cluster) string {
	lines := []string{
		"    environment:",
		fmt.Sprintf("      - CLUSTER_PORT=%d", c.Port),
		fmt.Sprintf("      - CLUSTER_MEMORY_MIB=%d", c.Limits.MemoryMiB),
		fmt.Sprintf("      - CLUSTER_CPU_CORES=%s", formatCPU(c.Limits.CPUCores)),
	}
	return text + strings.Join(lines, "\n") + "\n"
}

func injectRestartPolicy(text string) string {
	return text + "    restart: unless-stopped\n"
}

func formatCPU(cores float64) string {
	return strconv.FormatFloat(cores, 'f', -1, 64)
}
