package driver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/clusterctl/pkg/sizeparse"
)

// parseStatsLine parses one line of `docker stats --format
// "{{.CPUPerc}}\t{{.MemUsage}}\t{{.NetIO}}\t{{.BlockIO}}"` output, e.g.
// "12.34%\t100MiB / 512MiB\t1.2kB / 3.4kB\t0B / 0B".
func parseStatsLine(line string) (ContainerStats, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 4 {
		return ContainerStats{}, fmt.Errorf("driver: unexpected stats line %q", line)
	}

	cpu, err := parsePercent(fields[0])
	if err != nil {
		return ContainerStats{}, err
	}

	memUsed, memLimit, err := parseSlashPair(fields[1])
	if err != nil {
		return ContainerStats{}, err
	}

	rx, tx, err := parseSlashPair(fields[2])
	if err != nil {
		return ContainerStats{}, err
	}

	blkRead, blkWrite, err := parseSlashPair(fields[3])
	if err != nil {
		return ContainerStats{}, err
	}

	return ContainerStats{
		CPUPercentOfHost: cpu,
		MemUsedBytes:     memUsed,
		MemLimitBytes:    memLimit,
		NetRxBytes:       rx,
		NetTxBytes:       tx,
		BlkReadBytes:     blkRead,
		BlkWriteBytes:    blkWrite,
	}, nil
}

func parsePercent(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.Replace(s, ",", ".", 1)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseSlashPair(s string) (int64, int64, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("driver: expected 'a / b' pair, got %q", s)
	}
	a, err := sizeparse.ParseBytes(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	b, err := sizeparse.ParseBytes(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
