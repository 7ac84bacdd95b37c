package main

import (
	"fmt"
	"strconv"

	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/cuemby/clusterctl/pkg/sizeparse"
	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/spf13/cobra"
)

const bytesPerGiB = 1024 * 1024 * 1024

func addLimitFlags(cmd *cobra.Command) {
	cmd.Flags().String("cpu", "", "CPU core limit, e.g. 1.5 (defaults to the configured default)")
	cmd.Flags().String("memory", "", "Memory limit, e.g. 512MiB (defaults to the configured default)")
	cmd.Flags().String("disk", "", "Disk limit, e.g. 5GiB (defaults to the configured default)")
	cmd.Flags().Uint64("network-mbps", 0, "Network bandwidth limit in Mbps (defaults to the configured default)")
}

// resolveLimits applies configured defaults and overrides them with
// whichever limit flags the caller actually set.
func resolveLimits(cfg *config.Config, cmd *cobra.Command) (types.ResourceLimits, error) {
	limits := types.ResourceLimits{
		CPUCores:    cfg.DefaultLimits.CPUCores,
		MemoryMiB:   cfg.DefaultLimits.MemoryMiB,
		DiskGiB:     cfg.DefaultLimits.DiskGiB,
		NetworkMbps: cfg.DefaultLimits.NetworkMbps,
	}

	if raw, _ := cmd.Flags().GetString("cpu"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return limits, fmt.Errorf("invalid --cpu value %q: %w", raw, err)
		}
		limits.CPUCores = v
	}
	if raw, _ := cmd.Flags().GetString("memory"); raw != "" {
		mib, err := sizeparse.ParseMemory(raw)
		if err != nil {
			return limits, fmt.Errorf("invalid --memory value %q: %w", raw, err)
		}
		limits.MemoryMiB = mib
	}
	if raw, _ := cmd.Flags().GetString("disk"); raw != "" {
		b, err := sizeparse.ParseBytes(raw)
		if err != nil {
			return limits, fmt.Errorf("invalid --disk value %q: %w", raw, err)
		}
		limits.DiskGiB = uint64((b + bytesPerGiB - 1) / bytesPerGiB)
	}
	if mbps, _ := cmd.Flags().GetUint64("network-mbps"); mbps != 0 {
		limits.NetworkMbps = mbps
	}

	return limits, nil
}
