package lifecycle

import (
	"context"
	"time"

	"github.com/cuemby/clusterctl/pkg/compose"
	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/cuemby/clusterctl/pkg/metrics"
	"github.com/cuemby/clusterctl/pkg/types"
)

// startWithRemediation attempts to bring a cluster's container up via the
// driver, classifying failures and retrying the remediation actions named
// in the error-classification table, capped at c.maxRemediation retries.
// On any eventual success it also runs the restart-loop guard.
func (c *Controller) startWithRemediation(ctx context.Context, cluster *types.Cluster) driver.Outcome {
	outcome := c.drv.Run(ctx, cluster.RootPath)
	attempts := 0

	for !outcome.Ok && attempts < c.maxRemediation {
		action := remediationFor(outcome.Category)
		if action == actionFatal {
			break
		}
		metrics.RemediationAttemptsTotal.WithLabelValues(string(outcome.Category)).Inc()

		if action == actionPruneRetry || action == actionPrunePauseRetry {
			if res := c.drv.PruneUnusedNetworks(ctx); !res.Ok {
				log.WithComponent("lifecycle").Warn().Str("cluster", cluster.Name).Msg("network prune failed during remediation")
			}
		}
		if action == actionPrunePauseRetry {
			time.Sleep(500 * time.Millisecond)
		}

		attempts++
		outcome = c.drv.Run(ctx, cluster.RootPath)
	}

	if !outcome.Ok {
		return outcome
	}

	return c.guardAgainstRestartLoop(ctx, cluster, outcome)
}

type remediationAction int

const (
	actionFatal remediationAction = iota
	actionRetry
	actionPruneRetry
	actionPrunePauseRetry
)

func remediationFor(cat driver.Category) remediationAction {
	switch cat {
	case driver.CategoryPortConflict:
		return actionPruneRetry
	case driver.CategoryNetworkError:
		return actionPrunePauseRetry
	case driver.CategoryVolumeError:
		return actionPruneRetry
	case driver.CategoryImageError:
		return actionRetry
	default:
		return actionFatal
	}
}

// guardAgainstRestartLoop waits 3s after a successful start command, then
// inspects restart-count/status; if the container looks like it's crash
// looping, it stops, removes, prunes, re-applies the compose, and
// re-resolves — giving up after one loop-remediation attempt.
func (c *Controller) guardAgainstRestartLoop(ctx context.Context, cluster *types.Cluster, outcome driver.Outcome) driver.Outcome {
	name := compose.Sanitize(cluster.Name)
	time.Sleep(3 * time.Second)

	if !c.looksLikeRestartLoop(ctx, name) {
		return outcome
	}

	log.WithComponent("lifecycle").Warn().Str("cluster", cluster.Name).Msg("restart loop detected, resolving")

	if res := c.drv.Stop(ctx, name); res.Fatal {
		return res
	}
	if res := c.drv.Remove(ctx, name, true); res.Fatal {
		return res
	}
	if res := c.drv.PruneUnusedNetworks(ctx); !res.Ok {
		log.WithComponent("lifecycle").Warn().Str("cluster", cluster.Name).Msg("network prune failed during restart-loop resolution")
	}

	reapplied := c.drv.Run(ctx, cluster.RootPath)
	if !reapplied.Ok {
		logsOutcome := c.drv.Logs(ctx, name, 100)
		log.WithComponent("lifecycle").Error().Str("cluster", cluster.Name).Str("logs", logsOutcome.Value).Msg("restart-loop resolution failed to reapply compose")
		return reapplied
	}

	if id, ok := c.drv.ResolveID(ctx, name); ok {
		cluster.ContainerID = id
	}
	if c.looksLikeRestartLoop(ctx, name) {
		logsOutcome := c.drv.Logs(ctx, name, 100)
		return driver.Outcome{Fatal: true, Category: driver.CategoryUnknown, Raw: logsOutcome.Value}
	}

	metrics.RestartLoopsResolvedTotal.Inc()
	return reapplied
}

func (c *Controller) looksLikeRestartLoop(ctx context.Context, name string) bool {
	statusOutcome := c.drv.Inspect(ctx, name, "state.status")
	if statusOutcome.Ok && statusOutcome.Value == "restarting" {
		return true
	}
	restartCountOutcome := c.drv.Inspect(ctx, name, "restart-count")
	if !restartCountOutcome.Ok {
		return false
	}
	return parseRestartCount(restartCountOutcome.Value) > 3
}

func parseRestartCount(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
