package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update [name|id]",
	Short: "Update a cluster's resource limits",
	Long: `update rewrites a cluster's compose file with new resource limits
and, if the cluster is currently running, restarts it to apply them.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	addLimitFlags(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	cluster, err := resolveCluster(a, args[0])
	if err != nil {
		return err
	}

	limits, err := resolveLimits(cfg, cmd)
	if err != nil {
		return err
	}

	composePath := cluster.RootPath + "/docker-compose.yml"
	if err := a.lifecycle.UpdateLimits(context.Background(), cluster.ID, limits, composePath); err != nil {
		return err
	}

	fmt.Printf("cluster %s limits updated\n", cluster.Name)
	return nil
}
