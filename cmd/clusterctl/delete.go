package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [name|id]",
	Short: "Delete a cluster and its filesystem root",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	if cluster.HasFTP() {
		if err := a.ftp.Remove(context.Background(), cluster); err != nil {
			fmt.Printf("ftp sidecar removal failed, continuing: %v\n", err)
		}
	}

	if err := a.lifecycle.Delete(context.Background(), cluster.ID); err != nil {
		return err
	}

	fmt.Printf("cluster %s deleted\n", cluster.Name)
	return nil
}
