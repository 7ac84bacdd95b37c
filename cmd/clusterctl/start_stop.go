package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [name|id]",
	Short: "Start a stopped cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop [name|id]",
	Short: "Stop a running cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func runStart(cmd *cobra.Command, args []string) error {
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

	if err := a.lifecycle.Start(context.Background(), cluster.ID); err != nil {
		return err
	}

	if cluster.HasFTP() {
		if err := a.ftp.CreateOrStart(context.Background(), cluster); err != nil {
			fmt.Printf("cluster started but ftp sidecar failed to start: %v\n", err)
		}
	}

	fmt.Printf("cluster %s started\n", cluster.Name)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
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

	if err := a.lifecycle.Stop(context.Background(), cluster.ID); err != nil {
		return err
	}

	if cluster.HasFTP() {
		if err := a.ftp.Stop(context.Background(), cluster); err != nil {
			fmt.Printf("cluster stopped but ftp sidecar failed to stop: %v\n", err)
		}
	}

	fmt.Printf("cluster %s stopped\n", cluster.Name)
	return nil
}
