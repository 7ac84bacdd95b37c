// Command clusterctl is the single-binary composition root for the
// cluster control plane: cobra CLI, structured logging, and every wired
// package (storage, driver, lifecycle, health, metrics pipeline, bus,
// ftp sidecar, backup).
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/spf13/cobra"
)

// Version, Commit, and BuildTime are overridden at build time via
// -ldflags "-X main.Version=... -X main.Commit=... -X main.BuildTime=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "clusterctl",
	Short: "Multi-tenant container cluster control plane",
	Long: `clusterctl provisions, starts, stops, and tears down per-tenant
container clusters on a single node: port allocation, compose synthesis,
health checking with bounded-retry recovery, a high-frequency metrics
pipeline, an FTP sidecar per cluster, and archive/restore backups.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func main() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("clusterctl version %s (commit %s, built %s)\n", Version, Commit, BuildTime))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
