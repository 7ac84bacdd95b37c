package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/clusterctl/pkg/lifecycle"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create and start a new cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().String("template", "default", "Template to provision the cluster from")
	createCmd.Flags().String("owner", "", "Owning user id")
	createCmd.Flags().String("ftp-user", "", "FTP sidecar username (omit to skip FTP provisioning)")
	createCmd.Flags().String("ftp-pass", "", "FTP sidecar password")
	addLimitFlags(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	limits, err := resolveLimits(cfg, cmd)
	if err != nil {
		return err
	}

	tmplName, _ := cmd.Flags().GetString("template")
	owner, _ := cmd.Flags().GetString("owner")
	ftpUser, _ := cmd.Flags().GetString("ftp-user")
	ftpPass, _ := cmd.Flags().GetString("ftp-pass")

	req := lifecycle.CreateRequest{
		BaseName:    args[0],
		Template:    tmplName,
		TemplateDir: filepath.Join(cfg.TemplatesBase, tmplName),
		OwnerID:     owner,
		Limits:      limits,
		FTPUsername: ftpUser,
		FTPPassword: ftpPass,
	}

	result, err := a.lifecycle.Create(context.Background(), req)
	if err != nil {
		return err
	}

	if result.Cluster.HasFTP() {
		if err := a.ftp.CreateOrStart(context.Background(), result.Cluster); err != nil {
			fmt.Printf("cluster created but ftp sidecar failed to start: %v\n", err)
		}
	}

	fmt.Printf("cluster %s created (id=%s, status=%s, port=%d)\n", result.Cluster.Name, result.Cluster.ID, result.Cluster.Status, result.Cluster.Port)
	if result.Message != "" {
		fmt.Println(result.Message)
	}
	return nil
}
