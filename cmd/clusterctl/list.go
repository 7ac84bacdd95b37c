package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every cluster",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	clusters, err := a.store.ListClusters()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "NAME\tID\tSTATUS\tPORT\tOWNER")
	for _, c := range clusters {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.Name, c.ID, c.Status, c.Port, c.OwnerID)
	}
	return nil
}
