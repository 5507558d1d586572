package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <asset-id>",
	Short: "Show an asset and its preview readiness",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient(cmd)
		a, err := c.Asset(cmd.Context(), args[0])
		exitIfSdkError(err)

		fmt.Printf("ID:       %s\n", a.ID)
		fmt.Printf("Status:   %s\n", a.Status)
		fmt.Printf("Staging:  %s/%s\n", a.StagingBucket, a.StagingKey)
		if a.MasterKey != "" {
			fmt.Printf("Master:   %s/%s\n", a.MasterBucket, a.MasterKey)
		}
		if a.PreviewPrefix != "" {
			ready, _, err := c.PreviewStatus(cmd.Context(), a.PreviewPrefix)
			exitIfSdkError(err)
			fmt.Printf("Preview:  %s/%s (ready: %t)\n", a.PreviewsBucket, a.PreviewPrefix, ready)
		}
		if a.Error != "" {
			fmt.Printf("Error:    %s\n", a.Error)
		}
		if len(a.Metadata) > 0 {
			keys := make([]string, 0, len(a.Metadata))
			for k := range a.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Println("Metadata:")
			for _, k := range keys {
				fmt.Printf("  %s: %s\n", k, a.Metadata[k])
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
