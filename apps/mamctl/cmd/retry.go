package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <asset-id>...",
	Short: "Schedule a new preview build for failed assets",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient(cmd)
		for _, id := range args {
			a, retried, err := c.Retry(cmd.Context(), id)
			exitIfSdkError(err)
			if retried {
				fmt.Printf("%s: retry scheduled (%s)\n", id, a.Status)
			} else {
				fmt.Printf("%s: build already scheduled (%s)\n", id, a.Status)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
