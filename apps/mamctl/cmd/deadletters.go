package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var deadLettersLimit int

var deadLettersCmd = &cobra.Command{
	Use:     "dead-letters",
	Aliases: []string{"dl"},
	Short:   "List dead-lettered preview jobs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		dls, err := newClient(cmd).DeadLetters(cmd.Context(), deadLettersLimit)
		exitIfSdkError(err)
		if len(dls) == 0 {
			fmt.Println("No dead letters.")
			return
		}
		rows := make([][]string, 0, len(dls))
		for _, dl := range dls {
			rows = append(rows, []string{
				dl.FailedAt.Local().Format(time.DateTime),
				dl.JobID,
				strconv.FormatInt(dl.Deliveries, 10),
				dl.Reason,
			})
		}
		fmt.Println(renderTable([]string{"Failed At", "Job", "Deliveries", "Reason"}, rows, 3))
	},
}

func init() {
	rootCmd.AddCommand(deadLettersCmd)
	deadLettersCmd.Flags().IntVarP(&deadLettersLimit, "limit", "n", 50, "Maximum entries to show")
}
