package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var pendingMinIdle time.Duration

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List preview jobs delivered but not yet acknowledged",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := newClient(cmd).Pending(cmd.Context(), pendingMinIdle)
		exitIfSdkError(err)
		if len(entries) == 0 {
			fmt.Println("Nothing pending.")
			return
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			idle := (time.Duration(e.IdleMS) * time.Millisecond).Round(time.Second)
			rows = append(rows, []string{e.EntryID, e.Consumer, idle.String(), strconv.FormatInt(e.Deliveries, 10)})
		}
		fmt.Println(renderTable([]string{"Entry", "Consumer", "Idle", "Deliveries"}, rows, 3, 4))
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().DurationVar(&pendingMinIdle, "min-idle", 0, "Only show entries idle at least this long")
}
