package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var promoteMeta []string

var promoteCmd = &cobra.Command{
	Use:   "promote <staging-key>",
	Short: "Promote an uploaded staging object",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		meta := map[string]string{}
		for _, kv := range promoteMeta {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				exitIfSdkError(fmt.Errorf("metadata %q must be key=value", kv))
			}
			meta[k] = v
		}
		a, err := newClient(cmd).Promote(cmd.Context(), args[0], meta)
		exitIfSdkError(err)
		fmt.Printf("%s %s preview=%s\n", a.ID, a.Status, a.PreviewPrefix)
	},
}

func init() {
	rootCmd.AddCommand(promoteCmd)
	promoteCmd.Flags().StringArrayVarP(&promoteMeta, "meta", "m", nil, "Metadata entry key=value (repeatable)")
}
