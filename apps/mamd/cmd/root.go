package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	memoryBackends bool

	rootCmd = &cobra.Command{
		Use:   "mamd",
		Short: "Asset promotion and preview-build service",
		Long: `mamd runs the mam HTTP API, the preview-build workers and the
supervisor that reconciles interrupted promotions and reclaims jobs
abandoned by crashed workers. Configuration comes from the environment
(and a .env file in development).`,
		SilenceUsage: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&memoryBackends, "memory", false, "Use in-process queue, store and repository (development only)")
}
