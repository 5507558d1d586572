package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/quatton/mam/pkg/mamsdk"
	"github.com/spf13/cobra"
)

type contextKey string

const configContextKey contextKey = "mamconfig"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "mamctl",
		Short: "Operator CLI for the mam API",
		Long: `mamctl talks to a running mam API. It inspects assets and preview
readiness, lists dead-lettered and pending preview jobs, and schedules
retries for failed builds.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mamsdk.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			v := cfg.Viper()
			if err := v.BindPFlag(mamsdk.BaseUrlKey, cmd.Flags().Lookup("base-url")); err != nil {
				return err
			}
			if err := v.BindPFlag(mamsdk.TokenKey, cmd.Flags().Lookup("token")); err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}
)

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*mamsdk.Config, error) {
	cfg, ok := cmd.Context().Value(configContextKey).(*mamsdk.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

// newClient builds a client from config with flags applied.
func newClient(cmd *cobra.Command) *mamsdk.Client {
	cfg, err := GetConfig(cmd)
	if err != nil {
		exitIfSdkError(err)
	}
	v := cfg.Viper()
	return mamsdk.New(&mamsdk.Config{
		BaseURL: v.GetString(mamsdk.BaseUrlKey),
		Token:   v.GetString(mamsdk.TokenKey),
		Timeout: v.GetDuration(mamsdk.TimeoutKey),
	})
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: mam.yaml, .mam/config.yaml")
	rootCmd.PersistentFlags().String("base-url", "", "Base URL of the mam API (overrides config)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (overrides config and MAM_TOKEN)")
}
