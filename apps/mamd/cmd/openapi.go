package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/quatton/mam/pkg/api"
	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/jobqueue"
	"github.com/quatton/mam/pkg/notify"
	"github.com/quatton/mam/pkg/objstore"
	"github.com/quatton/mam/pkg/promote"
	"github.com/spf13/cobra"
)

var openapiCmd = &cobra.Command{
	Use:     "openapi",
	Aliases: []string{"spec"},
	Short:   "Generate OpenAPI specification",
	Long:    `Outputs the OpenAPI specification of the mam API without connecting to any backend.`,
	Run:     generateOpenAPI,
}

var (
	openapiOutput    string
	openapiDowngrade bool
)

func init() {
	rootCmd.AddCommand(openapiCmd)
	openapiCmd.Flags().StringVarP(&openapiOutput, "output", "o", "", "Write output to file (default stdout)")
	openapiCmd.Flags().BoolVar(&openapiDowngrade, "downgrade", true, "Downgrade OpenAPI to 3.0 when generating the spec")
}

func generateOpenAPI(cmd *cobra.Command, args []string) {
	repo := assets.NewMemoryRepository()
	store := objstore.NewMemoryStore()
	queue := jobqueue.NewMemoryQueue()
	a := api.NewApi(&api.Deps{
		Promoter: promote.NewService(repo, store, queue, promote.Config{}, nil),
		Store:    store,
		Queue:    queue,
		Notifier: notify.New(repo, nil, nil),
	})

	var (
		spec []byte
		err  error
	)
	if openapiDowngrade {
		spec, err = a.Api.OpenAPI().Downgrade()
	} else {
		spec, err = json.Marshal(a.Api.OpenAPI())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate OpenAPI spec: %v\n", err)
		os.Exit(1)
	}

	if openapiOutput == "" {
		fmt.Println(string(spec))
		return
	}
	if err := os.WriteFile(openapiOutput, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write OpenAPI spec to %s: %v\n", openapiOutput, err)
		os.Exit(1)
	}
}
