package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume preview-build jobs",
	Long: `Runs WORKER_CONCURRENCY named consumers in the preview consumer group.
Each consumer also reclaims jobs left pending by crashed consumers.`,
	Run: runWorkers,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 0, "Number of consumers (default WORKER_CONCURRENCY)")
}

func runWorkers(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log := loadConfig()
	if memoryBackends {
		log.Fatal("worker needs a shared queue; use 'serve --memory' for a single-process setup")
	}

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", "error", err)
	}
	defer rt.Close()

	n := workerConcurrency
	if n <= 0 {
		n = cfg.WorkerConcurrency
	}
	rt.serveMetrics(ctx)

	log.Info("starting preview workers", "concurrency", n, "group", cfg.PreviewConsumerGroup, "stream", cfg.PreviewStream)
	if err := rt.pool(n).Run(ctx); err != nil {
		log.Fatal("worker pool failed", "error", err)
	}
}
