package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	serveWorkers       int
	serveEnsureBuckets bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves presign, promote, preview status/events, signed preview URLs and
the operator endpoints. With --workers the process also consumes preview
jobs; in --memory mode it always does, since nothing else can reach the
in-process queue.`,
	Run: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Number of in-process preview workers")
	serveCmd.Flags().BoolVar(&serveEnsureBuckets, "ensure-buckets", false, "Create the staging, masters and previews buckets on start")
}

func serve(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log := loadConfig()
	cfg.Print(func(format string, a ...any) { fmt.Fprintf(os.Stderr, format, a...) })

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", "error", err)
	}
	defer rt.Close()

	if serveEnsureBuckets || memoryBackends {
		if err := rt.ensureBuckets(ctx); err != nil {
			log.Fatal("failed to ensure buckets", "error", err)
		}
	}

	go func() {
		if err := rt.notifier.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("ready listener stopped", "error", err)
		}
	}()

	workers := serveWorkers
	if memoryBackends && workers == 0 {
		workers = cfg.WorkerConcurrency
	}
	if workers > 0 {
		go func() {
			if err := rt.pool(workers).Run(ctx); err != nil {
				log.Error("worker pool stopped", "error", err)
			}
		}()
	}
	rt.serveMetrics(ctx)

	a := rt.api()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	log.Info("🚀 API starting", "addr", srv.Addr, "workers", workers)
	log.Info("📚 OpenAPI docs", "url", cfg.BaseURL+"/docs")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", "error", err)
	}
	log.Info("API stopped")
}
