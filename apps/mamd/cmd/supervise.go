package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quatton/mam/pkg/preview"
	"github.com/quatton/mam/pkg/promote"
	"github.com/quatton/mam/pkg/worker"
	"github.com/spf13/cobra"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Reconcile interrupted promotions and reclaim abandoned jobs",
	Long: `Periodically resumes promotions that stopped between the master copy and
the enqueue, and reclaims preview jobs whose consumer went away. Safe to
run next to workers: a reclaim only succeeds for entries still idle.`,
	Run: supervise,
}

func init() {
	rootCmd.AddCommand(superviseCmd)
}

func supervise(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log := loadConfig()
	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", "error", err)
	}
	defer rt.Close()
	rt.serveMetrics(ctx)

	hostname, _ := os.Hostname()
	wc := cfg.Worker(hostname)
	wc.Consumer += "-supervisor"
	recoverer := worker.New(rt.queue, rt.store, rt.repo, preview.NewSegmentingBuilder(cfg.SegmentBytes), rt.notifier, wc, log)

	go func() {
		if err := promote.NewReconciler(rt.promoter, cfg.ReconcileAfter, cfg.ReconcileInterval).Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("reconciler stopped", "error", err)
		}
	}()

	log.Info("supervisor started", "reconcile_after", cfg.ReconcileAfter, "reclaim_min_idle", cfg.ReclaimMinIdle)
	ticker := time.NewTicker(cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		if n, err := recoverer.Recover(ctx); err != nil && ctx.Err() == nil {
			log.Warn("pending recovery failed", "error", err)
		} else if n > 0 {
			log.Info("recovered pending jobs", "count", n)
		}
		select {
		case <-ctx.Done():
			log.Info("supervisor stopped")
			return
		case <-ticker.C:
		}
	}
}

