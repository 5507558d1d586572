package promote

import (
	"context"
	"errors"
	"time"

	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/metrics"
	"github.com/quatton/mam/pkg/mlog"
)

const sweepBatch = 100

// errStagingGone marks a staging claim whose source and master are both
// missing.
var errStagingGone = errors.New("staging object and master are both missing")

// Reconciler resumes promotions that stopped half way: assets left in
// staging by a crashed promoter, and assets left promoted by a failed
// enqueue.
type Reconciler struct {
	svc      *Service
	after    time.Duration
	interval time.Duration
	log      *mlog.Logger
}

// NewReconciler resumes assets not updated for after, sweeping every
// interval when run.
func NewReconciler(svc *Service, after, interval time.Duration) *Reconciler {
	if after <= 0 {
		after = 2 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{svc: svc, after: after, interval: interval, log: svc.log.With("component", "reconciler")}
}

// Sweep resumes every stale asset once and returns how many were moved to
// preview_building. It keeps going past individual failures and returns the
// first one.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	stale, err := r.svc.repo.ListStale(ctx,
		[]assets.Status{assets.StatusStaging, assets.StatusPromoted},
		r.svc.now().Add(-r.after), sweepBatch)
	if err != nil {
		return 0, err
	}

	var (
		resumed  int
		firstErr error
	)
	for _, a := range stale {
		if ctx.Err() != nil {
			break
		}
		log := r.log.With("asset_id", a.ID, "status", a.Status)
		from := a.Status
		ok, err := r.resume(ctx, a)
		if err != nil {
			log.Warn("resume failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			resumed++
			metrics.Reconciled.WithLabelValues(string(from)).Inc()
			log.Info("resumed stuck promotion")
		}
	}
	return resumed, firstErr
}

func (r *Reconciler) resume(ctx context.Context, a *assets.Asset) (bool, error) {
	s := r.svc
	switch a.Status {
	case assets.StatusPromoted:
		_, err := s.enqueue(ctx, a)
		return err == nil, err

	case assets.StatusStaging:
		masterKey, err := s.cfg.Keys.MasterKey(a.StagingKey)
		if err != nil {
			return false, err
		}
		// Copy only if the master is not there yet; the copy targets the same
		// key either way.
		_, err = s.store.Stat(ctx, s.cfg.MastersBucket, masterKey)
		if merr.IsCode(err, merr.CodeNotFound) {
			err = s.copyMaster(ctx, a, masterKey)
			if merr.IsCode(err, merr.CodeNotFound) {
				r.log.Warn("dropping abandoned claim", "asset_id", a.ID, "error", errStagingGone)
				return false, s.repo.DeleteStaging(ctx, a.ID)
			}
		}
		if err != nil {
			return false, err
		}
		_, err = s.schedule(ctx, a, masterKey)
		return err == nil, err
	}
	return false, nil
}

// Run sweeps until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("reconciler started", "after", r.after, "interval", r.interval)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if n, err := r.Sweep(ctx); err != nil {
			r.log.Warn("sweep finished with errors", "resumed", n, "error", err)
		} else if n > 0 {
			r.log.Info("sweep finished", "resumed", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
