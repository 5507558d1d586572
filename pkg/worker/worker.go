// Package worker consumes preview-build jobs. Each Worker is one named
// consumer in the group: it reads new entries, builds and uploads the preview
// set, marks the asset ready and only then acks. Entries left pending by a
// dead consumer are picked up through Pending + Reclaim.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/jobqueue"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/metrics"
	"github.com/quatton/mam/pkg/mlog"
	"github.com/quatton/mam/pkg/objstore"
	"github.com/quatton/mam/pkg/preview"
)

// Config controls one consumer.
type Config struct {
	Group    string
	Consumer string

	Batch int
	Block time.Duration

	// MaxAttempts is the number of failed deliveries tolerated; the next
	// failure dead-letters the job.
	MaxAttempts int64
	// JobTimeout bounds a single job. Jobs run on a context detached from
	// Run's so shutdown never aborts an upload half way.
	JobTimeout time.Duration

	ReclaimMinIdle  time.Duration
	ReclaimInterval time.Duration
	// Heartbeat is how often a running build refreshes its entry so that
	// recoverers do not take it over. Defaults to a third of ReclaimMinIdle.
	Heartbeat time.Duration
}

func (c *Config) applyDefaults() {
	if c.Group == "" {
		c.Group = "previewers"
	}
	if c.Batch <= 0 {
		c.Batch = 1
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.ReclaimMinIdle <= 0 {
		c.ReclaimMinIdle = 60 * time.Second
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 30 * time.Second
	}
	if c.Heartbeat <= 0 || c.Heartbeat >= c.ReclaimMinIdle {
		c.Heartbeat = c.ReclaimMinIdle / 3
	}
}

// Publisher announces that a preview prefix is ready.
type Publisher interface {
	Publish(ctx context.Context, prefix string) error
}

// Outcome is what happened to one delivery.
type Outcome string

const (
	OutcomeReady        Outcome = "ready"
	OutcomeRetry        Outcome = "retry"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeSkipped      Outcome = "skipped"
)

// Worker is a single consumer.
type Worker struct {
	queue   jobqueue.Queue
	store   objstore.Store
	repo    assets.Repository
	builder preview.Builder
	pub     Publisher
	cfg     Config
	log     *mlog.Logger
	now     func() time.Time
}

func New(queue jobqueue.Queue, store objstore.Store, repo assets.Repository, builder preview.Builder, pub Publisher, cfg Config, log *mlog.Logger) *Worker {
	cfg.applyDefaults()
	if log == nil {
		log = mlog.Discard()
	}
	return &Worker{
		queue:   queue,
		store:   store,
		repo:    repo,
		builder: builder,
		pub:     pub,
		cfg:     cfg,
		log:     log.With("component", "worker", "consumer", cfg.Consumer),
		now:     time.Now,
	}
}

// Consumer returns the consumer name.
func (w *Worker) Consumer() string { return w.cfg.Consumer }

// Run polls until ctx ends. Pending entries of dead consumers are reclaimed
// on start and then every ReclaimInterval.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.EnsureGroup(ctx, w.cfg.Group); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}
	w.log.Info("preview worker started", "group", w.cfg.Group, "block", w.cfg.Block, "max_attempts", w.cfg.MaxAttempts)

	lastRecover := time.Time{}
	for ctx.Err() == nil {
		if w.now().Sub(lastRecover) >= w.cfg.ReclaimInterval {
			if _, err := w.Recover(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("recovery failed", "error", err)
			}
			lastRecover = w.now()
		}

		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Warn("read failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	w.log.Info("preview worker stopped")
	return nil
}

// Poll reads one batch of new entries and handles them.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	ds, err := w.queue.ReadGroup(ctx, w.cfg.Group, w.cfg.Consumer, w.cfg.Batch, w.cfg.Block)
	if err != nil {
		return 0, err
	}
	for _, d := range ds {
		w.Handle(ctx, d)
	}
	return len(ds), nil
}

// Recover reclaims entries idle for at least ReclaimMinIdle (from any
// consumer, including a previous incarnation of this one) and handles them.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	pending, err := w.queue.Pending(ctx, w.cfg.Group, w.cfg.ReclaimMinIdle)
	if err != nil || len(pending) == 0 {
		return 0, err
	}
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.EntryID)
	}

	// Reclaim re-checks idleness, so a concurrent recoverer that got there
	// first simply leaves us with fewer entries.
	ds, err := w.queue.Reclaim(ctx, w.cfg.Group, w.cfg.Consumer, w.cfg.ReclaimMinIdle, ids...)
	if err != nil {
		return 0, err
	}
	if len(ds) > 0 {
		metrics.Reclaimed.Add(float64(len(ds)))
		w.log.Info("reclaimed pending entries", "count", len(ds))
	}
	for _, d := range ds {
		w.Handle(ctx, d)
	}
	return len(ds), nil
}

// Handle processes one delivery on a detached context bounded by
// JobTimeout.
func (w *Worker) Handle(ctx context.Context, d jobqueue.Delivery) Outcome {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.JobTimeout)
	defer cancel()

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	out := w.process(jctx, d)
	metrics.JobsProcessed.WithLabelValues(string(out)).Inc()
	return out
}

func (w *Worker) process(ctx context.Context, d jobqueue.Delivery) Outcome {
	log := w.log.With("entry_id", d.EntryID, "job_id", d.Job.ID, "deliveries", d.Deliveries)

	if d.Err != nil {
		return w.deadLetter(ctx, log, d, "", d.Err)
	}

	prefix := objstore.PreviewPrefix(d.Job.MasterKey)
	if d.Job.PreviewPrefix != "" && d.Job.PreviewPrefix != prefix {
		log.Warn("payload preview prefix differs from derived prefix", "payload", d.Job.PreviewPrefix, "derived", prefix)
	}
	log = log.With("preview_prefix", prefix)

	a, err := w.repo.Get(ctx, d.Job.ID)
	if merr.IsCode(err, merr.CodeNotFound) {
		return w.deadLetter(ctx, log, d, prefix, merr.Fatal("worker.lookup", err))
	}
	if err != nil {
		return w.fail(ctx, log, d, prefix, err)
	}
	if a.Status == assets.StatusReady || a.Status == assets.StatusFailed {
		log.Info("asset already settled, skipping", "status", a.Status)
		return w.ack(ctx, log, d, OutcomeSkipped)
	}

	start := w.now()
	stop := w.keepAlive(ctx, log, d.EntryID)
	err = w.build(ctx, d.Job, prefix)
	stop()
	if err != nil {
		return w.fail(ctx, log, d, prefix, err)
	}

	// Ready before ack: a crash in between costs a duplicate build, never a
	// lost status update.
	if _, err := w.repo.Transition(ctx, a.ID, assets.Change{To: assets.StatusReady, Error: assets.ErrorText("")}); err != nil {
		return w.fail(ctx, log, d, prefix, err)
	}
	metrics.BuildDuration.Observe(w.now().Sub(start).Seconds())

	if w.pub != nil {
		if err := w.pub.Publish(ctx, prefix); err != nil {
			log.Warn("ready notification failed", "error", err)
		}
	}
	log.Info("preview ready", "took", w.now().Sub(start))
	return w.ack(ctx, log, d, OutcomeReady)
}

// keepAlive refreshes the entry's idle time every Heartbeat until the
// returned func is called.
func (w *Worker) keepAlive(ctx context.Context, log *mlog.Logger, entryID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(w.cfg.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			n, err := w.queue.Touch(ctx, w.cfg.Group, w.cfg.Consumer, entryID)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				log.Warn("heartbeat failed", "error", err)
			case n == 0:
				log.Warn("entry was reclaimed by another consumer while building")
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// build streams the master through the builder into the previews bucket and
// verifies every uploaded key.
func (w *Worker) build(ctx context.Context, job jobqueue.Job, prefix string) error {
	rc, _, err := w.store.Get(ctx, job.MasterBucket, job.MasterKey)
	if merr.IsCode(err, merr.CodeNotFound) {
		return merr.Fatal("worker.master", err)
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	put := func(ctx context.Context, key, contentType string, data []byte) error {
		_, err := w.store.Put(ctx, job.PreviewsBucket, key, bytes.NewReader(data), int64(len(data)), contentType)
		return err
	}
	arts, err := w.builder.Build(ctx, rc, prefix, put)
	if err != nil {
		return err
	}

	for _, art := range arts {
		obj, err := w.store.Stat(ctx, job.PreviewsBucket, art.Key)
		if err != nil {
			return merr.Storage("worker.verify", err)
		}
		if obj.Size != art.Size {
			return merr.Build("worker.verify", fmt.Errorf("%s: size %d, expected %d", art.Key, obj.Size, art.Size))
		}
	}
	return nil
}

// fail leaves retryable failures pending and dead-letters the rest.
func (w *Worker) fail(ctx context.Context, log *mlog.Logger, d jobqueue.Delivery, prefix string, err error) Outcome {
	if merr.IsRetryable(err) && d.Deliveries <= w.cfg.MaxAttempts {
		log.Warn("job failed, leaving pending for retry", "error", err)
		return OutcomeRetry
	}
	if merr.IsRetryable(err) {
		err = fmt.Errorf("gave up after %d deliveries: %w", d.Deliveries, err)
	}
	return w.deadLetter(ctx, log, d, prefix, err)
}

// deadLetter records the failure, marks the asset failed and acks. Any step
// failing leaves the entry pending so the failure is never dropped.
func (w *Worker) deadLetter(ctx context.Context, log *mlog.Logger, d jobqueue.Delivery, prefix string, cause error) Outcome {
	reason := cause.Error()
	_, err := w.queue.DeadLetter(ctx, jobqueue.DeadLetter{
		JobID:         d.Job.ID,
		EntryID:       d.EntryID,
		PreviewPrefix: prefix,
		Reason:        reason,
		Deliveries:    d.Deliveries,
		FailedAt:      w.now(),
	})
	if err != nil {
		log.Error("dead-letter append failed", "error", err, "cause", cause)
		return OutcomeRetry
	}

	if d.Job.ID != "" {
		_, err := w.repo.Transition(ctx, d.Job.ID, assets.Change{To: assets.StatusFailed, Error: &reason})
		switch {
		case err == nil, merr.IsCode(err, merr.CodeNotFound), errors.Is(err, assets.ErrInvalidTransition):
		default:
			log.Error("could not mark asset failed", "error", err)
			return OutcomeRetry
		}
	}

	log.Error("job dead-lettered", "reason", reason)
	return w.ack(ctx, log, d, OutcomeDeadLettered)
}

func (w *Worker) ack(ctx context.Context, log *mlog.Logger, d jobqueue.Delivery, out Outcome) Outcome {
	if _, err := w.queue.Ack(ctx, w.cfg.Group, d.EntryID); err != nil {
		// Unacked entries come back through Reclaim and are skipped once the
		// asset has settled.
		log.Warn("ack failed", "error", err)
	}
	return out
}
