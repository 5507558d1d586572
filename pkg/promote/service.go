// Package promote moves accepted uploads from staging into immutable master
// storage and schedules their preview build. Promotion is idempotent per
// staging key: the unique staging_key constraint, not a lock, decides
// concurrent callers.
package promote

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/auth"
	"github.com/quatton/mam/pkg/jobqueue"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/metrics"
	"github.com/quatton/mam/pkg/mlog"
	"github.com/quatton/mam/pkg/objstore"
)

// Config names the buckets and policies the service works with.
type Config struct {
	StagingBucket  string
	MastersBucket  string
	PreviewsBucket string
	Keys           objstore.KeyPolicy

	// Retention locks masters in COMPLIANCE mode for this long. Zero
	// disables object lock.
	Retention time.Duration

	// SettleTimeout bounds how long a caller waits for a concurrent
	// promotion of the same key to leave the staging status.
	SettleTimeout  time.Duration
	SettleInterval time.Duration

	// ClaimHeartbeat is how often a promoter refreshes its staging claim
	// while copying the master. It must stay well below the reconciler's
	// staleness threshold.
	ClaimHeartbeat time.Duration
}

// Request is a promote call.
type Request struct {
	StagingKey string
	// Metadata is the decoded JSON body field: nil or an object of scalars.
	Metadata any
}

// Service performs promotions.
type Service struct {
	repo  assets.Repository
	store objstore.Store
	queue jobqueue.Queue
	cfg   Config
	log   *mlog.Logger
	now   func() time.Time
}

func NewService(repo assets.Repository, store objstore.Store, queue jobqueue.Queue, cfg Config, log *mlog.Logger) *Service {
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 5 * time.Second
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 50 * time.Millisecond
	}
	if cfg.ClaimHeartbeat <= 0 {
		cfg.ClaimHeartbeat = 30 * time.Second
	}
	if len(cfg.Keys.Roots) == 0 {
		cfg.Keys.Roots = objstore.DefaultStagingRoots
	}
	if log == nil {
		log = mlog.Discard()
	}
	return &Service{
		repo:  repo,
		store: store,
		queue: queue,
		cfg:   cfg,
		log:   log.With("component", "promote"),
		now:   time.Now,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Promote validates the request, copies the staging object to masters once,
// persists the asset and enqueues exactly one preview job. created is false
// when an existing asset for the staging key is returned.
func (s *Service) Promote(ctx context.Context, req Request, p *auth.Principal) (*assets.Asset, bool, error) {
	a, created, err := s.promote(ctx, req, p)
	switch {
	case err != nil:
		metrics.Promotions.WithLabelValues("error").Inc()
	case created:
		metrics.Promotions.WithLabelValues("created").Inc()
	default:
		metrics.Promotions.WithLabelValues("existing").Inc()
	}
	return a, created, err
}

func (s *Service) promote(ctx context.Context, req Request, p *auth.Principal) (*assets.Asset, bool, error) {
	principalID := ""
	if p != nil {
		principalID = p.ID
	}
	key := req.StagingKey
	if _, err := s.cfg.Keys.Validate(key, principalID); err != nil {
		return nil, false, err
	}
	meta, err := NormalizeMetadata(req.Metadata)
	if err != nil {
		return nil, false, err
	}
	masterKey, err := s.cfg.Keys.MasterKey(key)
	if err != nil {
		return nil, false, err
	}
	log := s.log.With("staging_key", key)

	// A claim can vanish when the winning caller's copy fails; go around
	// again in that case rather than failing a healthy request.
	for attempt := 0; attempt < 3; attempt++ {
		if a, err := s.existing(ctx, key); err != nil || a != nil {
			return a, false, err
		}

		if _, err := s.store.Stat(ctx, s.cfg.StagingBucket, key); err != nil {
			return nil, false, err
		}

		id, err := uuid.NewV7()
		if err != nil {
			return nil, false, merr.New(merr.CodeUnknown, "promote.id", err)
		}
		a := &assets.Asset{
			ID:            id.String(),
			StagingKey:    key,
			StagingBucket: s.cfg.StagingBucket,
			Status:        assets.StatusStaging,
			OwnerID:       principalID,
			Metadata:      meta,
		}
		if err := s.repo.Create(ctx, a); err != nil {
			if merr.IsCode(err, merr.CodeConflict) {
				log.Debug("lost promotion race", "attempt", attempt)
				continue
			}
			return nil, false, err
		}
		log = log.With("asset_id", a.ID)

		if err := s.copyMaster(ctx, a, masterKey); err != nil {
			log.Error("master copy failed", "error", err)
			if derr := s.repo.DeleteStaging(context.WithoutCancel(ctx), a.ID); derr != nil {
				log.Error("failed to release claim", "error", derr)
			}
			return nil, false, err
		}

		a, err = s.schedule(ctx, a, masterKey)
		if err != nil {
			log.Error("promotion left for reconciliation", "error", err)
			return nil, false, err
		}
		log.Info("promoted", "master_key", a.MasterKey, "preview_prefix", a.PreviewPrefix, "status", a.Status)
		return a, true, nil
	}
	return nil, false, merr.Errorf(merr.CodeConflict, "promote", "staging key %q is contended, try again", key)
}

// existing returns the asset for key, waiting for an in-flight promotion to
// settle. It returns nil when there is none.
func (s *Service) existing(ctx context.Context, key string) (*assets.Asset, error) {
	a, err := s.repo.GetByStagingKey(ctx, key)
	if merr.IsCode(err, merr.CodeNotFound) {
		return nil, nil
	}
	if err != nil || a.Status != assets.StatusStaging {
		return a, err
	}

	deadline := time.NewTimer(s.cfg.SettleTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.cfg.SettleInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, merr.New(merr.CodeUnknown, "promote.settle", ctx.Err())
		case <-deadline.C:
			return a, nil
		case <-tick.C:
		}
		next, err := s.repo.GetByStagingKey(ctx, key)
		if merr.IsCode(err, merr.CodeNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if next.Status != assets.StatusStaging {
			return next, nil
		}
		a = next
	}
}

// copyMaster copies the staging object of a claimed asset to masterKey,
// holding the claim for as long as the copy runs.
func (s *Service) copyMaster(ctx context.Context, a *assets.Asset, masterKey string) error {
	defer s.holdClaim(ctx, a.ID)()

	opts := objstore.CopyOptions{Metadata: a.Metadata}
	if s.cfg.Retention > 0 {
		opts.RetainUntil = s.now().Add(s.cfg.Retention)
	}
	_, err := s.store.Copy(ctx, a.StagingBucket, a.StagingKey, s.cfg.MastersBucket, masterKey, opts)
	if err != nil && merr.CodeOf(err) == merr.CodeUnknown {
		err = merr.Storage("promote.copy", err)
	}
	return err
}

// holdClaim touches the staging claim on id every ClaimHeartbeat until the
// returned func is called.
func (s *Service) holdClaim(ctx context.Context, id string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(s.cfg.ClaimHeartbeat)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			if err := s.repo.Touch(ctx, id, assets.StatusStaging); err != nil && ctx.Err() == nil {
				s.log.Warn("claim heartbeat failed", "asset_id", id, "error", err)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// schedule persists promoted, enqueues the preview job and moves the asset
// to preview_building. An enqueue failure leaves the asset promoted.
// If another party already moved the asset past promoted, the current row is
// returned and nothing is enqueued.
func (s *Service) schedule(ctx context.Context, a *assets.Asset, masterKey string) (*assets.Asset, error) {
	id := a.ID
	a, err := s.repo.Transition(ctx, id, assets.Change{
		To:             assets.StatusPromoted,
		MasterKey:      masterKey,
		MasterBucket:   s.cfg.MastersBucket,
		PreviewPrefix:  objstore.PreviewPrefix(masterKey),
		PreviewsBucket: s.cfg.PreviewsBucket,
	})
	if merr.IsCode(err, merr.CodeInvalidTransition) {
		cur, gerr := s.repo.Get(ctx, id)
		if gerr == nil && cur.Status != assets.StatusStaging && cur.Status != assets.StatusPromoted {
			s.log.Debug("promotion already scheduled", "asset_id", id, "status", cur.Status)
			return cur, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, a)
}

func (s *Service) enqueue(ctx context.Context, a *assets.Asset) (*assets.Asset, error) {
	entryID, err := s.queue.Enqueue(ctx, JobFor(a))
	if err != nil {
		return nil, err
	}

	// The job is durable from here on; a failed status write only delays
	// what the worker reports, since promoted -> ready is allowed.
	next, err := s.repo.Transition(ctx, a.ID, assets.Change{To: assets.StatusPreviewBuilding, Error: assets.ErrorText("")})
	if err != nil {
		s.log.Warn("enqueued but status not updated", "asset_id", a.ID, "entry_id", entryID, "error", err)
		return a, nil
	}
	s.log.Debug("enqueued preview job", "asset_id", a.ID, "entry_id", entryID)
	return next, nil
}

// JobFor builds the queue job for an asset.
func JobFor(a *assets.Asset) jobqueue.Job {
	return jobqueue.Job{
		ID:             a.ID,
		MasterKey:      a.MasterKey,
		MasterBucket:   a.MasterBucket,
		PreviewsBucket: a.PreviewsBucket,
		PreviewPrefix:  a.PreviewPrefix,
	}
}

// Retry re-schedules the preview build of a failed asset. Assets already
// building (or promoted and awaiting reconciliation) are returned unchanged
// with retried false.
func (s *Service) Retry(ctx context.Context, id string) (*assets.Asset, bool, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	switch a.Status {
	case assets.StatusPreviewBuilding, assets.StatusPromoted:
		return a, false, nil
	case assets.StatusFailed:
	default:
		return nil, false, assets.CheckTransition(a.Status, assets.StatusPreviewBuilding)
	}

	a, err = s.repo.Transition(ctx, id, assets.Change{To: assets.StatusPreviewBuilding, Error: assets.ErrorText("")})
	if err != nil {
		return nil, false, err
	}
	if _, err := s.queue.Enqueue(ctx, JobFor(a)); err != nil {
		reason := "retry could not be scheduled: " + err.Error()
		if _, rerr := s.repo.Transition(context.WithoutCancel(ctx), id, assets.Change{To: assets.StatusFailed, Error: &reason}); rerr != nil {
			s.log.Error("failed to restore failed status", "asset_id", id, "error", rerr)
		}
		return nil, false, err
	}
	s.log.Info("retry scheduled", "asset_id", id)
	return a, true, nil
}

// Get returns an asset by ID.
func (s *Service) Get(ctx context.Context, id string) (*assets.Asset, error) {
	return s.repo.Get(ctx, id)
}
