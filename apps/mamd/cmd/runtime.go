package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/quatton/mam/pkg/api"
	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/auth"
	"github.com/quatton/mam/pkg/config"
	"github.com/quatton/mam/pkg/db"
	"github.com/quatton/mam/pkg/edgesign"
	"github.com/quatton/mam/pkg/jobqueue"
	"github.com/quatton/mam/pkg/kv"
	"github.com/quatton/mam/pkg/metrics"
	"github.com/quatton/mam/pkg/mlog"
	"github.com/quatton/mam/pkg/notify"
	"github.com/quatton/mam/pkg/objstore"
	"github.com/quatton/mam/pkg/preview"
	"github.com/quatton/mam/pkg/promote"
	"github.com/quatton/mam/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

// runtime holds the shared handles of one process.
type runtime struct {
	cfg *config.Config
	log *mlog.Logger

	db    *bun.DB
	redis *redis.Client

	store    objstore.Store
	queue    jobqueue.Queue
	repo     assets.Repository
	limiter  kv.Store
	notifier *notify.Notifier
	promoter *promote.Service
}

func loadConfig() (*config.Config, *mlog.Logger) {
	boot := mlog.NewDefault()
	cfg, err := config.Load(boot)
	if err != nil {
		boot.Fatal("invalid configuration", "error", err)
	}
	return cfg, cfg.Logger()
}

func newRuntime(ctx context.Context, cfg *config.Config, log *mlog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}

	if memoryBackends {
		if cfg.IsProd() {
			return nil, fmt.Errorf("--memory is not allowed in production")
		}
		log.Warn("using in-process backends; state is lost on exit")
		rt.store = objstore.NewMemoryStore()
		rt.queue = jobqueue.NewMemoryQueue()
		rt.repo = assets.NewMemoryRepository()
		rt.limiter = kv.NewMemoryStore()
		rt.notifier = notify.New(rt.repo, nil, log)
	} else {
		database, err := db.New(ctx, cfg.DB())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		rt.db = database

		rc, err := kv.NewClient(ctx, cfg.Valkey())
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.redis = rc

		store, err := objstore.NewS3Store(cfg.S3())
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize object store: %w", err)
		}
		rt.store = store
		rt.queue = jobqueue.NewRedisQueue(rc, jobqueue.RedisConfig{Stream: cfg.PreviewStream, MaxLen: cfg.PreviewStreamMaxLen})
		rt.repo = assets.NewBunRepository(database)
		rt.limiter = kv.NewValkeyStore(rc, "mam:")
		rt.notifier = notify.New(rt.repo, notify.NewRedisBroker(rc, notify.ReadyChannel(cfg.PreviewStream)), log)
	}

	rt.promoter = promote.NewService(rt.repo, rt.store, rt.queue, promote.Config{
		StagingBucket:  cfg.StagingBucket,
		MastersBucket:  cfg.MastersBucket,
		PreviewsBucket: cfg.PreviewsBucket,
		Keys:           cfg.KeyPolicy(),
		Retention:      cfg.Retention(),
		ClaimHeartbeat: cfg.ClaimHeartbeat,
	}, log)

	if err := rt.queue.EnsureGroup(ctx, cfg.PreviewConsumerGroup); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return rt, nil
}

// ensureBuckets creates the three buckets if they are missing.
func (rt *runtime) ensureBuckets(ctx context.Context) error {
	for _, b := range []string{rt.cfg.StagingBucket, rt.cfg.MastersBucket, rt.cfg.PreviewsBucket} {
		if err := rt.store.EnsureBucket(ctx, b); err != nil {
			return fmt.Errorf("bucket %s: %w", b, err)
		}
	}
	return nil
}

func (rt *runtime) pool(n int) *worker.Pool {
	hostname, _ := os.Hostname()
	base := rt.cfg.Worker(hostname)
	return worker.NewPool(n, base, func(wc worker.Config) *worker.Worker {
		return worker.New(rt.queue, rt.store, rt.repo, preview.NewSegmentingBuilder(rt.cfg.SegmentBytes), rt.notifier, wc, rt.log)
	})
}

func (rt *runtime) api() *api.Api {
	deps := &api.Deps{
		Promoter:      rt.promoter,
		Store:         rt.store,
		Queue:         rt.queue,
		Group:         rt.cfg.PreviewConsumerGroup,
		Notifier:      rt.notifier,
		Limiter:       rt.limiter,
		PresignMax:    rt.cfg.RLPresignMax,
		PresignWindow: rt.cfg.RLPresignWindow,
		Checks:        map[string]api.Check{},
		Log:           rt.log,
	}

	var validator *auth.Validator
	if rt.cfg.AuthSecret != "" {
		validator = auth.NewValidator(rt.cfg.AuthSecret, auth.TokenAudience)
	}
	deps.Auth = auth.NewAuthenticator(validator, !rt.cfg.IsProd(), rt.log)

	if rt.cfg.EdgeSigningKey != "" {
		base := rt.cfg.EdgePublicBase
		if base == "" {
			base = rt.cfg.BaseURL
		}
		deps.Signer = edgesign.NewSigner(rt.cfg.EdgeSigningKey, base)
		deps.SignedTTL = edgesign.DefaultTTL
	}

	if rt.db != nil {
		deps.Checks["database"] = func(ctx context.Context) error { return db.Ping(ctx, rt.db) }
	}
	if rt.redis != nil {
		deps.Checks["redis"] = rt.limiter.Ping
	}
	return api.NewApi(deps)
}

// serveMetrics exposes /metrics on METRICS_ADDR when set.
func (rt *runtime) serveMetrics(ctx context.Context) {
	if rt.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: rt.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		rt.log.Info("metrics listening", "addr", rt.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.log.Error("metrics server failed", "error", err)
		}
	}()
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
