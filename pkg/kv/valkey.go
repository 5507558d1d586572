package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ValkeyConfig holds configuration for connecting to Valkey.
type ValkeyConfig struct {
	Addr     string // host:port
	Password string // optional
	DB       int    // database number
}

// NewClient opens and pings a client. The same client is shared by the
// job queue, the ready broker and the rate limiter.
func NewClient(ctx context.Context, cfg ValkeyConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// ValkeyStore implements Store on an existing client.
type ValkeyStore struct {
	client redis.UniversalClient
	prefix string
}

// NewValkeyStore wraps client. Every key is namespaced with prefix.
func NewValkeyStore(client redis.UniversalClient, prefix string) *ValkeyStore {
	return &ValkeyStore{client: client, prefix: prefix}
}

func (s *ValkeyStore) key(k string) string { return s.prefix + k }

func (s *ValkeyStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := s.key(key)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	if ttl > 0 {
		// NX keeps the window anchored at the first hit (Redis >= 7).
		pipe.ExpireNX(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (s *ValkeyStore) Close() error { return nil }

var _ Store = (*ValkeyStore)(nil)
