// Package config loads the service configuration from the environment.
// In development a .env file is read first.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/mam/pkg/db"
	"github.com/quatton/mam/pkg/edgesign"
	"github.com/quatton/mam/pkg/kv"
	"github.com/quatton/mam/pkg/mlog"
	"github.com/quatton/mam/pkg/objstore"
	"github.com/quatton/mam/pkg/worker"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"3000"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:3000"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
	AuthSecret  string `envconfig:"AUTH_SECRET"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"mam"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"password"`
	DBName     string `envconfig:"DB_NAME" default:"mam"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBVerbose  bool   `envconfig:"DB_VERBOSE" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT" default:"localhost:9000"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`

	StagingBucket       string   `envconfig:"STAGING_BUCKET" default:"staging"`
	MastersBucket       string   `envconfig:"MASTERS_BUCKET" default:"masters"`
	PreviewsBucket      string   `envconfig:"PREVIEWS_BUCKET" default:"previews"`
	StagingPrefixes     []string `envconfig:"STAGING_PREFIXES" default:"staging/,uploads/"`
	PerUserStaging      bool     `envconfig:"PER_USER_STAGING" default:"false"`
	MasterRetentionDays int      `envconfig:"MASTER_RETENTION_DAYS" default:"0"`

	PreviewStream        string `envconfig:"PREVIEW_STREAM" default:"preview:jobs"`
	PreviewConsumerGroup string `envconfig:"PREVIEW_CONSUMER_GROUP" default:"previewers"`
	PreviewStreamMaxLen  int64  `envconfig:"PREVIEW_STREAM_MAXLEN" default:"100000"`

	InstanceID        string        `envconfig:"INSTANCE_ID"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	WorkerBatch       int           `envconfig:"WORKER_BATCH" default:"1"`
	WorkerBlock       time.Duration `envconfig:"WORKER_BLOCK" default:"5s"`
	WorkerMaxAttempts int64         `envconfig:"WORKER_MAX_ATTEMPTS" default:"3"`
	WorkerJobTimeout  time.Duration `envconfig:"WORKER_JOB_TIMEOUT" default:"10m"`
	ReclaimMinIdle    time.Duration `envconfig:"RECLAIM_MIN_IDLE" default:"60s"`
	ReclaimInterval   time.Duration `envconfig:"RECLAIM_INTERVAL" default:"30s"`
	WorkerHeartbeat   time.Duration `envconfig:"WORKER_HEARTBEAT" default:"15s"`
	ReconcileAfter    time.Duration `envconfig:"RECONCILE_AFTER" default:"2m"`
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	ClaimHeartbeat    time.Duration `envconfig:"CLAIM_HEARTBEAT" default:"20s"`
	SegmentBytes      int           `envconfig:"SEGMENT_BYTES" default:"4194304"`

	EdgePublicBase string `envconfig:"EDGE_PUBLIC_BASE"`
	EdgeSigningKey string `envconfig:"EDGE_SIGNING_KEY"`

	RLPresignMax    int64         `envconfig:"RL_PRESIGN_MAX" default:"120"`
	RLPresignWindow time.Duration `envconfig:"RL_PRESIGN_WINDOW" default:"1m"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+/$`)

// Load reads .env (development only), then the environment, and validates
// the result.
func Load(log *mlog.Logger) (*Config, error) {
	if log == nil {
		log = mlog.Discard()
	}
	if IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Debug("no .env file found")
		} else {
			log.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProd reports whether the loaded config runs in production.
func (c *Config) IsProd() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.IsProd() && len(c.AuthSecret) < 32 {
		problems = append(problems, "  ❌ AUTH_SECRET must be at least 32 characters in production")
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		problems = append(problems, "  ❌ AUTH_SECRET must be at least 32 characters")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		problems = append(problems, "  ❌ BASE_URL must be a valid URL")
	}
	if len(c.StagingPrefixes) == 0 {
		problems = append(problems, "  ❌ STAGING_PREFIXES must name at least one prefix")
	}
	for _, p := range c.StagingPrefixes {
		if !prefixPattern.MatchString(p) {
			problems = append(problems, fmt.Sprintf("  ❌ STAGING_PREFIXES entry %q must look like \"name/\"", p))
		}
	}
	for name, b := range map[string]string{"STAGING_BUCKET": c.StagingBucket, "MASTERS_BUCKET": c.MastersBucket, "PREVIEWS_BUCKET": c.PreviewsBucket} {
		if b == "" {
			problems = append(problems, fmt.Sprintf("  ❌ %s is required", name))
		}
	}
	if c.MasterRetentionDays < 0 {
		problems = append(problems, "  ❌ MASTER_RETENTION_DAYS must not be negative")
	}
	if c.WorkerConcurrency < 1 {
		problems = append(problems, "  ❌ WORKER_CONCURRENCY must be at least 1")
	}
	if c.WorkerMaxAttempts < 1 {
		problems = append(problems, "  ❌ WORKER_MAX_ATTEMPTS must be at least 1")
	}
	if c.WorkerHeartbeat <= 0 || 2*c.WorkerHeartbeat > c.ReclaimMinIdle {
		problems = append(problems, "  ❌ WORKER_HEARTBEAT must be positive and at most half of RECLAIM_MIN_IDLE")
	}
	if c.ClaimHeartbeat <= 0 || 2*c.ClaimHeartbeat > c.ReconcileAfter {
		problems = append(problems, "  ❌ CLAIM_HEARTBEAT must be positive and at most half of RECONCILE_AFTER")
	}
	if c.SegmentBytes < 1 {
		problems = append(problems, "  ❌ SEGMENT_BYTES must be positive")
	}
	if c.EdgeSigningKey != "" && len(c.EdgeSigningKey) < edgesign.MinKeyLength {
		problems = append(problems, fmt.Sprintf("  ❌ EDGE_SIGNING_KEY must be at least %d characters", edgesign.MinKeyLength))
	}
	if c.EdgePublicBase != "" {
		if _, err := url.ParseRequestURI(c.EdgePublicBase); err != nil {
			problems = append(problems, "  ❌ EDGE_PUBLIC_BASE must be a valid URL")
		}
	}
	if c.RLPresignMax < 1 || c.RLPresignWindow <= 0 {
		problems = append(problems, "  ❌ RL_PRESIGN_MAX and RL_PRESIGN_WINDOW must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment validation failed:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

func (c *Config) Logger() *mlog.Logger {
	return mlog.FromEnv(c.LogLevel, c.LogFormat)
}

func (c *Config) DB() db.Config {
	return db.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		SSLMode:  c.DBSSLMode,
		Verbose:  c.DBVerbose,
	}
}

func (c *Config) Valkey() kv.ValkeyConfig {
	return kv.ValkeyConfig{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

func (c *Config) S3() objstore.S3Config {
	return objstore.S3Config{
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Region:    c.S3Region,
		UseSSL:    c.S3UseSSL,
	}
}

func (c *Config) KeyPolicy() objstore.KeyPolicy {
	return objstore.KeyPolicy{Roots: c.StagingPrefixes, PerUser: c.PerUserStaging}
}

// Retention is the object-lock period for masters; zero disables it.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.MasterRetentionDays) * 24 * time.Hour
}

// Worker returns the per-consumer settings. Consumer names are derived
// from INSTANCE_ID, falling back to hostname.
func (c *Config) Worker(hostname string) worker.Config {
	consumer := c.InstanceID
	if consumer == "" {
		consumer = hostname
	}
	return worker.Config{
		Group:           c.PreviewConsumerGroup,
		Consumer:        consumer,
		Batch:           c.WorkerBatch,
		Block:           c.WorkerBlock,
		MaxAttempts:     c.WorkerMaxAttempts,
		JobTimeout:      c.WorkerJobTimeout,
		ReclaimMinIdle:  c.ReclaimMinIdle,
		ReclaimInterval: c.ReclaimInterval,
		Heartbeat:       c.WorkerHeartbeat,
	}
}

// MaskSecret hides all but the ends of a secret.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *Config) Print(fmtr func(string, ...any)) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Base URL: %s\n", c.BaseURL)
	fmtr("  Auth Secret: %s\n", MaskSecret(c.AuthSecret))
	fmtr("  Database: %s@%s:%d/%s (sslmode=%s)\n", c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
	fmtr("  Redis: %s (db %d, password %s)\n", c.RedisAddr, c.RedisDB, MaskSecret(c.RedisPassword))
	fmtr("  S3: %s (ssl=%t, access key %s)\n", c.S3Endpoint, c.S3UseSSL, MaskSecret(c.S3AccessKey))
	fmtr("  Buckets: staging=%s masters=%s previews=%s\n", c.StagingBucket, c.MastersBucket, c.PreviewsBucket)
	fmtr("  Staging prefixes: %s (per user: %t)\n", strings.Join(c.StagingPrefixes, ","), c.PerUserStaging)
	fmtr("  Stream: %s group=%s maxlen=%d\n", c.PreviewStream, c.PreviewConsumerGroup, c.PreviewStreamMaxLen)
	fmtr("  Workers: %d x batch %d, max attempts %d\n", c.WorkerConcurrency, c.WorkerBatch, c.WorkerMaxAttempts)

	if c.MasterRetentionDays > 0 {
		fmtr("  Master retention: ✓ %d days (COMPLIANCE)\n", c.MasterRetentionDays)
	} else {
		fmtr("  Master retention: ✗ Disabled\n")
	}
	if c.EdgeSigningKey != "" {
		fmtr("  Edge signing: ✓ Enabled (%s)\n", MaskSecret(c.EdgeSigningKey))
	} else {
		fmtr("  Edge signing: ✗ Disabled\n")
	}
}
