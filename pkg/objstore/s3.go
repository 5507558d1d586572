package objstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/quatton/mam/pkg/merr"
)

// S3Store implements Store using MinIO/S3-compatible storage (Wasabi, MinIO,
// AWS S3).
type S3Store struct {
	client *minio.Client
	region string
}

// S3Config holds configuration for S3-compatible storage.
type S3Config struct {
	Endpoint  string // host:port (e.g., "localhost:9000")
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// NewS3Store creates a new S3Store with the given configuration.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, merr.Storage("objstore.new", err)
	}

	return &S3Store{
		client: client,
		region: cfg.Region,
	}, nil
}

// EnsureBucket ensures the bucket exists, creating it if necessary.
func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return wrapErr("objstore.ensure_bucket", bucket, "", err)
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{
		Region: s.region,
	})
	return wrapErr("objstore.ensure_bucket", bucket, "", err)
}

// PresignPut generates a presigned URL for uploading an object.
func (s *S3Store) PresignPut(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, bucket, key, expiry)
	if err != nil {
		return "", wrapErr("objstore.presign", bucket, key, err)
	}
	return u.String(), nil
}

// Stat returns object info for bucket/key.
func (s *S3Store) Stat(ctx context.Context, bucket, key string) (*Object, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, wrapErr("objstore.stat", bucket, key, err)
	}
	return toObject(bucket, info), nil
}

// Copy performs a server-side copy from the staging bucket into the masters
// bucket. When opts.RetainUntil is set the copy is locked in COMPLIANCE mode.
func (s *S3Store) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, opts CopyOptions) (*Object, error) {
	dst := minio.CopyDestOptions{
		Bucket: dstBucket,
		Object: dstKey,
	}
	if len(opts.Metadata) > 0 {
		dst.UserMetadata = opts.Metadata
		dst.ReplaceMetadata = true
	}
	if !opts.RetainUntil.IsZero() {
		dst.Mode = minio.Compliance
		dst.RetainUntilDate = opts.RetainUntil
	}

	info, err := s.client.CopyObject(ctx, dst, minio.CopySrcOptions{
		Bucket: srcBucket,
		Object: srcKey,
	})
	if err != nil {
		return nil, wrapErr("objstore.copy", srcBucket, srcKey, err)
	}

	return &Object{
		Key:          info.Key,
		Bucket:       info.Bucket,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		Metadata:     opts.Metadata,
	}, nil
}

// Put uploads data to bucket/key.
func (s *S3Store) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	info, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, wrapErr("objstore.put", bucket, key, err)
	}

	return &Object{
		Key:          info.Key,
		Bucket:       info.Bucket,
		Size:         info.Size,
		ContentType:  contentType,
		ETag:         info.ETag,
		LastModified: time.Now(),
	}, nil
}

// Get retrieves an object by key.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, wrapErr("objstore.get", bucket, key, err)
	}

	// GetObject is lazy; Stat forces the request so a missing key surfaces here.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, nil, wrapErr("objstore.get", bucket, key, err)
	}

	return obj, toObject(bucket, info), nil
}

// List lists all objects with the given prefix.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]*Object, error) {
	var objects []*Object

	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}

	for obj := range s.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return nil, wrapErr("objstore.list", bucket, prefix, obj.Err)
		}
		objects = append(objects, toObject(bucket, obj))
	}

	return objects, nil
}

func toObject(bucket string, info minio.ObjectInfo) *Object {
	return &Object{
		Key:          info.Key,
		Bucket:       bucket,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		Metadata:     info.UserMetadata,
	}
}

// wrapErr translates minio errors into the pipeline taxonomy.
func wrapErr(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return merr.New(merr.CodeNotFound, op, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound))
	case "NoSuchBucket":
		return merr.Storage(op, fmt.Errorf("%s: %w", bucket, ErrBucketMissing))
	}
	return merr.Storage(op, fmt.Errorf("%s/%s: %w", bucket, key, err))
}

// Ensure S3Store implements Store.
var _ Store = (*S3Store)(nil)
