package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quatton/mam/pkg/merr"
)

// MemoryStore is an in-process Store used by tests and by `mamd serve --dev`.
// It counts calls so tests can assert on side effects, and exposes hooks to
// inject failures.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]map[string]*memObject
	calls   map[string]int

	// BeforeCopy, when set, runs at the start of each Copy without the store
	// lock held. Tests use it to hold a copy in flight.
	BeforeCopy func(dstBucket, dstKey string)
	// FailCopy, when set, is returned (wrapped as a StorageError) by Copy.
	FailCopy error
	// FailPut, when set, is consulted for each Put; a non-nil result is
	// returned as a StorageError.
	FailPut func(bucket, key string) error
}

type memObject struct {
	data []byte
	info Object
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[string]*memObject),
		calls:   make(map[string]int),
	}
}

// Calls returns how many times the named operation ("copy", "put", ...) ran.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (m *MemoryStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Seed stores an object directly, bypassing call accounting.
func (m *MemoryStore) Seed(bucket, key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(bucket, key, data, contentType, nil)
}

// Bytes returns the stored bytes for bucket/key, or nil.
func (m *MemoryStore) Bytes(bucket, key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.buckets[bucket][key]; ok {
		return append([]byte(nil), obj.data...)
	}
	return nil
}

func (m *MemoryStore) putLocked(bucket, key string, data []byte, contentType string, meta map[string]string) *Object {
	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string]*memObject)
		m.buckets[bucket] = b
	}
	obj := &memObject{
		data: data,
		info: Object{
			Key:          key,
			Bucket:       bucket,
			Size:         int64(len(data)),
			ContentType:  contentType,
			LastModified: time.Now(),
			Metadata:     meta,
		},
	}
	b[key] = obj
	info := obj.info
	return &info
}

func (m *MemoryStore) lookupLocked(op, bucket, key string) (*memObject, error) {
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, merr.New(merr.CodeNotFound, op, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound))
	}
	return obj, nil
}

func (m *MemoryStore) EnsureBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ensure_bucket"]++
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string]*memObject)
	}
	return nil
}

func (m *MemoryStore) PresignPut(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["presign"]++
	return fmt.Sprintf("memory://%s/%s?expires=%d", bucket, key, int(expiry.Seconds())), nil
}

func (m *MemoryStore) Stat(ctx context.Context, bucket, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["stat"]++
	obj, err := m.lookupLocked("objstore.stat", bucket, key)
	if err != nil {
		return nil, err
	}
	info := obj.info
	return &info, nil
}

func (m *MemoryStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, opts CopyOptions) (*Object, error) {
	if m.BeforeCopy != nil {
		m.BeforeCopy(dstBucket, dstKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["copy"]++
	if m.FailCopy != nil {
		return nil, merr.Storage("objstore.copy", m.FailCopy)
	}
	src, err := m.lookupLocked("objstore.copy", srcBucket, srcKey)
	if err != nil {
		return nil, err
	}
	meta := src.info.Metadata
	if len(opts.Metadata) > 0 {
		meta = opts.Metadata
	}
	return m.putLocked(dstBucket, dstKey, append([]byte(nil), src.data...), src.info.ContentType, meta), nil
}

func (m *MemoryStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, merr.Storage("objstore.put", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["put"]++
	if m.FailPut != nil {
		if err := m.FailPut(bucket, key); err != nil {
			return nil, merr.Storage("objstore.put", err)
		}
	}
	return m.putLocked(bucket, key, data, contentType, nil), nil
}

func (m *MemoryStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["get"]++
	obj, err := m.lookupLocked("objstore.get", bucket, key)
	if err != nil {
		return nil, nil, err
	}
	info := obj.info
	return io.NopCloser(bytes.NewReader(obj.data)), &info, nil
}

func (m *MemoryStore) List(ctx context.Context, bucket, prefix string) ([]*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["list"]++

	var out []*Object
	for key, obj := range m.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			info := obj.info
			out = append(out, &info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
