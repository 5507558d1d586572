package assets

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/quatton/mam/pkg/merr"
)

// MemoryRepository is an in-process Repository for tests and dev mode.
type MemoryRepository struct {
	mu        sync.Mutex
	clock     func() time.Time
	byID      map[string]*Asset
	byStaging map[string]string

	// FailTransition, when set, is consulted before each Transition.
	FailTransition func(id string, to Status) error
}

// NewMemoryRepository returns an empty repository using the wall clock.
func NewMemoryRepository() *MemoryRepository {
	return NewMemoryRepositoryWithClock(time.Now)
}

// NewMemoryRepositoryWithClock returns an empty repository that stamps
// times with clock.
func NewMemoryRepositoryWithClock(clock func() time.Time) *MemoryRepository {
	return &MemoryRepository{
		clock:     clock,
		byID:      make(map[string]*Asset),
		byStaging: make(map[string]string),
	}
}

// Len returns the number of stored assets.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *MemoryRepository) Create(ctx context.Context, a *Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byStaging[a.StagingKey]; ok {
		return merr.New(merr.CodeConflict, "assets.create", fmt.Errorf("%w: %s", ErrDuplicate, a.StagingKey))
	}
	if _, ok := r.byID[a.ID]; ok {
		return merr.New(merr.CodeConflict, "assets.create", fmt.Errorf("%w: id %s", ErrDuplicate, a.ID))
	}
	now := r.clock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.byID[a.ID] = a.Clone()
	r.byStaging[a.StagingKey] = a.ID
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, notFound("assets.get", id)
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) GetByStagingKey(ctx context.Context, stagingKey string) (*Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byStaging[stagingKey]
	if !ok {
		return nil, notFound("assets.get_by_staging_key", stagingKey)
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetByPreviewPrefix(ctx context.Context, prefix string) (*Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byID {
		if a.PreviewPrefix == prefix {
			return a.Clone(), nil
		}
	}
	return nil, notFound("assets.get_by_preview_prefix", prefix)
}

func (r *MemoryRepository) Transition(ctx context.Context, id string, ch Change) (*Asset, error) {
	if r.FailTransition != nil {
		if err := r.FailTransition(id, ch.To); err != nil {
			return nil, merr.Storage("assets.transition", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, notFound("assets.transition", id)
	}
	next := a.Clone()
	if _, err := ch.Apply(next, r.clock()); err != nil {
		return nil, err
	}
	r.byID[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || a.Status != status {
		return nil
	}
	next := a.Clone()
	next.UpdatedAt = r.clock()
	r.byID[id] = next
	return nil
}

func (r *MemoryRepository) DeleteStaging(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || a.Status != StatusStaging {
		return nil
	}
	delete(r.byID, id)
	delete(r.byStaging, a.StagingKey)
	return nil
}

func (r *MemoryRepository) ListStale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]*Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Asset
	for _, a := range r.byID {
		if slices.Contains(statuses, a.Status) && a.UpdatedAt.Before(before) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func notFound(op, what string) error {
	return merr.New(merr.CodeNotFound, op, fmt.Errorf("%w: %s", ErrNotFound, what))
}

var _ Repository = (*MemoryRepository)(nil)
