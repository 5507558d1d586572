package assets

import (
	"context"
	"time"
)

// Repository persists assets. Implementations enforce at most one asset per
// staging key and apply transitions atomically.
type Repository interface {
	// Create inserts a new asset. A second asset for the same staging key
	// fails with a Conflict error wrapping ErrDuplicate.
	Create(ctx context.Context, a *Asset) error

	Get(ctx context.Context, id string) (*Asset, error)
	GetByStagingKey(ctx context.Context, stagingKey string) (*Asset, error)
	GetByPreviewPrefix(ctx context.Context, prefix string) (*Asset, error)

	// Transition applies ch to the asset with the given id and returns the
	// stored result. Same-status changes with no field updates are no-ops.
	Transition(ctx context.Context, id string, ch Change) (*Asset, error)

	// Touch bumps updated_at when the asset is still in status. It is how a
	// live holder keeps its claim out of ListStale.
	Touch(ctx context.Context, id string, status Status) error

	// DeleteStaging removes an asset that never left the staging status, so
	// a failed promotion can be attempted again.
	DeleteStaging(ctx context.Context, id string) error

	// ListStale returns assets in one of statuses not updated since before.
	ListStale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]*Asset, error)
}
