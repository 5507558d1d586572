package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/mam/pkg/db/models"
	"github.com/quatton/mam/pkg/merr"
	"github.com/uptrace/bun"
)

// BunRepository stores assets in Postgres.
type BunRepository struct {
	db *bun.DB
}

func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

func (r *BunRepository) Create(ctx context.Context, a *Asset) error {
	m, err := toModel(a)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	// The unique index on staging_key decides concurrent promotions; the
	// loser sees zero affected rows.
	res, err := r.db.NewInsert().
		Model(m).
		On("CONFLICT (staging_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return merr.Storage("assets.create", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return merr.New(merr.CodeConflict, "assets.create", fmt.Errorf("%w: %s", ErrDuplicate, a.StagingKey))
	}
	a.CreatedAt, a.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

func (r *BunRepository) Get(ctx context.Context, id string) (*Asset, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, notFound("assets.get", id)
	}
	return r.getOne(ctx, "assets.get", id, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("a.id = ?", uid)
	})
}

func (r *BunRepository) GetByStagingKey(ctx context.Context, stagingKey string) (*Asset, error) {
	return r.getOne(ctx, "assets.get_by_staging_key", stagingKey, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("a.staging_key = ?", stagingKey)
	})
}

func (r *BunRepository) GetByPreviewPrefix(ctx context.Context, prefix string) (*Asset, error) {
	return r.getOne(ctx, "assets.get_by_preview_prefix", prefix, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("a.preview_prefix = ?", prefix).OrderExpr("a.created_at ASC").Limit(1)
	})
}

func (r *BunRepository) getOne(ctx context.Context, op, what string, where func(*bun.SelectQuery) *bun.SelectQuery) (*Asset, error) {
	m := new(models.Asset)
	err := where(r.db.NewSelect().Model(m)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(op, what)
	}
	if err != nil {
		return nil, merr.Storage(op, err)
	}
	return fromModel(m), nil
}

func (r *BunRepository) Transition(ctx context.Context, id string, ch Change) (*Asset, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, notFound("assets.transition", id)
	}

	var out *Asset
	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(models.Asset)
		err := tx.NewSelect().Model(m).Where("a.id = ?", uid).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("assets.transition", id)
		}
		if err != nil {
			return merr.Storage("assets.transition", err)
		}

		a := fromModel(m)
		changed, err := ch.Apply(a, time.Now().UTC())
		if err != nil {
			return err
		}
		out = a
		if !changed {
			return nil
		}

		next, _ := toModel(a)
		_, err = tx.NewUpdate().
			Model(next).
			Column("status", "master_key", "master_bucket", "preview_prefix", "previews_bucket", "error", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return merr.Storage("assets.transition", err)
		}
		return nil
	})
	if err != nil {
		if merr.CodeOf(err) == merr.CodeUnknown {
			err = merr.Storage("assets.transition", err)
		}
		return nil, err
	}
	return out, nil
}

func (r *BunRepository) Touch(ctx context.Context, id string, status Status) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	_, err = r.db.NewUpdate().
		Model((*models.Asset)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", uid).
		Where("status = ?", string(status)).
		Exec(ctx)
	if err != nil {
		return merr.Storage("assets.touch", err)
	}
	return nil
}

func (r *BunRepository) DeleteStaging(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	_, err = r.db.NewDelete().
		Model((*models.Asset)(nil)).
		Where("id = ?", uid).
		Where("status = ?", string(StatusStaging)).
		Exec(ctx)
	if err != nil {
		return merr.Storage("assets.delete_staging", err)
	}
	return nil
}

func (r *BunRepository) ListStale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]*Asset, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	var ms []models.Asset
	q := r.db.NewSelect().
		Model(&ms).
		Where("a.status IN (?)", bun.In(names)).
		Where("a.updated_at < ?", before).
		OrderExpr("a.updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, merr.Storage("assets.list_stale", err)
	}

	out := make([]*Asset, 0, len(ms))
	for i := range ms {
		out = append(out, fromModel(&ms[i]))
	}
	return out, nil
}

func toModel(a *Asset) (*models.Asset, error) {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return nil, merr.Errorf(merr.CodeUnknown, "assets.to_model", "invalid asset id %q: %v", a.ID, err)
	}
	return &models.Asset{
		ID:             id,
		StagingKey:     a.StagingKey,
		StagingBucket:  a.StagingBucket,
		MasterKey:      a.MasterKey,
		MasterBucket:   a.MasterBucket,
		PreviewPrefix:  a.PreviewPrefix,
		PreviewsBucket: a.PreviewsBucket,
		Status:         string(a.Status),
		OwnerID:        a.OwnerID,
		Metadata:       a.Metadata,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}, nil
}

func fromModel(m *models.Asset) *Asset {
	return &Asset{
		ID:             m.ID.String(),
		StagingKey:     m.StagingKey,
		StagingBucket:  m.StagingBucket,
		MasterKey:      m.MasterKey,
		MasterBucket:   m.MasterBucket,
		PreviewPrefix:  m.PreviewPrefix,
		PreviewsBucket: m.PreviewsBucket,
		Status:         Status(m.Status),
		OwnerID:        m.OwnerID,
		Metadata:       m.Metadata,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

var _ Repository = (*BunRepository)(nil)
