package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Asset is the persisted form of assets.Asset.
type Asset struct {
	bun.BaseModel `bun:"table:mam.assets,alias:a"`

	ID             uuid.UUID         `bun:"type:uuid,pk"`
	StagingKey     string            `bun:",unique,notnull"`
	StagingBucket  string            `bun:",notnull"`
	MasterKey      string            `bun:",nullzero"`
	MasterBucket   string            `bun:",nullzero"`
	PreviewPrefix  string            `bun:",nullzero"`
	PreviewsBucket string            `bun:",nullzero"`
	Status         string            `bun:",notnull"`
	OwnerID        string            `bun:",nullzero"`
	Metadata       map[string]string `bun:"type:jsonb,nullzero"`
	Error          string            `bun:",nullzero"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
