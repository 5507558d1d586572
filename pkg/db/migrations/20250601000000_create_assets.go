package migrations

import (
	"context"
	"fmt"

	"github.com/quatton/mam/pkg/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [up migration] ")

		if _, err := db.NewRaw("CREATE SCHEMA IF NOT EXISTS mam").Exec(ctx); err != nil {
			return err
		}

		// The unique staging_key column is what serialises concurrent
		// promotions of the same upload.
		_, err := db.NewCreateTable().
			Model((*models.Asset)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}

		stmts := []string{
			"CREATE INDEX IF NOT EXISTS mam_assets_preview_prefix_idx ON mam.assets (preview_prefix)",
			"CREATE INDEX IF NOT EXISTS mam_assets_status_updated_at_idx ON mam.assets (status, updated_at)",
		}
		for _, stmt := range stmts {
			if _, err := db.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [down migration] ")

		if _, err := db.NewDropTable().Model((*models.Asset)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		_, err := db.NewRaw("DROP SCHEMA IF EXISTS mam").Exec(ctx)
		return err
	})
}
