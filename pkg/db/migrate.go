package db

import (
	"context"
	"fmt"

	"github.com/quatton/mam/pkg/db/migrations"
	"github.com/quatton/mam/pkg/mlog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

func newMigrator(ctx context.Context, db *bun.DB) (*migrate.Migrator, error) {
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init migrations: %w", err)
	}
	return migrator, nil
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, db *bun.DB, log *mlog.Logger) error {
	migrator, err := newMigrator(ctx, db)
	if err != nil {
		return err
	}
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	if group.IsZero() {
		log.Info("database is up to date")
		return nil
	}
	log.Info("migrated", "group", group.String())
	return nil
}

// Rollback reverts the last migration group.
func Rollback(ctx context.Context, db *bun.DB, log *mlog.Logger) error {
	migrator, err := newMigrator(ctx, db)
	if err != nil {
		return err
	}
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	if group.IsZero() {
		log.Info("nothing to roll back")
		return nil
	}
	log.Info("rolled back", "group", group.String())
	return nil
}

// Status logs applied and pending migrations.
func Status(ctx context.Context, db *bun.DB, log *mlog.Logger) error {
	migrator, err := newMigrator(ctx, db)
	if err != nil {
		return err
	}
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	log.Info("migrations",
		"all", ms.String(),
		"unapplied", ms.Unapplied().String(),
		"last_group", ms.LastGroup().String(),
	)
	return nil
}
