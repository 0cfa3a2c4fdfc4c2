package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/exledger/internal/persistence"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationDir = "migrations"

// Migrate brings the schema of one logical database up to date and makes
// sure every sequence counter row exists.
func Migrate(ctx context.Context, target persistence.Target, db *sqlx.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	before, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("%s: read schema version: %w", target, classify("goose version", err))
	}
	if err := goose.UpContext(ctx, db.DB, migrationDir); err != nil {
		return fmt.Errorf("%s: migrate: %w", target, classify("goose up", err))
	}
	after, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("%s: read schema version: %w", target, classify("goose version", err))
	}

	if err := SeedCounters(ctx, db); err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}

	log.Info().
		Str("target", string(target)).
		Int64("from_version", before).
		Int64("to_version", after).
		Msg("Schema migrated")
	return nil
}
