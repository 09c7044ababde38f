package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type migrationStep struct {
	Name string
	SQL  string
}

// sentinelTable is checked before running steps; its presence means the
// schema is already in place.
const sentinelTable = "public.files"

var steps = []migrationStep{
	{
		Name: "create_table_files",
		SQL: `CREATE TABLE IF NOT EXISTS files (
  id                UUID        PRIMARY KEY,
  original_name     TEXT        NOT NULL,
  mime_type         TEXT        NOT NULL,
  size              BIGINT      NOT NULL CHECK (size >= 0),
  storage_path      TEXT        NOT NULL UNIQUE,
  hash              TEXT        NOT NULL,
  hash_algorithm    TEXT        NOT NULL DEFAULT 'sha256',
  content_id        TEXT        NULL,
  ledger_tx_id      TEXT        NULL,
  ledger_mode       TEXT        NOT NULL DEFAULT '',
  original_metadata JSONB       NOT NULL DEFAULT '{}'::jsonb,
  cleaned_metadata  JSONB       NOT NULL DEFAULT '{}'::jsonb,
  owner_id          TEXT        NOT NULL,
  status            TEXT        NOT NULL CHECK (status IN ('pending', 'processed', 'failed')),
  cleaned           BOOLEAN     NOT NULL DEFAULT false,
  scrub_strategy    TEXT        NOT NULL DEFAULT '',
  error             TEXT        NOT NULL DEFAULT '',
  created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_files_owner_created",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_files_owner_created ON files (owner_id, created_at DESC);`,
	},
	{
		Name: "create_index_files_hash",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_files_hash ON files (hash);`,
	},
	{
		Name: "create_index_files_content_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_files_content_id ON files (content_id) WHERE content_id IS NOT NULL;`,
	},
	{
		Name: "create_index_files_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_files_created_at ON files (created_at);`,
	},
}

// EnsureMigrated checks if the 'files' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, log zerolog.Logger, dbHost string) error {
	start := time.Now()
	log = log.With().Str("component", "database").Str("db_host", dbHost).Logger()

	log.Info().Str("event", "db_migration_check").Str("status", "starting").Msg("checking schema")

	var exists bool
	err := db.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", sentinelTable).Scan(&exists)
	if err != nil {
		log.Error().
			Str("event", "db_migration_failed").
			Str("status", "error").
			Err(err).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("failed to check sentinel table")
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info().
			Str("event", "db_migration_skip").
			Str("status", "success").
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("schema already exists, skipping migration")
		return nil
	}

	log.Info().Str("event", "db_migration_start").Str("status", "in_progress").Msg("running migration")

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error().
				Str("event", "db_migration_failed").
				Str("status", "error").
				Str("migration_step", step.Name).
				Err(err).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
				Msg("migration step failed")
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info().
			Str("event", "db_migration_step").
			Str("status", "success").
			Str("migration_step", step.Name).
			Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
			Msg("migration step applied")
	}

	log.Info().
		Str("event", "db_migration_success").
		Str("status", "success").
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("migration complete")
	return nil
}
