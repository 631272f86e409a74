package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name: "create transcript_runs",
		sql: `CREATE TABLE IF NOT EXISTS transcript_runs (
	run_id            uuid PRIMARY KEY,
	audio_path        text NOT NULL,
	output_path       text NOT NULL,
	engine            text NOT NULL,
	model_hash        text NOT NULL DEFAULT '',
	scorer_hash       text NOT NULL DEFAULT '',
	aggressiveness    int NOT NULL,
	started_at        timestamptz NOT NULL,
	finished_at       timestamptz,
	status            text NOT NULL DEFAULT 'running',
	segments          int NOT NULL DEFAULT 0,
	audio_seconds     double precision NOT NULL DEFAULT 0,
	inference_seconds double precision NOT NULL DEFAULT 0,
	error             text
)`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'transcript_runs')`,
	},
	{
		name: "create transcript_records",
		sql: `CREATE TABLE IF NOT EXISTS transcript_records (
	run_id            uuid NOT NULL REFERENCES transcript_runs (run_id) ON DELETE CASCADE,
	seq               int NOT NULL,
	text              text NOT NULL,
	start_time        double precision NOT NULL,
	end_time          double precision NOT NULL,
	inference_seconds double precision NOT NULL,
	PRIMARY KEY (run_id, seq)
)`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'transcript_records')`,
	},
	{
		name:  "add transcript_runs audio_path index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_transcript_runs_audio_path ON transcript_runs (audio_path, started_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_transcript_runs_audio_path')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. A failed apply is returned as a
// *MigrationError carrying the SQL still to run.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart vad-transcriber.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
