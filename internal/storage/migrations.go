package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Indexed artifacts registry
CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    digest BLOB NOT NULL,
    indexed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_indexed_at ON artifacts(indexed_at);

-- Tag records, payload kept verbatim
CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    artifact TEXT NOT NULL,
    source_path TEXT,
    payload TEXT NOT NULL CHECK (json_valid(payload)),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tags_artifact ON tags(artifact);
CREATE INDEX IF NOT EXISTS idx_tags_source_path ON tags(source_path);
CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(json_extract(payload, '$.name'));

-- Full-text shadow index over payloads
CREATE VIRTUAL TABLE IF NOT EXISTS tags_fts USING fts5(
    payload,
    content='tags',
    content_rowid='id',
    tokenize="unicode61 tokenchars '_'"
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS tags_ai AFTER INSERT ON tags BEGIN
    INSERT INTO tags_fts(rowid, payload) VALUES (new.id, new.payload);
END;

CREATE TRIGGER IF NOT EXISTS tags_ad AFTER DELETE ON tags BEGIN
    INSERT INTO tags_fts(tags_fts, rowid, payload) VALUES ('delete', old.id, old.payload);
END;

CREATE TRIGGER IF NOT EXISTS tags_au AFTER UPDATE ON tags BEGIN
    INSERT INTO tags_fts(tags_fts, rowid, payload) VALUES ('delete', old.id, old.payload);
    INSERT INTO tags_fts(rowid, payload) VALUES (new.id, new.payload);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS tags_au;
DROP TRIGGER IF EXISTS tags_ad;
DROP TRIGGER IF EXISTS tags_ai;

DROP TABLE IF EXISTS tags_fts;
DROP TABLE IF EXISTS tags;
DROP TABLE IF EXISTS artifacts;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
ALTER TABLE artifacts ADD COLUMN record_count INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_tags_kind ON tags(json_extract(payload, '$.kind'));
CREATE INDEX IF NOT EXISTS idx_tags_path_line ON tags(source_path, json_extract(payload, '$.line'));
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_tags_path_line;
DROP INDEX IF EXISTS idx_tags_kind;

ALTER TABLE artifacts DROP COLUMN record_count;
`

// currentVersion returns the highest applied schema version, or 0.0.0
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// applied_at has one-second resolution, so compare versions instead
	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", v, err)
		}
		if parsed.GreaterThan(current) {
			current = parsed
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations, each in its own transaction
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if err := runMigration(ctx, db, migration.Up, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	// The 1.0.0 down script drops schema_version itself
	record := "DELETE FROM schema_version WHERE version = ?"
	if migration.Version == AllMigrations[0].Version {
		record = ""
	}
	if err := runMigration(ctx, db, migration.Down, record, migration.Version); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	return nil
}

// runMigration executes a migration script and its bookkeeping statement atomically
func runMigration(ctx context.Context, db *sql.DB, script, record, version string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if record != "" {
		if _, err := tx.ExecContext(ctx, record, version); err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}
	}
	return tx.Commit()
}
