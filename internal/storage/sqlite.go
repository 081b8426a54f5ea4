package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery is returned when FTS5 rejects a match expression
	ErrInvalidQuery = errors.New("invalid full-text query")
)

// StorageError wraps a failure of the underlying storage engine.
// It is fatal to the operation and is never retried here.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrapErr converts engine errors into *StorageError, leaving sentinels alone
func wrapErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidQuery) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	generation atomic.Uint64
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Generation returns the number of committed writes since open
func (s *SQLiteStorage) Generation() uint64 {
	return s.generation.Load()
}

// BeginTx starts a new write transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin", err)
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return wrapErr("commit", err)
	}
	t.storage.generation.Add(1)
	return nil
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) DeleteArtifact(ctx context.Context, name string) (int, error) {
	n, err := t.storage.deleteArtifactWithQuerier(ctx, t.tx, name)
	return n, wrapErr("delete artifact", err)
}

func (t *sqliteTx) InsertTag(ctx context.Context, record *TagRecord) error {
	return wrapErr("insert tag", t.storage.insertTagWithQuerier(ctx, t.tx, record))
}

func (t *sqliteTx) SetDigest(ctx context.Context, name string, digest Digest, recordCount int) error {
	return wrapErr("set digest", t.storage.setDigestWithQuerier(ctx, t.tx, name, digest, recordCount))
}

func (t *sqliteTx) GetDigest(ctx context.Context, name string) (Digest, error) {
	d, err := t.storage.getDigestWithQuerier(ctx, t.tx, name)
	return d, wrapErr("get digest", err)
}

// withTx runs fn inside a transaction and commits it. Writes bump the generation.
func (s *SQLiteStorage) withTx(ctx context.Context, write bool, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if write {
		s.generation.Add(1)
	}
	return nil
}

// Artifact registry operations

// getArtifactWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getArtifactWithQuerier(ctx context.Context, q querier, name string) (*Artifact, error) {
	query := `
		SELECT id, name, digest, record_count, indexed_at
		FROM artifacts
		WHERE name = ?
	`
	var artifact Artifact
	var digest []byte
	err := q.QueryRowContext(ctx, query, name).Scan(
		&artifact.ID, &artifact.Name, &digest, &artifact.RecordCount, &artifact.IndexedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(artifact.Digest[:], digest)
	return &artifact, nil
}

func (s *SQLiteStorage) GetArtifact(ctx context.Context, name string) (*Artifact, error) {
	a, err := s.getArtifactWithQuerier(ctx, s.db, name)
	return a, wrapErr("get artifact", err)
}

// getDigestWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getDigestWithQuerier(ctx context.Context, q querier, name string) (Digest, error) {
	var digest Digest
	var raw []byte
	err := q.QueryRowContext(ctx, `SELECT digest FROM artifacts WHERE name = ?`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return digest, ErrNotFound
	}
	if err != nil {
		return digest, err
	}
	copy(digest[:], raw)
	return digest, nil
}

func (s *SQLiteStorage) GetDigest(ctx context.Context, name string) (Digest, error) {
	d, err := s.getDigestWithQuerier(ctx, s.db, name)
	return d, wrapErr("get digest", err)
}

// setDigestWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) setDigestWithQuerier(ctx context.Context, q querier, name string, digest Digest, recordCount int) error {
	query := `
		INSERT INTO artifacts (name, digest, record_count, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			digest = excluded.digest,
			record_count = excluded.record_count,
			indexed_at = excluded.indexed_at
	`
	_, err := q.ExecContext(ctx, query, name, digest[:], recordCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set digest: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SetDigest(ctx context.Context, name string, digest Digest, recordCount int) error {
	err := s.withTx(ctx, true, func(q querier) error {
		return s.setDigestWithQuerier(ctx, q, name, digest, recordCount)
	})
	return wrapErr("set digest", err)
}

func (s *SQLiteStorage) ListArtifacts(ctx context.Context) ([]*Artifact, error) {
	query := `
		SELECT id, name, digest, record_count, indexed_at
		FROM artifacts
		ORDER BY indexed_at, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("list artifacts", err)
	}
	defer func() { _ = rows.Close() }()

	artifacts := make([]*Artifact, 0)
	for rows.Next() {
		var artifact Artifact
		var digest []byte
		if err := rows.Scan(&artifact.ID, &artifact.Name, &digest, &artifact.RecordCount, &artifact.IndexedAt); err != nil {
			return nil, wrapErr("list artifacts", err)
		}
		copy(artifact.Digest[:], digest)
		artifacts = append(artifacts, &artifact)
	}
	return artifacts, wrapErr("list artifacts", rows.Err())
}

// Record operations

// deleteArtifactWithQuerier removes an artifact's records and its registry entry
func (s *SQLiteStorage) deleteArtifactWithQuerier(ctx context.Context, q querier, name string) (int, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM tags WHERE artifact = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tags: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM artifacts WHERE name = ?`, name); err != nil {
		return 0, fmt.Errorf("failed to delete artifact: %w", err)
	}
	return int(deleted), nil
}

// insertTagWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertTagWithQuerier(ctx context.Context, q querier, record *TagRecord) error {
	query := `
		INSERT INTO tags (artifact, source_path, payload, created_at)
		VALUES (?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query, record.Artifact, record.SourcePath, record.Payload, now)
	if err != nil {
		return fmt.Errorf("failed to insert tag: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = id
	record.CreatedAt = now
	return nil
}

// ReplaceArtifact atomically swaps an artifact's records and digest
func (s *SQLiteStorage) ReplaceArtifact(ctx context.Context, name string, records []TagRecord, digest Digest) error {
	err := s.withTx(ctx, true, func(q querier) error {
		if _, err := s.deleteArtifactWithQuerier(ctx, q, name); err != nil {
			return err
		}
		for i := range records {
			records[i].Artifact = name
			if err := s.insertTagWithQuerier(ctx, q, &records[i]); err != nil {
				return err
			}
		}
		return s.setDigestWithQuerier(ctx, q, name, digest, len(records))
	})
	return wrapErr("replace artifact", err)
}

// RemoveArtifact withdraws an artifact and all of its records
func (s *SQLiteStorage) RemoveArtifact(ctx context.Context, name string) error {
	err := s.withTx(ctx, true, func(q querier) error {
		_, err := s.deleteArtifactWithQuerier(ctx, q, name)
		return err
	})
	return wrapErr("remove artifact", err)
}

func (s *SQLiteStorage) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&count)
	return count, wrapErr("count records", err)
}

func (s *SQLiteStorage) CountDistinctNames(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT json_extract(payload, '$.name')) FROM tags`).Scan(&count)
	return count, wrapErr("count names", err)
}

// Query operations

// tagColumns projects the commonly used payload fields of alias t
const tagColumns = `
	t.id, t.artifact, COALESCE(t.source_path, ''),
	COALESCE(json_extract(t.payload, '$.name'), ''),
	COALESCE(json_extract(t.payload, '$.kind'), ''),
	CAST(COALESCE(json_extract(t.payload, '$.line'), 0) AS INTEGER),
	COALESCE(json_extract(t.payload, '$.signature'), ''),
	COALESCE(json_extract(t.payload, '$.typeref'), ''),
	COALESCE(json_extract(t.payload, '$.scope'), ''),
	t.payload`

// collectTags scans rows selected with tagColumns
func collectTags(rows *sql.Rows) ([]*Tag, error) {
	defer func() { _ = rows.Close() }()

	tags := make([]*Tag, 0)
	for rows.Next() {
		var tag Tag
		err := rows.Scan(
			&tag.ID, &tag.Artifact, &tag.SourcePath,
			&tag.Name, &tag.Kind, &tag.Line,
			&tag.Signature, &tag.TypeRef, &tag.Scope,
			&tag.Payload,
		)
		if err != nil {
			return nil, err
		}
		tags = append(tags, &tag)
	}
	return tags, rows.Err()
}

func (s *SQLiteStorage) LookupByName(ctx context.Context, name string) ([]*Tag, error) {
	query := `SELECT ` + tagColumns + `
		FROM tags t
		WHERE json_extract(t.payload, '$.name') = ?
		ORDER BY t.id
	`
	rows, err := s.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, wrapErr("lookup", err)
	}
	tags, err := collectTags(rows)
	return tags, wrapErr("lookup", err)
}

// SearchText runs an FTS5 match expression and returns one page plus the total match count.
// Note: 'rank' is the FTS5 BM25 column; lower values are better matches.
func (s *SQLiteStorage) SearchText(ctx context.Context, query string, offset, limit int) ([]*Tag, int, error) {
	offset, limit = clampPage(offset, limit)

	var tags []*Tag
	var total int
	err := s.withTx(ctx, false, func(q querier) error {
		err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags_fts WHERE tags_fts MATCH ?`, query).Scan(&total)
		if err != nil {
			return err
		}

		sqlQuery := `SELECT ` + tagColumns + `
			FROM (
				SELECT rowid AS id, rank AS score
				FROM tags_fts
				WHERE tags_fts MATCH ?
			) m
			JOIN tags t ON t.id = m.id
			ORDER BY m.score, t.id
			LIMIT ? OFFSET ?
		`
		rows, err := q.QueryContext(ctx, sqlQuery, query, limit, offset)
		if err != nil {
			return err
		}
		tags, err = collectTags(rows)
		return err
	})
	if err != nil && isFTSQueryError(err) {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return tags, total, wrapErr("search text", err)
}

func (s *SQLiteStorage) ListSourcePaths(ctx context.Context, artifact string, offset, limit int) ([]string, int, error) {
	offset, limit = clampPage(offset, limit)

	var paths []string
	var total int
	err := s.withTx(ctx, false, func(q querier) error {
		err := q.QueryRowContext(ctx, `
			SELECT COUNT(DISTINCT source_path)
			FROM tags
			WHERE artifact = ? AND source_path IS NOT NULL AND source_path != ''
		`, artifact).Scan(&total)
		if err != nil {
			return err
		}

		rows, err := q.QueryContext(ctx, `
			SELECT DISTINCT source_path
			FROM tags
			WHERE artifact = ? AND source_path IS NOT NULL AND source_path != ''
			ORDER BY source_path
			LIMIT ? OFFSET ?
		`, artifact, limit, offset)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		paths = make([]string, 0)
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				return err
			}
			paths = append(paths, p)
		}
		return rows.Err()
	})
	return paths, total, wrapErr("list source paths", err)
}

func (s *SQLiteStorage) ListFunctions(ctx context.Context, sourcePath string, kinds []string, offset, limit int) ([]*Tag, int, error) {
	offset, limit = clampPage(offset, limit)
	if len(kinds) == 0 {
		return []*Tag{}, 0, nil
	}

	// Build parameterized IN clause
	placeholders := make([]string, len(kinds))
	args := make([]interface{}, 0, len(kinds)+3)
	args = append(args, sourcePath)
	for i, kind := range kinds {
		placeholders[i] = "?"
		args = append(args, kind)
	}
	where := `WHERE t.source_path = ? AND json_extract(t.payload, '$.kind') IN (` + strings.Join(placeholders, ",") + `)`

	var tags []*Tag
	var total int
	err := s.withTx(ctx, false, func(q querier) error {
		err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags t `+where, args...).Scan(&total)
		if err != nil {
			return err
		}

		sqlQuery := `SELECT ` + tagColumns + ` FROM tags t ` + where + `
			ORDER BY json_extract(t.payload, '$.line'), t.id
			LIMIT ? OFFSET ?
		`
		rows, err := q.QueryContext(ctx, sqlQuery, append(args, limit, offset)...)
		if err != nil {
			return err
		}
		tags, err = collectTags(rows)
		return err
	})
	return tags, total, wrapErr("list functions", err)
}

// Status operations

// CheckShadowIndex verifies that tags_fts matches the tags table exactly
func (s *SQLiteStorage) CheckShadowIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tags_fts(tags_fts, rank) VALUES ('integrity-check', 1)`)
	return wrapErr("check shadow index", err)
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		Health: HealthStatus{DatabaseAccessible: true},
	}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artifacts").Scan(&status.ArtifactsCount)
	if err != nil {
		return nil, wrapErr("status", err)
	}

	if status.RecordsCount, err = s.CountRecords(ctx); err != nil {
		return nil, err
	}
	if status.UniqueNames, err = s.CountDistinctNames(ctx); err != nil {
		return nil, err
	}

	version, err := currentVersion(ctx, s.db)
	if err != nil {
		return nil, wrapErr("status", err)
	}
	status.SchemaVersion = version.String()

	var lastIndexed time.Time
	err = s.db.QueryRowContext(ctx, "SELECT indexed_at FROM artifacts ORDER BY indexed_at DESC, id DESC LIMIT 1").Scan(&lastIndexed)
	if err != nil && err != sql.ErrNoRows {
		return nil, wrapErr("status", err)
	}
	status.LastIndexedAt = lastIndexed

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health.ShadowIndexInSync = s.CheckShadowIndex(ctx) == nil

	return status, nil
}

// clampPage guards against negative paging values reaching SQL,
// where a negative LIMIT means "no limit"
func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	return offset, limit
}

// isFTSQueryError reports whether err came from FTS5 parsing the match expression
func isFTSQueryError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5:") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "unknown special query") ||
		strings.Contains(msg, "unterminated string")
}
