// Package storage provides SQLite-based persistence for indexed ctags data.
//
// The storage layer manages:
//   - The artifact registry (name, content digest, record count)
//   - Tag records, one per ingested ctags JSON line
//   - The FTS5 shadow index over tag payloads
//
// # Database Schema
//
// Tables:
//   - artifacts: one row per indexed artifact file, keyed by name
//   - tags: raw JSON payload plus the relativized source path
//   - tags_fts: FTS5 external-content index over tags.payload
//   - schema_version: applied migrations
//
// tags_fts is maintained only by the tags_ai, tags_ad and tags_au triggers.
// A tag write and its shadow write therefore share the statement's
// transaction and commit or roll back together.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("ctags_index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	tags, err := db.LookupByName(ctx, "sqrt")
//
// # Transactions
//
// The ingestion pipeline streams records through a Tx so that the clear,
// the inserts and the digest update become visible at once:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if _, err := tx.DeleteArtifact(ctx, "math"); err != nil {
//	    return err
//	}
//	for _, rec := range records {
//	    if err := tx.InsertTag(ctx, rec); err != nil {
//	        return err
//	    }
//	}
//	if err := tx.SetDigest(ctx, "math", digest, len(records)); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Build Tags
//
// Pure Go build (default):
//
//	go build ./...
//
// CGO build with github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo sqlite_fts5" ./...
package storage
