// Package indexer keeps the tag index in line with a directory of ctags
// JSON artifacts.
//
// # Pipeline
//
//  1. Discovery: list *.ctags files in the artifacts directory (not recursive)
//  2. Change detection: SHA-256 each artifact concurrently and compare it
//     with the stored digest; unchanged artifacts are skipped
//  3. Ingestion: stream the artifact line by line into one transaction that
//     clears the old records, inserts the new ones and stores the digest
//  4. Pruning (optional): withdraw registry entries whose file is gone
//
// # Basic Usage
//
//	ing := indexer.NewIngester(store, indexer.WithLogger(log))
//	sched := indexer.NewScheduler(ing, &indexer.Config{PruneMissing: true})
//
//	report, err := sched.SyncDirectory(ctx, "apis")
//	fmt.Printf("reindexed %d, skipped %d\n", len(report.Reindexed), len(report.Skipped))
//
// # Failure Handling
//
// Malformed lines become ParseErrors and are skipped. An artifact that can't
// be opened or read keeps its previous records and is listed in
// SyncReport.Failed. A *storage.StorageError aborts the sync.
package indexer
