package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/apilookup-mcp/internal/storage"
)

func newTestScheduler(t *testing.T, store storage.Storage, cfg *Config) *Scheduler {
	return NewScheduler(newTestIngester(t, store), cfg)
}

func TestNewScheduler_Defaults(t *testing.T) {
	store := setupTestStorage(t)

	s := newTestScheduler(t, store, nil)
	assert.Equal(t, DefaultExtension, s.Extension())
	assert.Greater(t, s.config.Workers, 0)

	s = newTestScheduler(t, store, &Config{Extension: "json"})
	assert.Equal(t, ".json", s.Extension())
}

func TestSyncDirectory_SkipsUnchanged(t *testing.T) {
	store := setupTestStorage(t)
	s := newTestScheduler(t, store, &Config{Workers: 2})
	ctx := context.Background()
	dir := t.TempDir()

	writeArtifact(t, dir, "a.ctags", tagLine("alpha", "function", "/src/a/x.c", 1))
	writeArtifact(t, dir, "b.ctags", tagLine("beta", "function", "/src/b/y.c", 1), tagLine("gamma", "macro", "/src/b/y.c", 2))
	writeArtifact(t, dir, "notes.txt", "ignored")

	report, err := s.SyncDirectory(ctx, dir)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"a", "b"}, report.Reindexed)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, 3, report.UniqueNames)
	assert.Equal(t, 2, report.Reports["b"].ProcessedLines)

	generation := store.Generation()

	second, err := s.SyncDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, second.Reindexed)
	assert.Equal(t, []string{"a", "b"}, second.Skipped)
	assert.Equal(t, 3, second.TotalRecords)
	assert.NotEqual(t, report.RunID, second.RunID)

	// Nothing was written on the second run
	assert.Equal(t, generation, store.Generation())
}

func TestSyncDirectory_ReindexesChanged(t *testing.T) {
	store := setupTestStorage(t)
	s := newTestScheduler(t, store, nil)
	ctx := context.Background()
	dir := t.TempDir()

	writeArtifact(t, dir, "a.ctags", tagLine("alpha", "function", "/src/a/x.c", 1))
	writeArtifact(t, dir, "b.ctags", tagLine("beta", "function", "/src/b/y.c", 1))
	_, err := s.SyncDirectory(ctx, dir)
	require.NoError(t, err)

	writeArtifact(t, dir, "b.ctags", tagLine("beta2", "function", "/src/b/y.c", 1))
	report, err := s.SyncDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, report.Reindexed)
	assert.Equal(t, []string{"a"}, report.Skipped)

	tags, err := store.LookupByName(ctx, "beta")
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestSyncDirectory_MissingAndEmpty(t *testing.T) {
	store := setupTestStorage(t)
	s := newTestScheduler(t, store, nil)
	ctx := context.Background()

	_, err := s.SyncDirectory(ctx, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	report, err := s.SyncDirectory(ctx, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, report.Reindexed)
	assert.Empty(t, report.Skipped)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 0, report.TotalRecords)
}

func TestSyncDirectory_FailureDoesNotStopOthers(t *testing.T) {
	store := setupTestStorage(t)
	s := newTestScheduler(t, store, nil)
	ctx := context.Background()
	dir := t.TempDir()

	writeArtifact(t, dir, "good.ctags", tagLine("ok", "function", "/src/good/a.c", 1))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.ctags"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), filepath.Join(dir, "bad.ctags")))

	report, err := s.SyncDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, report.Reindexed)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed, "bad")
	assert.NotContains(t, report.Failed, "sub", "directories are not artifacts")

	// A file that vanishes between listing and reading is reported, not fatal
	_, err = s.SyncArtifact(ctx, filepath.Join(dir, "ghost.ctags"), nil)
	assert.Error(t, err)
}

func TestSyncDirectory_PruneMissing(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeArtifact(t, dir, "keep.ctags", tagLine("kept", "function", "/src/keep/a.c", 1))
	gone := writeArtifact(t, dir, "gone.ctags", tagLine("dropped", "function", "/src/gone/a.c", 1))

	keep := newTestScheduler(t, store, nil)
	_, err := keep.SyncDirectory(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	// Without pruning the withdrawn artifact stays queryable
	report, err := keep.SyncDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
	assert.Equal(t, 2, report.TotalRecords)

	prune := newTestScheduler(t, store, &Config{PruneMissing: true})
	report, err = prune.SyncDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, report.Removed)
	assert.Equal(t, 1, report.TotalRecords)

	_, err = store.GetArtifact(ctx, "gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, store.CheckShadowIndex(ctx))
}

func TestSyncDirectory_StorageErrorAborts(t *testing.T) {
	store := setupTestStorage(t)
	s := newTestScheduler(t, store, nil)
	dir := t.TempDir()
	writeArtifact(t, dir, "a.ctags", tagLine("alpha", "function", "/src/a/x.c", 1))

	require.NoError(t, store.Close())

	_, err := s.SyncDirectory(context.Background(), dir)
	require.Error(t, err)
	var se *storage.StorageError
	assert.ErrorAs(t, err, &se)
}

func TestSyncDirectory_Concurrent(t *testing.T) {
	store := setupTestStorage(t)
	s := newTestScheduler(t, store, nil)
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{"a", "b", "c"} {
		writeArtifact(t, dir, name+".ctags", tagLine(name+"_fn", "function", "/src/"+name+"/x.c", 1))
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.SyncDirectory(ctx, dir)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, store.CheckShadowIndex(ctx))
}

func TestSyncArtifact_CollisionSupersedes(t *testing.T) {
	store := setupTestStorage(t)
	s := newTestScheduler(t, store, nil)
	ctx := context.Background()

	first := writeArtifact(t, t.TempDir(), "proj.ctags",
		tagLine("old_one", "function", "/checkout1/proj/a.c", 1),
		tagLine("old_two", "function", "/checkout1/proj/b.c", 1),
	)
	second := writeArtifact(t, t.TempDir(), "proj.ctags",
		tagLine("new_one", "function", "/checkout2/proj/a.c", 1),
	)

	result, err := s.SyncArtifact(ctx, first, nil)
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	result, err = s.SyncArtifact(ctx, second, nil)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, "proj", result.Artifact)

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, total, err := store.SearchText(ctx, "old_one OR old_two", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	// Same bytes again are skipped
	result, err = s.SyncArtifact(ctx, second, nil)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Nil(t, result.Report)
}

type syncOutcome struct {
	report *SyncReport
	err    error
}

func TestSyncDirectory_KeepsConcurrentFilteredIngest(t *testing.T) {
	store := setupTestStorage(t)
	gated := newGatedStorage(t, store)
	s := newTestScheduler(t, gated, nil)
	ctx := context.Background()
	dir := t.TempDir()

	path := writeArtifact(t, dir, "proj.ctags",
		tagLine("main", "function", "/work/proj/app.c", 1),
		tagLine("vendored", "function", "/work/proj/venv/lib/site.c", 1),
	)

	// The directory sync reads "not indexed yet" and stalls there
	done := make(chan syncOutcome, 1)
	go func() {
		report, err := s.SyncDirectory(ctx, dir)
		done <- syncOutcome{report, err}
	}()
	<-gated.entered

	result, err := s.SyncArtifact(ctx, path, ignore.CompileIgnoreLines("venv/"))
	require.NoError(t, err)
	require.NotNil(t, result.Report)
	assert.Equal(t, 1, result.Report.Excluded)

	gated.open()
	out := <-done
	require.NoError(t, out.err)
	assert.Empty(t, out.report.Reindexed)
	assert.Equal(t, []string{"proj"}, out.report.Skipped)

	tags, err := store.LookupByName(ctx, "vendored")
	require.NoError(t, err)
	assert.Empty(t, tags, "unfiltered sync must not overwrite the filtered ingest")

	tags, err = store.LookupByName(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestSyncDirectory_CancelledCallerDoesNotAbortOthers(t *testing.T) {
	store := setupTestStorage(t)
	gated := newGatedStorage(t, store)
	s := newTestScheduler(t, gated, nil)
	dir := t.TempDir()
	writeArtifact(t, dir, "a.ctags", tagLine("alpha", "function", "/src/a/x.c", 1))

	cancelCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.SyncDirectory(cancelCtx, dir)
		first <- err
	}()
	<-gated.entered

	second := make(chan syncOutcome, 1)
	go func() {
		report, err := s.SyncDirectory(context.Background(), dir)
		second <- syncOutcome{report, err}
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	// Give the second caller time to join the in-flight run
	time.Sleep(50 * time.Millisecond)
	gated.open()

	out := <-second
	require.NoError(t, out.err)
	require.NotNil(t, out.report)

	count, err := store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
