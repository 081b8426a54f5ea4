package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/apilookup-mcp/internal/metrics"
	"github.com/dshills/apilookup-mcp/internal/storage"
	"github.com/dshills/apilookup-mcp/pkg/types"
)

func setupTestStorage(t *testing.T) *storage.SQLiteStorage {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(name, kind, path string, line int) storage.TagRecord {
	payload := fmt.Sprintf(`{"_type":"tag","name":%q,"path":%q,"line":%d,"kind":%q,"typeref":"typename:double"}`,
		name, path, line, kind)
	return storage.TagRecord{SourcePath: path, Payload: payload}
}

func index(t *testing.T, store storage.Storage, artifact string, records ...storage.TagRecord) {
	t.Helper()
	digest := storage.Digest(sha256.Sum256([]byte(fmt.Sprint(artifact, len(records), records))))
	require.NoError(t, store.ReplaceArtifact(context.Background(), artifact, records, digest))
}

func TestLookupExact(t *testing.T) {
	store := setupTestStorage(t)
	index(t, store, "math",
		record("sqrt", "function", "math/sqrt.c", 10),
		record("sqrt", "prototype", "math/math.h", 3),
		record("sqrtf", "function", "math/sqrtf.c", 1),
	)
	s := NewSearcher(store)
	ctx := context.Background()

	matches, err := s.LookupExact(ctx, "sqrt")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "double", matches[0].ReturnType)
	assert.Equal(t, "math/sqrt.c", matches[0].Path)
	assert.Equal(t, "math", matches[0].Artifact)
	assert.Positive(t, matches[0].ID)

	// Exact and case-sensitive
	matches, err = s.LookupExact(ctx, "Sqrt")
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.NotNil(t, matches)
}

func TestLookupExact_CacheInvalidatedByWrite(t *testing.T) {
	store := setupTestStorage(t)
	reg := prometheus.NewRegistry()
	s := NewSearcher(store, WithCacheSize(8), WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	index(t, store, "math", record("sqrt", "function", "math/sqrt.c", 1))

	first, err := s.LookupExact(ctx, "sqrt")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Mutating a returned slice must not leak into the cache
	first[0].Name = "changed"
	again, err := s.LookupExact(ctx, "sqrt")
	require.NoError(t, err)
	assert.Equal(t, "sqrt", again[0].Name)

	index(t, store, "math", record("cbrt", "function", "math/cbrt.c", 1))

	after, err := s.LookupExact(ctx, "sqrt")
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestSearchFullText(t *testing.T) {
	store := setupTestStorage(t)
	index(t, store, "net",
		record("socket_open", "function", "net/socket.c", 1),
		record("socket_close", "function", "net/socket.c", 20),
		record("resolve_host", "function", "net/dns.c", 5),
	)
	s := NewSearcher(store)
	ctx := context.Background()

	page, err := s.SearchFullText(ctx, "socket_open", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "socket_open", page.Items[0].Name)

	// Prefix query
	page, err = s.SearchFullText(ctx, "socket*", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)

	// limit 0 still reports the total
	page, err = s.SearchFullText(ctx, "socket*", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	assert.Empty(t, page.Items)

	// Zero matches is not an error
	page, err = s.SearchFullText(ctx, "nonexistent", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)
	assert.Empty(t, page.Items)
}

func TestSearchFullText_InvalidInput(t *testing.T) {
	store := setupTestStorage(t)
	index(t, store, "net", record("socket_open", "function", "net/socket.c", 1))
	s := NewSearcher(store)
	ctx := context.Background()

	_, err := s.SearchFullText(ctx, "   ", 0, 10)
	assert.ErrorIs(t, err, types.ErrInvalidQuery)

	_, err = s.SearchFullText(ctx, `"unbalanced`, 0, 10)
	assert.ErrorIs(t, err, types.ErrInvalidQuery)

	_, err = s.SearchFullText(ctx, "socket", -1, 10)
	assert.ErrorIs(t, err, types.ErrInvalidPage)

	_, err = s.SearchFullText(ctx, "socket", 0, -5)
	assert.ErrorIs(t, err, types.ErrInvalidPage)
}

func TestListFunctionsInFile_MathScenario(t *testing.T) {
	store := setupTestStorage(t)
	index(t, store, "math",
		record("fabs", "function", "math.h", 50),
		record("sqrt", "function", "math.h", 10),
		record("pow", "function", "math.h", 30),
		record("floor", "function", "math.h", 40),
		record("ceil", "function", "math.h", 20),
	)
	s := NewSearcher(store)
	ctx := context.Background()

	page, err := s.ListFunctionsInFile(ctx, "math.h", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, []string{"sqrt", "ceil"}, page.Items)
	assert.True(t, page.HasMore())

	page, err = s.ListFunctionsInFile(ctx, "math.h", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, []string{"pow", "floor", "fabs"}, page.Items)
	assert.False(t, page.HasMore())
}

func TestListFunctionsInFile_KindFilter(t *testing.T) {
	store := setupTestStorage(t)
	index(t, store, "lib",
		record("init", "function", "lib/lib.c", 1),
		record("init", "prototype", "lib/lib.c", 2),
		record("MAX", "macro", "lib/lib.c", 3),
		record("state", "variable", "lib/lib.c", 4),
	)
	s := NewSearcher(store)

	page, err := s.ListFunctionsInFile(context.Background(), "lib/lib.c", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, []string{"init", "init"}, page.Items)
}

func TestListFilesForArtifact(t *testing.T) {
	store := setupTestStorage(t)
	index(t, store, "proj",
		record("c", "function", "proj/c.c", 1),
		record("a", "function", "proj/a.c", 1),
		record("a2", "function", "proj/a.c", 2),
		record("nopath", "macro", "", 1),
	)
	index(t, store, "other", record("z", "function", "other/z.c", 1))
	s := NewSearcher(store)

	page, err := s.ListFilesForArtifact(context.Background(), "proj", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, []string{"proj/a.c", "proj/c.c"}, page.Items)

	_, err = s.ListFilesForArtifact(context.Background(), "proj", -1, 100)
	assert.ErrorIs(t, err, types.ErrInvalidPage)
}

func TestPaginationInvariants(t *testing.T) {
	store := setupTestStorage(t)
	records := make([]storage.TagRecord, 0, 23)
	for i := 0; i < 23; i++ {
		records = append(records, record(fmt.Sprintf("handler_%02d", i), "function", fmt.Sprintf("svc/file_%02d.c", i%11), i))
	}
	index(t, store, "svc", records...)
	s := NewSearcher(store)
	ctx := context.Background()

	for _, limit := range []int{1, 4, 7, 23, 50} {
		t.Run(fmt.Sprintf("search limit %d", limit), func(t *testing.T) {
			seen := make(map[int64]bool)
			total := -1
			for offset := 0; ; offset += limit {
				page, err := s.SearchFullText(ctx, "svc", offset, limit)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(page.Items), limit)
				total = page.TotalCount
				for _, m := range page.Items {
					assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
					seen[m.ID] = true
				}
				if len(page.Items) == 0 {
					break
				}
			}
			assert.Equal(t, 23, total)
			assert.Len(t, seen, total)
		})

		t.Run(fmt.Sprintf("files limit %d", limit), func(t *testing.T) {
			var all []string
			total := -1
			for offset := 0; ; offset += limit {
				page, err := s.ListFilesForArtifact(ctx, "svc", offset, limit)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(page.Items), limit)
				total = page.TotalCount
				if len(page.Items) == 0 {
					break
				}
				all = append(all, page.Items...)
			}
			assert.Equal(t, 11, total)
			assert.Len(t, all, total)
			assert.IsIncreasing(t, all)
		})
	}
}

func TestListArtifacts(t *testing.T) {
	store := setupTestStorage(t)
	index(t, store, "first", record("a", "function", "first/a.c", 1))
	index(t, store, "second", record("b", "function", "second/b.c", 1), record("c", "function", "second/c.c", 1))
	s := NewSearcher(store)

	infos, err := s.ListArtifacts(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "first", infos[0].Name)
	assert.Equal(t, "second", infos[1].Name)
	assert.Equal(t, 2, infos[1].RecordCount)
	assert.Len(t, infos[0].Digest, 64)
}
