package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/apilookup-mcp/internal/storage"
)

func setupTestStorage(t *testing.T) *storage.SQLiteStorage {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestIngester(t *testing.T, store storage.Storage) *Ingester {
	return NewIngester(store, WithLogger(zaptest.NewLogger(t)))
}

// tagLine renders one ctags JSON tag line
func tagLine(name, kind, path string, line int) string {
	return fmt.Sprintf(`{"_type": "tag", "name": %q, "path": %q, "pattern": "/^x$/", "line": %d, "kind": %q}`,
		name, path, line, kind)
}

func writeArtifact(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// gatedStorage holds the result of the first GetDigest call until open is
// called, so a test can interleave other work between a digest read and
// the ingest decision that follows it.
type gatedStorage struct {
	storage.Storage
	first    sync.Once
	release  sync.Once
	entered  chan struct{}
	released chan struct{}
}

func newGatedStorage(t *testing.T, inner storage.Storage) *gatedStorage {
	g := &gatedStorage{
		Storage:  inner,
		entered:  make(chan struct{}),
		released: make(chan struct{}),
	}
	t.Cleanup(g.open)
	return g
}

func (g *gatedStorage) GetDigest(ctx context.Context, name string) (storage.Digest, error) {
	d, err := g.Storage.GetDigest(ctx, name)
	g.first.Do(func() {
		close(g.entered)
		<-g.released
	})
	return d, err
}

func (g *gatedStorage) open() {
	g.release.Do(func() { close(g.released) })
}
