package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcher_DebouncesArtifactChanges(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32

	w, err := New(dir, func(context.Context) error {
		calls.Add(1)
		return nil
	}, Options{Extension: ".ctags", Debounce: 100 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// A burst of writes produces one sync
	path := filepath.Join(dir, "math.ctags")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	// Non-artifact files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), func(context.Context) error { return nil }, Options{})
	assert.Error(t, err)
}

func TestRelevant(t *testing.T) {
	w := &Watcher{extension: ".ctags"}
	assert.True(t, w.relevant(fsnotify.Event{Name: "/a/math.ctags", Op: fsnotify.Write}))
	assert.True(t, w.relevant(fsnotify.Event{Name: "/a/math.ctags", Op: fsnotify.Remove}))
	assert.False(t, w.relevant(fsnotify.Event{Name: "/a/math.ctags", Op: fsnotify.Chmod}))
	assert.False(t, w.relevant(fsnotify.Event{Name: "/a/math.txt", Op: fsnotify.Create}))

	all := &Watcher{}
	assert.True(t, all.relevant(fsnotify.Event{Name: "/a/anything", Op: fsnotify.Create}))
}
