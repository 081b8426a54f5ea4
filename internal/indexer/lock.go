package indexer

import (
	"sync"
	"sync/atomic"
)

// IndexLock provides non-blocking lock semantics using atomic operations.
// It guards whole generate-and-index runs; callers that lose the race
// report "indexing in progress" instead of queueing.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// artifactLocks serializes ingestion per artifact name.
// Entries are dropped once no goroutine holds or waits on them.
type artifactLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newArtifactLocks() *artifactLocks {
	return &artifactLocks{locks: make(map[string]*refMutex)}
}

// lock blocks until name is free and returns the matching unlock func
func (l *artifactLocks) lock(name string) func() {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &refMutex{}
		l.locks[name] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

// size returns the number of live entries
func (l *artifactLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
