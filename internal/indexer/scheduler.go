package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/apilookup-mcp/internal/storage"
)

// DefaultExtension is the artifact file extension scanned by SyncDirectory
const DefaultExtension = ".ctags"

// Config contains configuration for the scheduler
type Config struct {
	Workers      int    // Concurrent digest workers (default: runtime.NumCPU())
	Extension    string // Artifact extension including the dot (default: ".ctags")
	PruneMissing bool   // Withdraw registry entries whose artifact file is gone
}

// SyncReport summarizes a directory sync
type SyncReport struct {
	RunID        string
	Reindexed    []string
	Skipped      []string
	Removed      []string
	Failed       map[string]string
	Reports      map[string]*IngestReport
	TotalRecords int
	UniqueNames  int
	Duration     time.Duration
}

// ArtifactResult is the outcome of syncing a single artifact
type ArtifactResult struct {
	Artifact string
	Skipped  bool
	Report   *IngestReport // nil when skipped
}

// Scheduler decides which artifacts need re-ingestion by comparing digests
type Scheduler struct {
	ingester *Ingester
	storage  storage.Storage
	config   Config
	group    singleflight.Group
}

// NewScheduler creates a Scheduler using ing for ingestion
func NewScheduler(ing *Ingester, config *Config) *Scheduler {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	if !strings.HasPrefix(cfg.Extension, ".") {
		cfg.Extension = "." + cfg.Extension
	}

	return &Scheduler{
		ingester: ing,
		storage:  ing.storage,
		config:   cfg,
	}
}

// Extension returns the artifact extension the scheduler scans for
func (s *Scheduler) Extension() string {
	return s.config.Extension
}

// SyncDirectory brings the index in line with the artifacts in dir.
// Concurrent calls for the same directory share one run and one report,
// which callers must treat as read-only. The shared run is detached from
// any single caller's cancellation; a cancelled caller stops waiting and
// gets ctx.Err() while the others still receive the report.
func (s *Scheduler) SyncDirectory(ctx context.Context, dir string) (*SyncReport, error) {
	key := filepath.Clean(dir)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.syncDirectory(context.WithoutCancel(ctx), key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SyncReport), nil
	}
}

func (s *Scheduler) syncDirectory(ctx context.Context, dir string) (*SyncReport, error) {
	startTime := time.Now()
	log := s.ingester.logger
	report := &SyncReport{
		RunID:     uuid.NewString(),
		Reindexed: make([]string, 0),
		Skipped:   make([]string, 0),
		Removed:   make([]string, 0),
		Failed:    make(map[string]string),
		Reports:   make(map[string]*IngestReport),
	}

	files, err := s.discoverArtifacts(dir)
	if err != nil {
		return nil, err
	}

	digests, hashErrs, err := s.hashArtifacts(ctx, files)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(files))
	for i, path := range files {
		name := ArtifactName(path)
		present[name] = true

		if hashErrs[i] != nil {
			report.Failed[name] = hashErrs[i].Error()
			s.ingester.metrics.ArtifactOutcome("failed")
			log.Warn("failed to hash artifact", zap.String("artifact", name), zap.Error(hashErrs[i]))
			continue
		}

		result, err := s.syncArtifact(ctx, path, digests[i], nil)
		if err != nil {
			if isFatal(ctx, err) {
				return nil, fmt.Errorf("sync aborted at %s: %w", name, err)
			}
			report.Failed[name] = err.Error()
			s.ingester.metrics.ArtifactOutcome("failed")
			log.Warn("failed to index artifact", zap.String("artifact", name), zap.Error(err))
			continue
		}

		if result.Skipped {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		report.Reindexed = append(report.Reindexed, name)
		report.Reports[name] = result.Report
	}

	if s.config.PruneMissing {
		if err := s.pruneMissing(ctx, present, report); err != nil {
			return nil, err
		}
	}

	if report.TotalRecords, err = s.storage.CountRecords(ctx); err != nil {
		return nil, err
	}
	if report.UniqueNames, err = s.storage.CountDistinctNames(ctx); err != nil {
		return nil, err
	}

	report.Duration = time.Since(startTime)
	s.ingester.metrics.ObserveSync(report.TotalRecords, report.Duration)
	log.Info("sync complete",
		zap.String("run_id", report.RunID),
		zap.String("dir", dir),
		zap.Int("reindexed", len(report.Reindexed)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("removed", len(report.Removed)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("total_records", report.TotalRecords),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// SyncArtifact indexes a single artifact unless its digest is unchanged.
// exclude is applied to source paths when the artifact is re-ingested.
func (s *Scheduler) SyncArtifact(ctx context.Context, path string, exclude PathMatcher) (*ArtifactResult, error) {
	digest, err := Digest(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash artifact: %w", err)
	}
	return s.syncArtifact(ctx, path, digest, exclude)
}

func (s *Scheduler) syncArtifact(ctx context.Context, path string, digest storage.Digest, exclude PathMatcher) (*ArtifactResult, error) {
	name := ArtifactName(path)
	result := &ArtifactResult{Artifact: name}

	stored, err := s.storage.GetDigest(ctx, name)
	switch {
	case err == nil && stored == digest:
		result.Skipped = true
		s.ingester.metrics.ArtifactOutcome("skipped")
		s.ingester.logger.Info("artifact unchanged, skipping", zap.String("artifact", name))
		return result, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	// Another ingest may have committed since the digest was read above
	report, unchanged, err := s.ingester.IngestIfChanged(ctx, path, exclude)
	if err != nil {
		return nil, err
	}
	if unchanged {
		result.Skipped = true
		s.ingester.metrics.ArtifactOutcome("skipped")
		s.ingester.logger.Info("artifact indexed concurrently, skipping", zap.String("artifact", name))
		return result, nil
	}
	result.Report = report
	s.ingester.metrics.ArtifactOutcome("reindexed")
	return result, nil
}

// discoverArtifacts lists regular files in dir with the configured extension.
// The scan is not recursive.
func (s *Scheduler) discoverArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), s.config.Extension) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// hashArtifacts digests files concurrently, bounded by the worker limit.
// Per-file failures are returned positionally; only cancellation aborts.
func (s *Scheduler) hashArtifacts(ctx context.Context, files []string) ([]storage.Digest, []error, error) {
	digests := make([]storage.Digest, len(files))
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digests[i], errs[i] = Digest(path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return digests, errs, nil
}

// pruneMissing withdraws registered artifacts that are no longer on disk
func (s *Scheduler) pruneMissing(ctx context.Context, present map[string]bool, report *SyncReport) error {
	artifacts, err := s.storage.ListArtifacts(ctx)
	if err != nil {
		return err
	}

	for _, artifact := range artifacts {
		if present[artifact.Name] {
			continue
		}
		if err := s.storage.RemoveArtifact(ctx, artifact.Name); err != nil {
			return err
		}
		report.Removed = append(report.Removed, artifact.Name)
		s.ingester.metrics.ArtifactOutcome("removed")
		s.ingester.logger.Info("artifact withdrawn", zap.String("artifact", artifact.Name))
	}
	return nil
}

// isFatal reports whether err must abort the whole sync
func isFatal(ctx context.Context, err error) bool {
	var se *storage.StorageError
	if errors.As(err, &se) {
		return true
	}
	return ctx.Err() != nil
}
