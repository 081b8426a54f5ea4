package searcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/apilookup-mcp/internal/metrics"
	"github.com/dshills/apilookup-mcp/internal/storage"
	"github.com/dshills/apilookup-mcp/pkg/types"
)

// DefaultCacheSize is the number of exact-lookup results kept in memory
const DefaultCacheSize = 1024

// CallableKinds are the ctags kinds listed by ListFunctionsInFile
var CallableKinds = []string{"function", "prototype"}

// cacheKey ties a cached lookup to the store contents it was read from
type cacheKey struct {
	generation uint64
	name       string
}

// Searcher answers exact, full-text and enumeration queries over the index
type Searcher struct {
	storage storage.Storage
	cache   *lru.Cache[cacheKey, []types.TagMatch]
	metrics *metrics.Metrics
}

// Option configures a Searcher
type Option func(*searcherOptions)

type searcherOptions struct {
	cacheSize int
	metrics   *metrics.Metrics
}

// WithCacheSize sets the exact-lookup cache size
func WithCacheSize(n int) Option {
	return func(o *searcherOptions) { o.cacheSize = n }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *searcherOptions) { o.metrics = m }
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, opts ...Option) *Searcher {
	o := searcherOptions{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize <= 0 {
		o.cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[cacheKey, []types.TagMatch](o.cacheSize)
	if err != nil {
		// This should never happen with a positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage: store,
		cache:   cache,
		metrics: o.metrics,
	}
}

// LookupExact returns every record whose name equals name exactly.
// Results are cached until the next committed write to the store.
func (s *Searcher) LookupExact(ctx context.Context, name string) ([]types.TagMatch, error) {
	start := time.Now()
	key := cacheKey{generation: s.storage.Generation(), name: name}

	if cached, ok := s.cache.Get(key); ok {
		s.metrics.CacheResult(true)
		s.metrics.ObserveQuery("lookup", time.Since(start), nil)
		return slices.Clone(cached), nil
	}
	s.metrics.CacheResult(false)

	tags, err := s.storage.LookupByName(ctx, name)
	s.metrics.ObserveQuery("lookup", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}

	matches := toMatches(tags)
	s.cache.Add(key, matches)
	return slices.Clone(matches), nil
}

// SearchFullText runs query against the shadow text index.
// The query is an FTS5 match expression, passed through unchanged.
// Results are ordered by FTS5 rank, then record id.
func (s *Searcher) SearchFullText(ctx context.Context, query string, offset, limit int) (*types.Page[types.TagMatch], error) {
	if err := validatePage(offset, limit); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidQuery)
	}

	start := time.Now()
	tags, total, err := s.storage.SearchText(ctx, query, offset, limit)
	s.metrics.ObserveQuery("search", time.Since(start), err)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidQuery) {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)
		}
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}

	return &types.Page[types.TagMatch]{
		Items:      toMatches(tags),
		TotalCount: total,
		Offset:     offset,
		Limit:      limit,
	}, nil
}

// ListFilesForArtifact returns the distinct source paths of an artifact, sorted
func (s *Searcher) ListFilesForArtifact(ctx context.Context, artifact string, offset, limit int) (*types.Page[string], error) {
	if err := validatePage(offset, limit); err != nil {
		return nil, err
	}

	start := time.Now()
	paths, total, err := s.storage.ListSourcePaths(ctx, artifact, offset, limit)
	s.metrics.ObserveQuery("list_files", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return &types.Page[string]{
		Items:      paths,
		TotalCount: total,
		Offset:     offset,
		Limit:      limit,
	}, nil
}

// ListFunctionsInFile returns the names of callable records in path, by line
func (s *Searcher) ListFunctionsInFile(ctx context.Context, path string, offset, limit int) (*types.Page[string], error) {
	if err := validatePage(offset, limit); err != nil {
		return nil, err
	}

	start := time.Now()
	tags, total, err := s.storage.ListFunctions(ctx, path, CallableKinds, offset, limit)
	s.metrics.ObserveQuery("list_functions", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}

	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Name
	}
	return &types.Page[string]{
		Items:      names,
		TotalCount: total,
		Offset:     offset,
		Limit:      limit,
	}, nil
}

// ListArtifacts returns the indexed artifacts in indexing order
func (s *Searcher) ListArtifacts(ctx context.Context) ([]types.ArtifactInfo, error) {
	start := time.Now()
	artifacts, err := s.storage.ListArtifacts(ctx)
	s.metrics.ObserveQuery("list_artifacts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	infos := make([]types.ArtifactInfo, len(artifacts))
	for i, a := range artifacts {
		infos[i] = types.ArtifactInfo{
			Name:        a.Name,
			Digest:      a.Digest.String(),
			RecordCount: a.RecordCount,
			IndexedAt:   a.IndexedAt,
		}
	}
	return infos, nil
}

// validatePage rejects negative offsets and limits
func validatePage(offset, limit int) error {
	if offset < 0 || limit < 0 {
		return fmt.Errorf("%w: offset=%d limit=%d", types.ErrInvalidPage, offset, limit)
	}
	return nil
}

func toMatches(tags []*storage.Tag) []types.TagMatch {
	matches := make([]types.TagMatch, len(tags))
	for i, tag := range tags {
		matches[i] = types.TagMatch{
			ID:         tag.ID,
			Artifact:   tag.Artifact,
			Name:       tag.Name,
			Kind:       tag.Kind,
			Path:       tag.SourcePath,
			Line:       tag.Line,
			Signature:  tag.Signature,
			ReturnType: types.ReturnTypeFromTypeRef(tag.TypeRef),
			Scope:      tag.Scope,
			Payload:    tag.Payload,
		}
	}
	return matches
}
