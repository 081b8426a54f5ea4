package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dshills/apilookup-mcp/internal/logger"
	"github.com/dshills/apilookup-mcp/internal/metrics"
	"github.com/dshills/apilookup-mcp/internal/storage"
)

// tagType is the ctags JSON "_type" value that marks a tag record
const tagType = "tag"

// ctxCheckInterval is how many lines are read between cancellation checks
const ctxCheckInterval = 1024

// ParseError describes an artifact line that could not be decoded.
// Parse errors are absorbed: the line is skipped and ingestion continues.
type ParseError struct {
	Artifact string
	Line     int
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Artifact, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IngestReport summarizes one artifact ingestion.
// TotalLines == ProcessedLines + SkippedLines + Excluded + len(ParseErrors).
type IngestReport struct {
	Artifact       string
	TotalLines     int // non-blank lines
	ProcessedLines int // tag records written
	SkippedLines   int // valid JSON that is not a tag record
	Excluded       int // tag records dropped by the path filter
	ParseErrors    []ParseError
	Digest         storage.Digest
	Duration       time.Duration
}

// PathMatcher decides whether a source path is excluded from the index.
// *ignore.GitIgnore from github.com/sabhiram/go-gitignore satisfies it.
type PathMatcher interface {
	MatchesPath(path string) bool
}

// Ingester streams a ctags JSON artifact into storage
type Ingester struct {
	storage storage.Storage
	logger  *zap.Logger
	metrics *metrics.Metrics
	locks   *artifactLocks
}

// IngesterOption configures an Ingester
type IngesterOption func(*Ingester)

// WithLogger sets the logger used for parse warnings and summaries
func WithLogger(l *zap.Logger) IngesterOption {
	return func(ing *Ingester) { ing.logger = logger.OrNop(l) }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) IngesterOption {
	return func(ing *Ingester) { ing.metrics = m }
}

// NewIngester creates an Ingester writing to store
func NewIngester(store storage.Storage, opts ...IngesterOption) *Ingester {
	ing := &Ingester{
		storage: store,
		logger:  zap.NewNop(),
		locks:   newArtifactLocks(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// ArtifactName derives the artifact identity from its file name, without extension
func ArtifactName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RelativizePath trims everything before the first path segment equal to
// artifact, so "/home/u/src/math/sqrt.c" becomes "math/sqrt.c" for artifact
// "math". Paths without that segment are returned unchanged.
func RelativizePath(path, artifact string) string {
	if path == "" || artifact == "" {
		return path
	}
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if part == artifact {
			return strings.Join(parts[i:], "/")
		}
	}
	return path
}

// Ingest replaces the records of the artifact at path with its current contents
func (ing *Ingester) Ingest(ctx context.Context, path string) (*IngestReport, error) {
	return ing.IngestFiltered(ctx, path, nil)
}

// IngestFiltered is Ingest with an optional path filter; tag records whose
// relativized source path matches exclude are dropped.
//
// The delete of prior records, the inserts and the digest update share one
// transaction. If the file can't be opened or read, or storage fails, the
// transaction is rolled back and the previously indexed records stay visible.
func (ing *Ingester) IngestFiltered(ctx context.Context, path string, exclude PathMatcher) (*IngestReport, error) {
	report, _, err := ing.ingest(ctx, path, exclude, false)
	return report, err
}

// IngestIfChanged is IngestFiltered, except that it does nothing and
// returns unchanged == true when the stored digest already matches the file.
// The comparison is made while holding the artifact lock, so an ingest that
// committed while this call waited is observed rather than overwritten.
func (ing *Ingester) IngestIfChanged(ctx context.Context, path string, exclude PathMatcher) (report *IngestReport, unchanged bool, err error) {
	return ing.ingest(ctx, path, exclude, true)
}

func (ing *Ingester) ingest(ctx context.Context, path string, exclude PathMatcher, onlyIfChanged bool) (*IngestReport, bool, error) {
	start := time.Now()
	name := ArtifactName(path)

	unlock := ing.locks.lock(name)
	defer unlock()

	file, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open artifact %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	tx, err := ing.storage.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if onlyIfChanged {
		stored, err := tx.GetDigest(ctx, name)
		switch {
		case err == nil:
			current, err := Digest(path)
			if err != nil {
				return nil, false, fmt.Errorf("failed to hash artifact: %w", err)
			}
			if current == stored {
				return nil, true, nil
			}
		case !errors.Is(err, storage.ErrNotFound):
			return nil, false, err
		}
	}

	if _, err := tx.DeleteArtifact(ctx, name); err != nil {
		return nil, false, fmt.Errorf("failed to clear artifact %s: %w", name, err)
	}

	report := &IngestReport{
		Artifact:    name,
		ParseErrors: make([]ParseError, 0),
	}

	digester := NewDigestReader(file)
	reader := bufio.NewReaderSize(digester, hashBufferSize)
	lineNo := 0
	for {
		if lineNo%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if err := ing.ingestLine(ctx, tx, report, lineNo, line, exclude); err != nil {
				return nil, false, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, false, fmt.Errorf("failed to read artifact %s: %w", path, readErr)
		}
	}

	report.Digest = digester.Sum()
	if err := tx.SetDigest(ctx, name, report.Digest, report.ProcessedLines); err != nil {
		return nil, false, fmt.Errorf("failed to store digest: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit artifact %s: %w", name, err)
	}

	report.Duration = time.Since(start)
	ing.metrics.ObserveIngest(report.ProcessedLines, len(report.ParseErrors), report.Duration)
	ing.logger.Info("artifact indexed",
		zap.String("artifact", name),
		zap.Int("records", report.ProcessedLines),
		zap.Int("skipped", report.SkippedLines),
		zap.Int("excluded", report.Excluded),
		zap.Int("parse_errors", len(report.ParseErrors)),
		zap.Duration("duration", report.Duration),
	)
	return report, false, nil
}

// tagHeader holds the payload fields needed at ingest time
type tagHeader struct {
	Type string `json:"_type"`
	Path string `json:"path"`
}

// ingestLine classifies one raw line and writes it when it is a tag record.
// Only storage failures are returned.
func (ing *Ingester) ingestLine(ctx context.Context, tx storage.Tx, report *IngestReport, lineNo int, line []byte, exclude PathMatcher) error {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	report.TotalLines++

	var header tagHeader
	err := json.Unmarshal(trimmed, &header)
	if err == nil && !utf8.Valid(trimmed) {
		err = errors.New("invalid UTF-8")
	}
	if err != nil {
		pe := ParseError{Artifact: report.Artifact, Line: lineNo, Err: err}
		report.ParseErrors = append(report.ParseErrors, pe)
		ing.logger.Warn("skipping malformed artifact line",
			zap.String("artifact", report.Artifact),
			zap.Int("line", lineNo),
			zap.Error(err),
		)
		return nil
	}

	if header.Type != tagType {
		report.SkippedLines++
		return nil
	}

	sourcePath := RelativizePath(header.Path, report.Artifact)
	if exclude != nil && sourcePath != "" && exclude.MatchesPath(sourcePath) {
		report.Excluded++
		return nil
	}

	record := &storage.TagRecord{
		Artifact:   report.Artifact,
		SourcePath: sourcePath,
		Payload:    string(trimmed),
	}
	if err := tx.InsertTag(ctx, record); err != nil {
		return fmt.Errorf("failed to insert record at line %d: %w", lineNo, err)
	}
	report.ProcessedLines++
	return nil
}
