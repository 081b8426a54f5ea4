package storage

import (
	"context"
	"encoding/hex"
	"time"
)

// Storage defines the interface for persisting and querying indexed tag data
type Storage interface {
	// Artifact registry operations
	GetArtifact(ctx context.Context, name string) (*Artifact, error)
	GetDigest(ctx context.Context, name string) (Digest, error)
	SetDigest(ctx context.Context, name string, digest Digest, recordCount int) error
	ListArtifacts(ctx context.Context) ([]*Artifact, error)

	// Record operations
	ReplaceArtifact(ctx context.Context, name string, records []TagRecord, digest Digest) error
	RemoveArtifact(ctx context.Context, name string) error
	CountRecords(ctx context.Context) (int, error)
	CountDistinctNames(ctx context.Context) (int, error)

	// Query operations
	LookupByName(ctx context.Context, name string) ([]*Tag, error)
	SearchText(ctx context.Context, query string, offset, limit int) ([]*Tag, int, error)
	ListSourcePaths(ctx context.Context, artifact string, offset, limit int) ([]string, int, error)
	ListFunctions(ctx context.Context, sourcePath string, kinds []string, offset, limit int) ([]*Tag, int, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)
	CheckShadowIndex(ctx context.Context) error

	// Generation increases after every committed write. Readers use it
	// to invalidate anything derived from earlier contents.
	Generation() uint64

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a write transaction used by the ingestion pipeline to stream
// records for one artifact. Nothing is visible to readers before Commit.
type Tx interface {
	DeleteArtifact(ctx context.Context, name string) (int, error)
	InsertTag(ctx context.Context, record *TagRecord) error
	SetDigest(ctx context.Context, name string, digest Digest, recordCount int) error
	GetDigest(ctx context.Context, name string) (Digest, error)
	Commit() error
	Rollback() error
}

// Digest is the SHA-256 content hash of an artifact file
type Digest [32]byte

// String returns the hex encoding of the digest
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// TagRecord is one ingested tag line. Payload holds the original JSON
// verbatim; SourcePath is the payload path relativized at ingest time.
type TagRecord struct {
	ID         int64
	Artifact   string
	SourcePath string
	Payload    string
	CreatedAt  time.Time
}

// Artifact is the registry entry for one indexed artifact file
type Artifact struct {
	ID          int64
	Name        string
	Digest      Digest
	RecordCount int
	IndexedAt   time.Time
}

// Tag is a TagRecord with the commonly queried payload fields projected out
type Tag struct {
	ID         int64
	Artifact   string
	SourcePath string
	Name       string
	Kind       string
	Line       int
	Signature  string
	TypeRef    string
	Scope      string
	Payload    string
}

// Status contains statistics about the index
type Status struct {
	ArtifactsCount int
	RecordsCount   int
	UniqueNames    int
	IndexSizeMB    float64
	SchemaVersion  string
	LastIndexedAt  time.Time
	Health         HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible bool
	ShadowIndexInSync  bool
}
