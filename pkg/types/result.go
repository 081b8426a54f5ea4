package types

import (
	"strings"
	"time"
)

// typeRefPrefix is how ctags marks a plain type name in the typeref field
const typeRefPrefix = "typename:"

// TagMatch is a tag record as returned to callers
type TagMatch struct {
	// Identification
	ID       int64  `json:"id"`
	Artifact string `json:"artifact"`

	// Projected from the ctags payload
	Name       string `json:"name"`
	Kind       string `json:"kind,omitempty"`
	Path       string `json:"path,omitempty"`
	Line       int    `json:"line,omitempty"`
	Signature  string `json:"signature,omitempty"`
	ReturnType string `json:"return_type,omitempty"`
	Scope      string `json:"scope,omitempty"`

	// Payload is the original JSON line, verbatim
	Payload string `json:"-"`
}

// ReturnTypeFromTypeRef strips the "typename:" marker from a ctags typeref
func ReturnTypeFromTypeRef(typeRef string) string {
	return strings.TrimPrefix(typeRef, typeRefPrefix)
}

// Page is one slice of an ordered result set.
// TotalCount is the unpaginated match count.
type Page[T any] struct {
	Items      []T
	TotalCount int
	Offset     int
	Limit      int
}

// HasMore reports whether results remain past this page
func (p *Page[T]) HasMore() bool {
	return p.Offset+len(p.Items) < p.TotalCount
}

// ArtifactInfo describes one indexed artifact
type ArtifactInfo struct {
	Name        string    `json:"name"`
	Digest      string    `json:"digest"`
	RecordCount int       `json:"record_count"`
	IndexedAt   time.Time `json:"indexed_at"`
}
