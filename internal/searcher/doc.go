// Package searcher implements the query layer over the tag index.
//
// Operations:
//   - LookupExact: case-sensitive name match, unpaginated, LRU-cached
//   - SearchFullText: FTS5 match expression, ordered by rank then id
//   - ListFilesForArtifact: distinct source paths, lexicographic
//   - ListFunctionsInFile: function and prototype names, by line
//   - ListArtifacts: registry entries in indexing order
//
// # Pagination
//
// Paginated operations take offset and limit, both >= 0, and return a
// types.Page whose TotalCount ignores paging. limit = 0 returns no items but
// still reports TotalCount. Negative values fail with types.ErrInvalidPage.
//
// # Caching
//
// Exact lookups are cached under the store's write generation, so any
// committed ingestion makes earlier entries unreachable without an explicit
// flush.
package searcher
