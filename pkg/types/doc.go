// Package types provides shared type definitions for the apilookup MCP server.
//
// # Core Types
//
// TagMatch is one ctags tag record with its commonly used fields projected
// out of the stored JSON payload:
//
//	match := types.TagMatch{
//	    ID:         42,
//	    Artifact:   "math",
//	    Name:       "sqrt",
//	    Kind:       "function",
//	    Path:       "math/sqrt.c",
//	    ReturnType: "double",
//	}
//
// Page wraps one slice of a paginated result together with the unpaginated
// total, so callers can tell whether more pages remain:
//
//	page, _ := searcher.SearchFullText(ctx, "sqrt", 0, 20)
//	if page.HasMore() {
//	    next, _ := searcher.SearchFullText(ctx, "sqrt", page.Offset+len(page.Items), 20)
//	}
package types
