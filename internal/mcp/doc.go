// Package mcp implements the Model Context Protocol (MCP) server for apilookup.
//
// The server exposes the ctags index to AI coding assistants over stdio:
//   - search_declarations: exact, case-sensitive name lookup
//   - search_full_text: FTS5 match over tag payloads
//   - list_indexed_artifacts: every indexed API
//   - list_artifact_files: distinct source paths of one API
//   - list_functions_in_file: function and prototype names in line order
//   - generate_and_index: run ctags over a source tree and index the output
//   - get_status: index statistics and health
//
// # Responses
//
// Every tool answers with a JSON text payload. Paginated tools echo the
// offset and limit they applied and report the unpaginated total:
//
//	{
//	  "success": true,
//	  "name": "sqrt",
//	  "count": 1,
//	  "total_count": 1,
//	  "offset": 0,
//	  "limit": 100,
//	  "declarations": [
//	    {"name": "sqrt", "signature": "(double x)", "return_type": "double", ...}
//	  ]
//	}
//
// limit defaults to 100 and may not exceed 1000; both are configurable.
// limit 0 returns no items but still reports total_count.
//
// # Errors
//
// Handlers never return Go errors. Failures are tool results with isError
// set and a structured body:
//
//	{"success": false, "error": "limit must be between 0 and 1000", "code": -32602}
//
// Error codes:
//   - -32602: Invalid params (missing arguments, bad paging, malformed FTS query)
//   - -32603: Internal error (storage failure)
//   - -32002: Indexing in progress (another generate_and_index is running)
//   - -32005: ctags binary not found
//   - -32006: ctags exited non-zero; details carry exit_code, stderr and stdout
//
// # Logging
//
// stdout carries the protocol, so all logging goes to stderr through zap.
package mcp
