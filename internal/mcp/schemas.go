package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// paginationProperties adds offset/limit to a tool's input schema
func paginationProperties(props map[string]interface{}, defaultLimit, maxLimit int) map[string]interface{} {
	props["offset"] = map[string]interface{}{
		"type":        "integer",
		"description": "Number of results to skip",
		"default":     0,
		"minimum":     0,
	}
	props["limit"] = map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of results to return",
		"default":     defaultLimit,
		"minimum":     0,
		"maximum":     maxLimit,
	}
	return props
}

// searchDeclarationsTool returns the tool definition for search_declarations
func (s *Server) searchDeclarationsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_declarations",
		Description: "Look up function and type declarations by exact, case-sensitive name across all indexed APIs",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: paginationProperties(map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Exact symbol name, e.g. SDL_CreateWindow",
				},
			}, s.defaultLimit, s.maxLimit),
			Required: []string{"name"},
		},
	}
}

// searchFullTextTool returns the tool definition for search_full_text
func (s *Server) searchFullTextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_full_text",
		Description: "Full-text search over indexed tag records using SQLite FTS5 syntax (terms, prefix*, AND/OR/NOT, \"phrases\")",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: paginationProperties(map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "FTS5 match expression",
				},
			}, s.defaultLimit, s.maxLimit),
			Required: []string{"query"},
		},
	}
}

// listIndexedArtifactsTool returns the tool definition for list_indexed_artifacts
func (s *Server) listIndexedArtifactsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_indexed_artifacts",
		Description: "List every indexed API with its record count and indexing time",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listArtifactFilesTool returns the tool definition for list_artifact_files
func (s *Server) listArtifactFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_artifact_files",
		Description: "List the distinct source files of an indexed API, sorted by path",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: paginationProperties(map[string]interface{}{
				"artifact": map[string]interface{}{
					"type":        "string",
					"description": "Indexed API name, as shown by list_indexed_artifacts",
				},
			}, s.defaultLimit, s.maxLimit),
			Required: []string{"artifact"},
		},
	}
}

// listFunctionsInFileTool returns the tool definition for list_functions_in_file
func (s *Server) listFunctionsInFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_functions_in_file",
		Description: "List function and prototype names declared in a source file, in line order",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: paginationProperties(map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Source path as shown by list_artifact_files",
				},
			}, s.defaultLimit, s.maxLimit),
			Required: []string{"file_path"},
		},
	}
}

// generateAndIndexTool returns the tool definition for generate_and_index
func (s *Server) generateAndIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "generate_and_index",
		Description: "Run Universal Ctags recursively over a source directory and index the result; .gitignore entries are excluded",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"source_directory": map[string]interface{}{
					"type":        "string",
					"description": "Directory containing the sources or headers to index; its base name becomes the API name",
				},
			},
			Required: []string{"source_directory"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func (s *Server) getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
