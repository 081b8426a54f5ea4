package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/apilookup-mcp/internal/ctags"
	"github.com/dshills/apilookup-mcp/internal/indexer"
	"github.com/dshills/apilookup-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another generate_and_index run is active
	ErrorCodeToolNotFound       = -32005 // The ctags binary could not be executed
	ErrorCodeToolFailed         = -32006 // ctags exited with a non-zero status
)

// handleSearchDeclarations handles the search_declarations tool invocation
func (s *Server) handleSearchDeclarations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, mcpErr := toolArgs(request)
	if mcpErr != nil {
		return s.failure("search_declarations", mcpErr)
	}

	name := getStringDefault(args, "name", "")
	if strings.TrimSpace(name) == "" {
		return s.failure("search_declarations", missingParam("name"))
	}
	offset, limit, mcpErr := s.pagination(args)
	if mcpErr != nil {
		return s.failure("search_declarations", mcpErr)
	}

	matches, err := s.searcher.LookupExact(ctx, name)
	if err != nil {
		return s.failure("search_declarations", classifyError(err))
	}

	page := pageOf(matches, offset, limit)
	response := map[string]interface{}{
		"success":      true,
		"name":         name,
		"count":        len(page),
		"total_count":  len(matches),
		"offset":       offset,
		"limit":        limit,
		"declarations": page,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchFullText handles the search_full_text tool invocation
func (s *Server) handleSearchFullText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, mcpErr := toolArgs(request)
	if mcpErr != nil {
		return s.failure("search_full_text", mcpErr)
	}

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return s.failure("search_full_text", missingParam("query"))
	}
	offset, limit, mcpErr := s.pagination(args)
	if mcpErr != nil {
		return s.failure("search_full_text", mcpErr)
	}

	page, err := s.searcher.SearchFullText(ctx, query, offset, limit)
	if err != nil {
		return s.failure("search_full_text", classifyError(err))
	}

	response := map[string]interface{}{
		"success":     true,
		"query":       query,
		"count":       len(page.Items),
		"total_count": page.TotalCount,
		"offset":      page.Offset,
		"limit":       page.Limit,
		"has_more":    page.HasMore(),
		"results":     page.Items,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListIndexedArtifacts handles the list_indexed_artifacts tool invocation
func (s *Server) handleListIndexedArtifacts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, mcpErr := toolArgs(request); mcpErr != nil {
		return s.failure("list_indexed_artifacts", mcpErr)
	}

	artifacts, err := s.searcher.ListArtifacts(ctx)
	if err != nil {
		return s.failure("list_indexed_artifacts", classifyError(err))
	}

	response := map[string]interface{}{
		"success":     true,
		"count":       len(artifacts),
		"total_count": len(artifacts),
		"artifacts":   artifacts,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListArtifactFiles handles the list_artifact_files tool invocation
func (s *Server) handleListArtifactFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, mcpErr := toolArgs(request)
	if mcpErr != nil {
		return s.failure("list_artifact_files", mcpErr)
	}

	artifact := getStringDefault(args, "artifact", "")
	if strings.TrimSpace(artifact) == "" {
		return s.failure("list_artifact_files", missingParam("artifact"))
	}
	offset, limit, mcpErr := s.pagination(args)
	if mcpErr != nil {
		return s.failure("list_artifact_files", mcpErr)
	}

	page, err := s.searcher.ListFilesForArtifact(ctx, artifact, offset, limit)
	if err != nil {
		return s.failure("list_artifact_files", classifyError(err))
	}

	response := map[string]interface{}{
		"success":     true,
		"artifact":    artifact,
		"count":       len(page.Items),
		"total_count": page.TotalCount,
		"offset":      page.Offset,
		"limit":       page.Limit,
		"has_more":    page.HasMore(),
		"files":       page.Items,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListFunctionsInFile handles the list_functions_in_file tool invocation
func (s *Server) handleListFunctionsInFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, mcpErr := toolArgs(request)
	if mcpErr != nil {
		return s.failure("list_functions_in_file", mcpErr)
	}

	filePath := getStringDefault(args, "file_path", "")
	if strings.TrimSpace(filePath) == "" {
		return s.failure("list_functions_in_file", missingParam("file_path"))
	}
	offset, limit, mcpErr := s.pagination(args)
	if mcpErr != nil {
		return s.failure("list_functions_in_file", mcpErr)
	}

	page, err := s.searcher.ListFunctionsInFile(ctx, filePath, offset, limit)
	if err != nil {
		return s.failure("list_functions_in_file", classifyError(err))
	}

	response := map[string]interface{}{
		"success":     true,
		"file_path":   filePath,
		"count":       len(page.Items),
		"total_count": page.TotalCount,
		"offset":      page.Offset,
		"limit":       page.Limit,
		"has_more":    page.HasMore(),
		"functions":   page.Items,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGenerateAndIndex handles the generate_and_index tool invocation
func (s *Server) handleGenerateAndIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, mcpErr := toolArgs(request)
	if mcpErr != nil {
		return s.failure("generate_and_index", mcpErr)
	}

	sourceDir := strings.TrimSpace(getStringDefault(args, "source_directory", ""))
	if sourceDir == "" {
		return s.failure("generate_and_index", missingParam("source_directory"))
	}

	if !s.indexLock.TryAcquire() {
		return s.failure("generate_and_index", newMCPError(ErrorCodeIndexingInProgress,
			"indexing already in progress, try again later", nil))
	}
	defer s.indexLock.Release()

	start := time.Now()
	generated, err := s.runner.Generate(ctx, sourceDir, s.artifactsDir)
	if err != nil {
		return s.failure("generate_and_index", classifyError(err))
	}

	var exclude indexer.PathMatcher
	if generated.Exclusions != nil {
		exclude = generated.Exclusions
	}
	result, err := s.scheduler.SyncArtifact(ctx, generated.OutputFile, exclude)
	if err != nil {
		return s.failure("generate_and_index", classifyError(err))
	}

	response := map[string]interface{}{
		"success":     true,
		"artifact":    result.Artifact,
		"output_file": generated.OutputFile,
		"excludes":    generated.Excludes,
		"reindexed":   !result.Skipped,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if result.Report != nil {
		response["records"] = result.Report.ProcessedLines
		response["skipped_lines"] = result.Report.SkippedLines
		response["excluded"] = result.Report.Excluded
		response["parse_errors"] = len(result.Report.ParseErrors)
		response["message"] = fmt.Sprintf("generated and indexed %d records for %s", result.Report.ProcessedLines, result.Artifact)
	} else {
		response["message"] = fmt.Sprintf("%s is unchanged; index left as is", result.Artifact)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, mcpErr := toolArgs(request); mcpErr != nil {
		return s.failure("get_status", mcpErr)
	}

	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return s.failure("get_status", newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		}))
	}

	var lastIndexed interface{}
	if !status.LastIndexedAt.IsZero() {
		lastIndexed = status.LastIndexedAt.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"success":         true,
		"schema_version":  status.SchemaVersion,
		"last_indexed_at": lastIndexed,
		"statistics": map[string]interface{}{
			"artifacts_count": status.ArtifactsCount,
			"records_count":   status.RecordsCount,
			"unique_names":    status.UniqueNames,
			"index_size_mb":   status.IndexSizeMB,
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"shadow_index_in_sync": status.Health.ShadowIndexInSync,
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// failure logs a failed tool call and converts it to an error result
func (s *Server) failure(tool string, e *MCPError) (*mcp.CallToolResult, error) {
	fields := []zap.Field{
		zap.String("tool", tool),
		zap.Int("code", e.Code),
		zap.String("error", e.Message),
	}
	if e.Code == ErrorCodeInvalidParams || e.Code == ErrorCodeIndexingInProgress {
		s.logger.Warn("tool call rejected", fields...)
	} else {
		s.logger.Error("tool call failed", fields...)
	}
	return e.Result(), nil
}

// pagination reads offset/limit, applying the server's default and cap
func (s *Server) pagination(args map[string]interface{}) (int, int, *MCPError) {
	offset, ok := getIntDefault(args, "offset", 0)
	if !ok {
		return 0, 0, notInteger("offset", args["offset"])
	}
	limit, ok := getIntDefault(args, "limit", s.defaultLimit)
	if !ok {
		return 0, 0, notInteger("limit", args["limit"])
	}

	if offset < 0 {
		return 0, 0, newMCPError(ErrorCodeInvalidParams, "offset must be >= 0", map[string]interface{}{
			"param": "offset",
			"value": offset,
		})
	}
	if limit < 0 || limit > s.maxLimit {
		return 0, 0, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 0 and %d", s.maxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	return offset, limit, nil
}

// pageOf returns items[offset:offset+limit], clamped to the slice
func pageOf[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// toolArgs extracts the argument object; absent arguments are an empty object
func toolArgs(request mcp.CallToolRequest) (map[string]interface{}, *MCPError) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func notInteger(name string, value interface{}) *MCPError {
	return newMCPError(ErrorCodeInvalidParams, name+" must be an integer", map[string]interface{}{
		"param": name,
		"value": value,
	})
}

func missingParam(name string) *MCPError {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

// classifyError maps domain errors to MCP error codes
func classifyError(err error) *MCPError {
	var invocation *ctags.InvocationError
	switch {
	case errors.Is(err, types.ErrInvalidPage),
		errors.Is(err, types.ErrInvalidQuery),
		errors.Is(err, ctags.ErrInvalidSource):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	case errors.Is(err, ctags.ErrToolNotFound):
		return newMCPError(ErrorCodeToolNotFound, err.Error(), nil)
	case errors.As(err, &invocation):
		return newMCPError(ErrorCodeToolFailed, "ctags command failed", map[string]interface{}{
			"exit_code": invocation.ExitCode,
			"stderr":    invocation.Stderr,
			"stdout":    invocation.Stdout,
		})
	default:
		return newMCPError(ErrorCodeInternalError, err.Error(), nil)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP tool failure
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// Result renders the error as a tool result with isError set
func (e *MCPError) Result() *mcp.CallToolResult {
	payload := map[string]interface{}{
		"success": false,
		"error":   e.Message,
		"code":    e.Code,
	}
	if e.Data != nil {
		payload["details"] = e.Data
	}
	result := mcp.NewToolResultText(formatJSON(payload))
	result.IsError = true
	return result
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value.
// ok is false when the key is present but not a whole number.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) (int, bool) {
	raw, present := args[key]
	if !present || raw == nil {
		return defaultValue, true
	}
	switch val := raw.(type) {
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	default:
		return 0, false
	}
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
