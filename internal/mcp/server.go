package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/apilookup-mcp/internal/ctags"
	"github.com/dshills/apilookup-mcp/internal/indexer"
	"github.com/dshills/apilookup-mcp/internal/logger"
	"github.com/dshills/apilookup-mcp/internal/searcher"
	"github.com/dshills/apilookup-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "apilookup-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"

	// DefaultLimit is the page size used when a tool call omits limit
	DefaultLimit = 100
	// DefaultMaxLimit is the largest page size a tool call may request
	DefaultMaxLimit = 1000
)

// Deps are the components the tool handlers delegate to
type Deps struct {
	Storage   storage.Storage
	Searcher  *searcher.Searcher
	Scheduler *indexer.Scheduler
	Runner    *ctags.Runner
}

// Options tune the tool surface
type Options struct {
	ArtifactsDir string // where generate_and_index writes artifacts
	DefaultLimit int
	MaxLimit     int
	Logger       *zap.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	storage   storage.Storage
	searcher  *searcher.Searcher
	scheduler *indexer.Scheduler
	runner    *ctags.Runner
	logger    *zap.Logger

	indexLock    indexer.IndexLock
	artifactsDir string
	defaultLimit int
	maxLimit     int
}

// NewServer creates a new MCP server instance. The caller owns the
// lifecycle of every dependency; the server never closes storage.
func NewServer(deps Deps, opts Options) (*Server, error) {
	if deps.Storage == nil || deps.Searcher == nil || deps.Scheduler == nil || deps.Runner == nil {
		return nil, errors.New("storage, searcher, scheduler and runner are required")
	}
	if opts.ArtifactsDir == "" {
		return nil, errors.New("artifacts directory is required")
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}

	s := &Server{
		mcp:          server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		storage:      deps.Storage,
		searcher:     deps.Searcher,
		scheduler:    deps.Scheduler,
		runner:       deps.Runner,
		logger:       logger.OrNop(opts.Logger),
		artifactsDir: opts.ArtifactsDir,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
	}

	s.registerTools()
	return s, nil
}

// MCPServer exposes the underlying server, mainly for in-process transports
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Serve starts the MCP server on stdio and blocks until the client
// disconnects or ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio",
		zap.String("name", ServerName),
		zap.String("version", ServerVersion),
		zap.String("artifacts_dir", s.artifactsDir),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcp)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(s.searchDeclarationsTool(), s.handleSearchDeclarations)
	s.mcp.AddTool(s.searchFullTextTool(), s.handleSearchFullText)
	s.mcp.AddTool(s.listIndexedArtifactsTool(), s.handleListIndexedArtifacts)
	s.mcp.AddTool(s.listArtifactFilesTool(), s.handleListArtifactFiles)
	s.mcp.AddTool(s.listFunctionsInFileTool(), s.handleListFunctionsInFile)
	s.mcp.AddTool(s.generateAndIndexTool(), s.handleGenerateAndIndex)
	s.mcp.AddTool(s.getStatusTool(), s.handleGetStatus)
}
