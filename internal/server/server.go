// Package server exposes the recommendation engine over the Model Context
// Protocol.
package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/index"
	"github.com/orlevy/toolscout/internal/recommend"
)

// Server wraps the recommend.Service with an MCP tool surface.
type Server struct {
	server  *mcp.Server
	service *recommend.Service
	logger  *zap.Logger
}

// New creates an MCP server exposing the recommendation tools.
func New(name, version string, service *recommend.Service, logger *zap.Logger) *Server {
	s := &Server{
		service: service,
		logger:  logger,
	}

	srv := mcp.NewServer(
		&mcp.Implementation{
			Name:    name,
			Version: version,
		},
		nil,
	)
	s.registerTools(srv)
	s.server = srv
	return s
}

func (s *Server) registerTools(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "recommend_tool",
		Description: "Recommend software tools for a task described in natural language (e.g. 'compress my photos', 'monitor server uptime'). Returns ranked catalog matches with a short summary; falls back to live web search when the catalog has no good match.",
	}, s.handleRecommend)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "rebuild_index",
		Description: "Rebuild the tool search index from the catalog file. Queries keep serving the previous index until the rebuild completes.",
	}, s.handleRebuild)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "index_status",
		Description: "Report the state of the search index and any in-flight rebuild.",
	}, s.handleStatus)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "catalog_stats",
		Description: "Report catalog composition (tool count, categories) and query counters.",
	}, s.handleCatalogStats)
}

// RecommendInput defines the input for recommend_tool.
type RecommendInput struct {
	Query string `json:"query" jsonschema:"What the user wants to accomplish, in natural language (e.g. 'compress my photos', 'schedule social media posts')."`
}

func (s *Server) handleRecommend(ctx context.Context, req *mcp.CallToolRequest, input RecommendInput) (*mcp.CallToolResult, any, error) {
	if input.Query == "" {
		return errorResult("query is required"), nil, nil
	}

	resp, err := s.service.Recommend(ctx, input.Query)
	if err != nil {
		if errors.Is(err, index.ErrUnavailable) {
			return errorResult("search index is not built yet, call rebuild_index first"), nil, nil
		}
		s.logger.Error("recommendation failed", zap.String("query", input.Query), zap.Error(err))
		return errorResult(err.Error()), nil, nil
	}

	return jsonResult(resp), nil, nil
}

// RebuildInput defines the input for rebuild_index. The tool takes no
// arguments.
type RebuildInput struct{}

func (s *Server) handleRebuild(ctx context.Context, req *mcp.CallToolRequest, input RebuildInput) (*mcp.CallToolResult, any, error) {
	manifest, err := s.service.Rebuild(ctx)
	if err != nil {
		if errors.Is(err, index.ErrRebuildInProgress) {
			return errorResult("a rebuild is already in progress"), nil, nil
		}
		s.logger.Error("rebuild failed", zap.Error(err))
		return errorResult(err.Error()), nil, nil
	}

	return jsonResult(map[string]any{
		"status":    "ok",
		"tools":     manifest.Count,
		"dimension": manifest.Dim,
		"model":     manifest.ModelID,
	}), nil, nil
}

// StatusInput defines the input for index_status. The tool takes no
// arguments.
type StatusInput struct{}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(s.service.Status()), nil, nil
}

// CatalogStatsInput defines the input for catalog_stats. The tool takes no
// arguments.
type CatalogStatsInput struct{}

func (s *Server) handleCatalogStats(ctx context.Context, req *mcp.CallToolRequest, input CatalogStatsInput) (*mcp.CallToolResult, any, error) {
	cs, err := s.service.CatalogStats()
	if err != nil {
		if errors.Is(err, index.ErrUnavailable) {
			return errorResult("search index is not built yet, call rebuild_index first"), nil, nil
		}
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(cs), nil, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	data, _ := json.Marshal(v)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}

// Run serves MCP requests on the given transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}
