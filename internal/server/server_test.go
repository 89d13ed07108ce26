package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/catalog"
	"github.com/orlevy/toolscout/internal/compose"
	"github.com/orlevy/toolscout/internal/embedding"
	"github.com/orlevy/toolscout/internal/index"
	"github.com/orlevy/toolscout/internal/interpret"
	"github.com/orlevy/toolscout/internal/llm"
	"github.com/orlevy/toolscout/internal/rank"
	"github.com/orlevy/toolscout/internal/recommend"
	"github.com/orlevy/toolscout/internal/websearch"
)

type ServerTestSuite struct {
	suite.Suite
	server *Server
	ctx    context.Context
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	logger := zap.NewNop()
	dir := s.T().TempDir()

	records := []catalog.ToolRecord{
		{Name: "PixSqueeze", Description: "Lossless image compression utility for photos", Category: "media"},
		{Name: "LogHarvest", Description: "Centralized log aggregation and search service", Category: "observability"},
	}
	data, err := json.Marshal(records)
	require.NoError(s.T(), err)
	catalogPath := filepath.Join(dir, "tools.json")
	require.NoError(s.T(), os.WriteFile(catalogPath, data, 0o644))

	snap := index.NewSnapshot(nil)
	unconfigured := llm.New(llm.Config{}, logger)
	service := recommend.NewService(recommend.Options{
		CatalogPath: catalogPath,
		IndexDir:    filepath.Join(dir, "index"),
		Interpreter: interpret.New(nil, time.Second, logger),
		Ranker:      rank.New(snap, 15, 0.35, time.Second, logger),
		Searcher:    websearch.New(websearch.Config{}, logger),
		Composer:    compose.New(unconfigured, 5, time.Second, logger),
		Snapshot:    snap,
		Provider:    func() embedding.Provider { return embedding.NewTFIDF() },
		Logger:      logger,
	})

	s.server = New("toolscout-test", "0.0.1", service, logger)
	s.ctx = context.Background()
}

func (s *ServerTestSuite) parseResult(result *mcp.CallToolResult) map[string]any {
	require.NotEmpty(s.T(), result.Content)
	text := result.Content[0].(*mcp.TextContent).Text
	var response map[string]any
	require.NoError(s.T(), json.Unmarshal([]byte(text), &response))
	return response
}

func (s *ServerTestSuite) rebuild() {
	result, _, err := s.server.handleRebuild(s.ctx, nil, RebuildInput{})
	require.NoError(s.T(), err)
	require.False(s.T(), result.IsError)
}

func (s *ServerTestSuite) TestRecommendBeforeRebuildIsError() {
	result, _, err := s.server.handleRecommend(s.ctx, nil, RecommendInput{Query: "compress my photos"})
	require.NoError(s.T(), err)
	require.True(s.T(), result.IsError)
	require.Contains(s.T(), result.Content[0].(*mcp.TextContent).Text, "rebuild_index")
}

func (s *ServerTestSuite) TestRecommendEmptyQueryIsError() {
	result, _, err := s.server.handleRecommend(s.ctx, nil, RecommendInput{})
	require.NoError(s.T(), err)
	require.True(s.T(), result.IsError)
}

func (s *ServerTestSuite) TestRebuildThenRecommend() {
	s.rebuild()

	result, _, err := s.server.handleRecommend(s.ctx, nil, RecommendInput{Query: "compress my photos"})
	require.NoError(s.T(), err)
	require.False(s.T(), result.IsError)

	response := s.parseResult(result)
	recs := response["recommendations"].([]any)
	require.NotEmpty(s.T(), recs)
	first := recs[0].(map[string]any)
	require.Equal(s.T(), "PixSqueeze", first["name"])
	require.Equal(s.T(), "catalog", first["source"])
}

func (s *ServerTestSuite) TestRebuildReportsManifest() {
	result, _, err := s.server.handleRebuild(s.ctx, nil, RebuildInput{})
	require.NoError(s.T(), err)
	require.False(s.T(), result.IsError)

	response := s.parseResult(result)
	require.Equal(s.T(), "ok", response["status"])
	require.Equal(s.T(), float64(2), response["tools"])
	require.NotEmpty(s.T(), response["model"])
}

func (s *ServerTestSuite) TestIndexStatus() {
	result, _, err := s.server.handleStatus(s.ctx, nil, StatusInput{})
	require.NoError(s.T(), err)
	response := s.parseResult(result)
	job := response["job"].(map[string]any)
	require.Equal(s.T(), "idle", job["state"])

	s.rebuild()

	result, _, err = s.server.handleStatus(s.ctx, nil, StatusInput{})
	require.NoError(s.T(), err)
	response = s.parseResult(result)
	job = response["job"].(map[string]any)
	require.Equal(s.T(), "ready", job["state"])
	require.Equal(s.T(), float64(2), response["tools"])
}

func (s *ServerTestSuite) TestCatalogStats() {
	result, _, err := s.server.handleCatalogStats(s.ctx, nil, CatalogStatsInput{})
	require.NoError(s.T(), err)
	require.True(s.T(), result.IsError)

	s.rebuild()

	result, _, err = s.server.handleCatalogStats(s.ctx, nil, CatalogStatsInput{})
	require.NoError(s.T(), err)
	require.False(s.T(), result.IsError)

	response := s.parseResult(result)
	require.Equal(s.T(), float64(2), response["tools"])
	categories := response["categories"].(map[string]any)
	require.Equal(s.T(), float64(1), categories["media"])
}
